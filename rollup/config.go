// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"
)

type Config struct {
	Owner                      string   `koanf:"owner"`
	Validators                 []string `koanf:"validators"`
	ValidatorWhitelistDisabled bool     `koanf:"validator-whitelist-disabled"`
	FastConfirmer              string   `koanf:"fast-confirmer"`
	LoserStakeEscrow           string   `koanf:"loser-stake-escrow"`
	BaseStake                  string   `koanf:"base-stake"`
	ConfirmPeriodBlocks        uint64   `koanf:"confirm-period-blocks"`
	ExtraChallengeTimeBlocks   uint64   `koanf:"extra-challenge-time-blocks"`
	MinimumAssertionPeriod     uint64   `koanf:"minimum-assertion-period"`
	WasmModuleRoot             string   `koanf:"wasm-module-root"`
	StakeEscalation            bool     `koanf:"stake-escalation"`

	owner            common.Address
	validators       []common.Address
	fastConfirmer    common.Address
	loserStakeEscrow common.Address
	baseStake        *big.Int
	wasmModuleRoot   common.Hash
}

var ConfigDefault = Config{
	Owner:                      "",
	Validators:                 nil,
	ValidatorWhitelistDisabled: false,
	FastConfirmer:              "",
	LoserStakeEscrow:           "",
	BaseStake:                  "1000000000000000000",
	ConfirmPeriodBlocks:        45818,
	ExtraChallengeTimeBlocks:   200,
	MinimumAssertionPeriod:     75,
	WasmModuleRoot:             "",
	StakeEscalation:            false,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".owner", ConfigDefault.Owner, "address allowed to call administrative functions")
	f.StringSlice(prefix+".validators", ConfigDefault.Validators, "addresses allowed to stake and create assertions")
	f.Bool(prefix+".validator-whitelist-disabled", ConfigDefault.ValidatorWhitelistDisabled, "allow any address to act as a validator")
	f.String(prefix+".fast-confirmer", ConfigDefault.FastConfirmer, "address allowed to confirm nodes before their deadline (empty to disable)")
	f.String(prefix+".loser-stake-escrow", ConfigDefault.LoserStakeEscrow, "address receiving the forfeited part of lost stakes")
	f.String(prefix+".base-stake", ConfigDefault.BaseStake, "minimum stake in wei")
	f.Uint64(prefix+".confirm-period-blocks", ConfigDefault.ConfirmPeriodBlocks, "blocks a node must wait before it can be confirmed")
	f.Uint64(prefix+".extra-challenge-time-blocks", ConfigDefault.ExtraChallengeTimeBlocks, "blocks added to both challenge clocks")
	f.Uint64(prefix+".minimum-assertion-period", ConfigDefault.MinimumAssertionPeriod, "minimum blocks between a node and its child")
	f.String(prefix+".wasm-module-root", ConfigDefault.WasmModuleRoot, "wasm module root new nodes commit to")
	f.Bool(prefix+".stake-escalation", ConfigDefault.StakeEscalation, "raise the required stake while the first unresolved node is past its deadline")
}

func parseAddress(name string, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func (c *Config) Validate() error {
	var err error
	if c.owner, err = parseAddress("owner", c.Owner); err != nil {
		return err
	}
	if c.fastConfirmer, err = parseAddress("fast-confirmer", c.FastConfirmer); err != nil {
		return err
	}
	if c.loserStakeEscrow, err = parseAddress("loser-stake-escrow", c.LoserStakeEscrow); err != nil {
		return err
	}
	c.validators = make([]common.Address, 0, len(c.Validators))
	for _, v := range c.Validators {
		addr, err := parseAddress("validator", v)
		if err != nil {
			return err
		}
		c.validators = append(c.validators, addr)
	}
	stake, ok := new(big.Int).SetString(c.BaseStake, 10)
	if !ok || stake.Sign() <= 0 {
		return fmt.Errorf("invalid base-stake %q", c.BaseStake)
	}
	c.baseStake = stake
	if c.ConfirmPeriodBlocks == 0 {
		return errors.New("confirm-period-blocks must be positive")
	}
	if c.WasmModuleRoot != "" {
		c.wasmModuleRoot = common.HexToHash(c.WasmModuleRoot)
	}
	return nil
}
