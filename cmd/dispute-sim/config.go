// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/rollupcore/cmd/genericconf"
	"github.com/offchainlabs/rollupcore/cmd/util"
	"github.com/offchainlabs/rollupcore/journal"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/staker"
)

type SimConfig struct {
	HonestValidator    string `koanf:"honest-validator"`
	DishonestValidator string `koanf:"dishonest-validator"`
	DishonestBlock     uint64 `koanf:"dishonest-block"`
	DishonestStep      uint64 `koanf:"dishonest-step"`
	DishonestFirst     bool   `koanf:"dishonest-first"`
	MessagesPerBatch   uint64 `koanf:"messages-per-batch"`
	StepsPerBlock      uint64 `koanf:"steps-per-block"`
	Batches            uint64 `koanf:"batches"`
	MaxBlocks          uint64 `koanf:"max-blocks"`
	KeepServing        bool   `koanf:"keep-serving"`

	honest    common.Address
	dishonest common.Address
}

var SimConfigDefault = SimConfig{
	HonestValidator:    "0x00000000000000000000000000000000000a11ce",
	DishonestValidator: "0x0000000000000000000000000000000000000b0b",
	DishonestBlock:     1,
	DishonestStep:      3,
	DishonestFirst:     false,
	MessagesPerBatch:   4,
	StepsPerBlock:      8,
	Batches:            2,
	MaxBlocks:          10000,
	KeepServing:        false,
}

func SimConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".honest-validator", SimConfigDefault.HonestValidator, "address of the validator asserting the correct execution")
	f.String(prefix+".dishonest-validator", SimConfigDefault.DishonestValidator, "address of the validator asserting a forged execution")
	f.Uint64(prefix+".dishonest-block", SimConfigDefault.DishonestBlock, "block at which the forged execution starts to diverge")
	f.Uint64(prefix+".dishonest-step", SimConfigDefault.DishonestStep, "machine step within the dishonest block at which the forged execution diverges")
	f.Bool(prefix+".dishonest-first", SimConfigDefault.DishonestFirst, "let the dishonest validator assert first, making it the asserter of the challenge")
	f.Uint64(prefix+".messages-per-batch", SimConfigDefault.MessagesPerBatch, "blocks produced by each inbox batch")
	f.Uint64(prefix+".steps-per-block", SimConfigDefault.StepsPerBlock, "machine steps needed to execute one block")
	f.Uint64(prefix+".batches", SimConfigDefault.Batches, "inbox batches posted before the validators assert")
	f.Uint64(prefix+".max-blocks", SimConfigDefault.MaxBlocks, "give up if the challenge is unresolved after this many blocks")
	f.Bool(prefix+".keep-serving", SimConfigDefault.KeepServing, "keep serving the rollup API after the dispute is settled, until interrupted")
}

func (c *SimConfig) Validate() error {
	if !common.IsHexAddress(c.HonestValidator) || !common.IsHexAddress(c.DishonestValidator) {
		return fmt.Errorf("invalid validator address %q or %q", c.HonestValidator, c.DishonestValidator)
	}
	c.honest = common.HexToAddress(c.HonestValidator)
	c.dishonest = common.HexToAddress(c.DishonestValidator)
	if c.honest == c.dishonest {
		return errors.New("honest and dishonest validators must differ")
	}
	if c.MessagesPerBatch == 0 || c.StepsPerBlock < 2 || c.Batches == 0 {
		return fmt.Errorf("messages-per-batch (%d) and batches (%d) must be positive and steps-per-block (%d) at least 2", c.MessagesPerBatch, c.Batches, c.StepsPerBlock)
	}
	if c.DishonestStep == 0 || c.DishonestStep >= c.StepsPerBlock {
		return fmt.Errorf("dishonest-step %d must lie strictly inside a block of %d steps", c.DishonestStep, c.StepsPerBlock)
	}
	if c.DishonestBlock >= c.MessagesPerBatch {
		return fmt.Errorf("dishonest-block %d is not covered by the first assertion of %d blocks", c.DishonestBlock, c.MessagesPerBatch)
	}
	return nil
}

type DisputeSimConfig struct {
	Conf          genericconf.ConfConfig          `koanf:"conf"`
	LogLevel      string                          `koanf:"log-level"`
	LogType       string                          `koanf:"log-type"`
	FileLogging   genericconf.FileLoggingConfig   `koanf:"file-logging"`
	Rollup        rollup.Config                   `koanf:"rollup"`
	Journal       journal.Config                  `koanf:"journal"`
	Player        staker.ChallengeManagerConfig   `koanf:"player"`
	Metrics       bool                            `koanf:"metrics"`
	MetricsServer genericconf.MetricsServerConfig `koanf:"metrics-server"`
	HTTP          genericconf.HTTPConfig          `koanf:"http"`
	Sim           SimConfig                       `koanf:"sim"`
}

var DisputeSimConfigDefault = DisputeSimConfig{
	Conf:          genericconf.ConfConfigDefault,
	LogLevel:      "info",
	LogType:       "plaintext",
	FileLogging:   genericconf.DefaultFileLoggingConfig,
	Rollup:        simRollupConfigDefault(),
	Journal:       journal.ConfigDefault,
	Player:        staker.DefaultChallengeManagerConfig,
	Metrics:       false,
	MetricsServer: genericconf.MetricsServerConfigDefault,
	HTTP:          genericconf.HTTPConfigDefault,
	Sim:           SimConfigDefault,
}

// simRollupConfigDefault shortens the production periods so a dispute plays
// out in a few hundred blocks.
func simRollupConfigDefault() rollup.Config {
	config := rollup.ConfigDefault
	config.Owner = "0x00000000000000000000000000000000000000ae"
	config.BaseStake = "100"
	config.ConfirmPeriodBlocks = 100
	config.ExtraChallengeTimeBlocks = 10
	config.MinimumAssertionPeriod = 5
	return config
}

func DisputeSimConfigAddOptions(f *flag.FlagSet) {
	genericconf.ConfConfigAddOptions("conf", f)
	f.String("log-level", DisputeSimConfigDefault.LogLevel, "log level, valid values are CRIT, ERROR, WARN, INFO, DEBUG, TRACE")
	f.String("log-type", DisputeSimConfigDefault.LogType, "log type (plaintext or json)")
	genericconf.FileLoggingConfigAddOptions("file-logging", f)
	rollupConfigAddOptions("rollup", f)
	journal.ConfigAddOptions("journal", f)
	staker.ChallengeManagerConfigAddOptions("player", f)
	f.Bool("metrics", DisputeSimConfigDefault.Metrics, "enable metrics")
	genericconf.MetricsServerAddOptions("metrics-server", f)
	genericconf.HTTPConfigAddOptions("http", f)
	SimConfigAddOptions("sim", f)
}

// rollupConfigAddOptions registers the rollup flags with the simulator's
// defaults.
func rollupConfigAddOptions(prefix string, f *flag.FlagSet) {
	rollup.ConfigAddOptions(prefix, f)
	defaults := simRollupConfigDefault()
	for name, value := range map[string]string{
		"owner":                       defaults.Owner,
		"base-stake":                  defaults.BaseStake,
		"confirm-period-blocks":       fmt.Sprint(defaults.ConfirmPeriodBlocks),
		"extra-challenge-time-blocks": fmt.Sprint(defaults.ExtraChallengeTimeBlocks),
		"minimum-assertion-period":    fmt.Sprint(defaults.MinimumAssertionPeriod),
	} {
		fl := f.Lookup(prefix + "." + name)
		fl.DefValue = value
		_ = fl.Value.Set(value)
	}
}

func (c *DisputeSimConfig) Validate() error {
	if err := c.Sim.Validate(); err != nil {
		return err
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	if len(c.Rollup.Validators) == 0 && !c.Rollup.ValidatorWhitelistDisabled {
		c.Rollup.Validators = []string{c.Sim.HonestValidator, c.Sim.DishonestValidator}
	}
	return c.Rollup.Validate()
}

func ParseDisputeSim(args []string) (*DisputeSimConfig, error) {
	f := flag.NewFlagSet("", flag.ContinueOnError)
	DisputeSimConfigAddOptions(f)

	k, err := util.BeginCommonParse(f, args)
	if err != nil {
		return nil, err
	}
	var config DisputeSimConfig
	if err := util.EndCommonParse(k, &config); err != nil {
		return nil, err
	}

	if config.Conf.Dump {
		c, err := util.DumpConfig(k, map[string]interface{}{"conf.dump": false})
		if err != nil {
			return nil, err
		}
		fmt.Println(string(c))
		return nil, errDumped
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

var errDumped = errors.New("configuration dumped")
