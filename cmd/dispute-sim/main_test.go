// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/staker"
)

func parseConfig(t *testing.T, args ...string) *DisputeSimConfig {
	t.Helper()
	config, err := ParseDisputeSim(args)
	require.NoError(t, err)
	return config
}

func TestParseDisputeSimDefaults(t *testing.T) {
	config := parseConfig(t)
	require.Equal(t, uint64(100), config.Rollup.ConfirmPeriodBlocks)
	require.Equal(t, uint64(5), config.Rollup.MinimumAssertionPeriod)
	require.Equal(t, "100", config.Rollup.BaseStake)
	require.Equal(t, []string{SimConfigDefault.HonestValidator, SimConfigDefault.DishonestValidator}, config.Rollup.Validators)
	require.Equal(t, staker.DefaultChallengeManagerConfig, config.Player)
	require.Equal(t, "", config.Journal.DataDir)

	config = parseConfig(t, "--rollup.confirm-period-blocks", "50", "--sim.dishonest-first", "--conf.string", `{"sim":{"dishonest-step":5}}`)
	require.Equal(t, uint64(50), config.Rollup.ConfirmPeriodBlocks)
	require.True(t, config.Sim.DishonestFirst)
	require.Equal(t, uint64(5), config.Sim.DishonestStep)
}

func TestParseDisputeSimRejectsInvalid(t *testing.T) {
	for name, args := range map[string][]string{
		"same validators":       {"--sim.dishonest-validator", SimConfigDefault.HonestValidator},
		"bad address":           {"--sim.honest-validator", "alice"},
		"divergence at start":   {"--sim.dishonest-step", "0"},
		"divergence past block": {"--sim.dishonest-step", "8"},
		"block not asserted":    {"--sim.dishonest-block", "4"},
		"zero confirm period":   {"--rollup.confirm-period-blocks", "0"},
		"unknown option":        {"--conf.string", `{"sim":{"colour":1}}`},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDisputeSim(args)
			require.Error(t, err)
		})
	}
}

func TestRunDispute(t *testing.T) {
	ctx := context.Background()
	honest := common.HexToAddress(SimConfigDefault.HonestValidator)
	dishonest := common.HexToAddress(SimConfigDefault.DishonestValidator)

	t.Run("honest asserter proves a step", func(t *testing.T) {
		outcome, err := run(ctx, parseConfig(t))
		require.NoError(t, err)
		require.Equal(t, honest, outcome.Winner)
		require.Equal(t, dishonest, outcome.Loser)
		require.Equal(t, uint64(1), outcome.ConfirmedNode)
		require.Equal(t, 1, outcome.Moves[staker.MoveOneStepProof])
		require.Equal(t, 1, outcome.Moves[staker.MoveExecution])
		require.Zero(t, outcome.Moves[staker.MoveTimeout])
		require.NotZero(t, outcome.Journaled)
	})

	t.Run("dishonest asserter times out", func(t *testing.T) {
		outcome, err := run(ctx, parseConfig(t, "--sim.dishonest-first"))
		require.NoError(t, err)
		require.Equal(t, honest, outcome.Winner)
		require.Equal(t, uint64(2), outcome.ConfirmedNode)
		require.Equal(t, 1, outcome.Moves[staker.MoveTimeout])
		require.Zero(t, outcome.Moves[staker.MoveOneStepProof])
	})

	t.Run("persistent journal", func(t *testing.T) {
		dir := t.TempDir()
		outcome, err := run(ctx, parseConfig(t, "--journal.data-dir", dir))
		require.NoError(t, err)
		require.NotZero(t, outcome.Journaled)
	})

	t.Run("gives up on an endless challenge", func(t *testing.T) {
		_, err := run(ctx, parseConfig(t, "--sim.dishonest-first", "--sim.max-blocks", "20"))
		require.ErrorContains(t, err, "unresolved")
	})
}
