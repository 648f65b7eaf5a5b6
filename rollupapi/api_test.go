// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollupapi

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/testing/mocks"
	toys "github.com/offchainlabs/rollupcore/testing/toys/execution"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	owner = common.HexToAddress("0x00000000000000000000000000000000000000ae")
)

func setupRollup(t *testing.T) *rollup.Rollup {
	t.Helper()
	config := rollup.ConfigDefault
	config.Owner = owner.Hex()
	config.Validators = []string{alice.Hex(), bob.Hex()}
	config.BaseStake = "100"
	config.ConfirmPeriodBlocks = 100
	config.MinimumAssertionPeriod = 5
	blocks := protocol.NewArtificialBlockReference(5)
	inbox := mocks.NewMemoryInbox()
	inbox.AddBatches(2)
	r, err := rollup.NewRollup(&config, inbox, toys.NewProver(4, 8), blocks)
	require.NoError(t, err)
	blocks.Add(config.MinimumAssertionPeriod)

	genesis, err := r.GetNode(0)
	require.NoError(t, err)
	before := genesis.Assertion.AfterState
	numBlocks := genesis.InboxMaxCount * 4
	for _, exec := range []struct {
		staker common.Address
		exec   *toys.Execution
	}{
		{alice, toys.NewHonestExecution(4, 8)},
		{bob, toys.NewForgedExecution(4, 8, toys.Divergence{Block: 1, Step: 3})},
	} {
		_, err := r.CreateAssertion(exec.staker, 0, &protocol.Assertion{
			BeforeState: before,
			AfterState:  exec.exec.StateAfter(before.GlobalState, numBlocks),
			NumBlocks:   numBlocks,
		}, common.Hash{}, big.NewInt(100))
		require.NoError(t, err)
	}
	return r
}

func dial(t *testing.T, r rollup.Reader) *rpc.Client {
	t.Helper()
	server, err := NewServer(r)
	require.NoError(t, err)
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func TestRollupQueries(t *testing.T) {
	ctx := context.Background()
	r := setupRollup(t)
	client := dial(t, r)

	var num hexutil.Uint64
	require.NoError(t, client.CallContext(ctx, &num, "rollup_latestNodeCreated"))
	require.Equal(t, hexutil.Uint64(2), num)
	require.NoError(t, client.CallContext(ctx, &num, "rollup_latestConfirmed"))
	require.Equal(t, hexutil.Uint64(0), num)
	require.NoError(t, client.CallContext(ctx, &num, "rollup_firstUnresolvedNode"))
	require.Equal(t, hexutil.Uint64(1), num)
	require.NoError(t, client.CallContext(ctx, &num, "rollup_zombieCount"))
	require.Equal(t, hexutil.Uint64(0), num)

	var paused bool
	require.NoError(t, client.CallContext(ctx, &paused, "rollup_paused"))
	require.False(t, paused)

	var stake hexutil.Big
	require.NoError(t, client.CallContext(ctx, &stake, "rollup_requiredStake"))
	require.Equal(t, r.RequiredStake(), stake.ToInt())

	var stakers []common.Address
	require.NoError(t, client.CallContext(ctx, &stakers, "rollup_stakers"))
	require.ElementsMatch(t, []common.Address{alice, bob}, stakers)

	t.Run("node", func(t *testing.T) {
		var node NodeResult
		require.NoError(t, client.CallContext(ctx, &node, "rollup_getNode", hexutil.Uint64(2)))
		want, err := r.GetNode(2)
		require.NoError(t, err)
		require.Equal(t, hexutil.Uint64(0), node.PrevNum)
		require.Equal(t, want.NodeHash, node.NodeHash)
		require.Equal(t, want.Status.String(), node.Status)
		require.Equal(t, want.Assertion.AfterState.GlobalState.BlockHash, node.Assertion.AfterState.GlobalState.BlockHash)
	})

	t.Run("staker", func(t *testing.T) {
		var info StakerResult
		require.NoError(t, client.CallContext(ctx, &info, "rollup_stakerInfo", bob))
		require.True(t, info.IsStaked)
		require.False(t, info.IsZombie)
		require.Equal(t, hexutil.Uint64(2), info.LatestStakedNode)
		require.Equal(t, int64(100), info.AmountStaked.ToInt().Int64())
	})
}

func TestRollupQueryErrorsCarryReason(t *testing.T) {
	ctx := context.Background()
	client := dial(t, setupRollup(t))

	var node NodeResult
	err := client.CallContext(ctx, &node, "rollup_getNode", hexutil.Uint64(9))
	require.ErrorContains(t, err, "DOESNT_EXIST")
	var dataErr rpc.DataError
	require.True(t, errors.As(err, &dataErr))
	require.Equal(t, "DOESNT_EXIST", dataErr.ErrorData())

	var info ChallengeResult
	err = client.CallContext(ctx, &info, "rollup_challengeInfo", hexutil.Uint64(1))
	require.ErrorContains(t, err, "NO_CHAL")
}

func TestRollupChallengeInfo(t *testing.T) {
	ctx := context.Background()
	r := setupRollup(t)
	id, err := r.CreateChallenge(alice, [2]common.Address{alice, bob}, [2]uint64{1, 2})
	require.NoError(t, err)
	client := dial(t, r)

	var info ChallengeResult
	require.NoError(t, client.CallContext(ctx, &info, "rollup_challengeInfo", hexutil.Uint64(id)))
	require.Equal(t, alice, info.Asserter)
	require.Equal(t, bob, info.Challenger)
	require.Equal(t, bob, info.CurrentResponder)
	require.Equal(t, []hexutil.Uint64{1, 2}, info.Nodes)
	require.Len(t, info.Segments, 2)
	require.False(t, info.TimedOut)

	var stakerInfo StakerResult
	require.NoError(t, client.CallContext(ctx, &stakerInfo, "rollup_stakerInfo", alice))
	require.Equal(t, hexutil.Uint64(id), stakerInfo.CurrentChallenge)
}

func TestRollupEvents(t *testing.T) {
	ctx := context.Background()
	r := setupRollup(t)
	client := dial(t, r)

	var events []struct {
		Seq   hexutil.Uint64 `json:"seq"`
		Block hexutil.Uint64 `json:"block"`
		Type  string         `json:"type"`
	}
	require.NoError(t, client.CallContext(ctx, &events, "rollup_events", hexutil.Uint64(0), hexutil.Uint64(0)))
	history := r.Events(0, maxEventsPerCall)
	require.Len(t, events, len(history))
	var created int
	for i, ev := range events {
		require.Equal(t, hexutil.Uint64(history[i].Seq), ev.Seq)
		require.Equal(t, eventType(history[i].Event), ev.Type)
		if ev.Type == "NodeCreated" {
			created++
		}
	}
	require.Equal(t, 2, created)

	require.NoError(t, client.CallContext(ctx, &events, "rollup_events", hexutil.Uint64(1), hexutil.Uint64(1)))
	require.Len(t, events, 1)
	require.Equal(t, hexutil.Uint64(history[1].Seq), events[0].Seq)
}

func TestEventType(t *testing.T) {
	require.Equal(t, "NodeConfirmed", eventType(&protocol.NodeConfirmedEvent{}))
	require.Equal(t, "ChallengeBisected", eventType(&protocol.ChallengeBisectedEvent{}))
}
