// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/testing/mocks"
	toys "github.com/offchainlabs/rollupcore/testing/toys/execution"
)

const (
	messagesPerBatch = 4
	stepsPerBlock    = 8
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	owner = common.HexToAddress("0x00000000000000000000000000000000000000ae")
)

type game struct {
	t      *testing.T
	blocks *protocol.ArtificialBlockReference
	rollup *rollup.Rollup
	honest *toys.Execution
	forged *toys.Execution
}

func newGame(t *testing.T) *game {
	t.Helper()
	config := rollup.ConfigDefault
	config.Owner = owner.Hex()
	config.Validators = []string{alice.Hex(), bob.Hex(), carol.Hex()}
	config.BaseStake = "100"
	config.ConfirmPeriodBlocks = 100
	config.ExtraChallengeTimeBlocks = 10
	config.MinimumAssertionPeriod = 5
	blocks := protocol.NewArtificialBlockReference(0)
	inbox := mocks.NewMemoryInbox()
	inbox.AddBatches(2)
	r, err := rollup.NewRollup(&config, inbox, toys.NewProver(messagesPerBatch, stepsPerBlock), blocks)
	require.NoError(t, err)
	return &game{
		t:      t,
		blocks: blocks,
		rollup: r,
		honest: toys.NewHonestExecution(messagesPerBatch, stepsPerBlock),
		forged: toys.NewForgedExecution(messagesPerBatch, stepsPerBlock, toys.Divergence{Block: 1, Step: 3}),
	}
}

func (g *game) assert(exec *toys.Execution, staker common.Address) uint64 {
	g.t.Helper()
	genesis, err := g.rollup.GetNode(0)
	require.NoError(g.t, err)
	before := genesis.Assertion.AfterState
	numBlocks := genesis.InboxMaxCount * messagesPerBatch
	nodeNum, err := g.rollup.CreateAssertion(staker, 0, &protocol.Assertion{
		BeforeState: before,
		AfterState:  exec.StateAfter(before.GlobalState, numBlocks),
		NumBlocks:   numBlocks,
	}, common.Hash{}, big.NewInt(100))
	require.NoError(g.t, err)
	return nodeNum
}

func (g *game) player(provider StateProvider, actingAs common.Address, challengeId uint64) *ChallengeManager {
	g.t.Helper()
	config := DefaultChallengeManagerConfig
	m, err := NewChallengeManager(g.rollup, provider, actingAs, challengeId, &config)
	require.NoError(g.t, err)
	return m
}

func (g *game) confirm(caller common.Address, nodeNum uint64) error {
	node, err := g.rollup.GetNode(nodeNum)
	require.NoError(g.t, err)
	gs := node.Assertion.AfterState.GlobalState
	return g.rollup.ConfirmNextNode(caller, gs.BlockHash, gs.SendRoot)
}

func (g *game) move(m *ChallengeManager, want Move) {
	g.t.Helper()
	g.blocks.Add(1)
	got, err := m.Act(context.Background())
	require.NoError(g.t, err)
	require.Equal(g.t, want, got, "%v vs %v", want, got)
}

func TestHonestAsserterWinsByOneStepProof(t *testing.T) {
	ctx := context.Background()
	g := newGame(t)
	g.blocks.Set(5)
	g.assert(g.honest, alice)
	g.assert(g.forged, bob)
	id, err := g.rollup.CreateChallenge(carol, [2]common.Address{alice, bob}, [2]uint64{1, 2})
	require.NoError(t, err)

	honest := g.player(g.honest, alice, id)
	forged := g.player(g.forged, bob, id)
	require.True(t, forged.IsMyTurn())
	require.False(t, honest.IsMyTurn())

	t.Run("waiting for the opponent is not a move", func(t *testing.T) {
		move, err := honest.Act(ctx)
		require.NoError(t, err)
		require.Equal(t, MoveNone, move)
	})

	g.move(forged, MoveBisect)
	g.move(honest, MoveExecution)
	info, err := g.rollup.ChallengeInfo(id)
	require.NoError(t, err)
	require.Equal(t, uint64(stepsPerBlock), info.SegmentsLength)

	g.move(forged, MoveBisect)
	g.move(honest, MoveOneStepProof)

	_, err = g.rollup.ChallengeInfo(id)
	require.ErrorIs(t, err, protocol.ErrNoChallenge)
	_, err = forged.Act(ctx)
	require.ErrorIs(t, err, protocol.ErrNoChallenge)

	require.True(t, g.rollup.StakerInfo(bob).IsZombie)
	node2, err := g.rollup.GetNode(2)
	require.NoError(t, err)
	require.Equal(t, rollup.NodeRejected, node2.Status)

	g.blocks.Set(105)
	require.NoError(t, g.confirm(alice, 1))
	require.Equal(t, uint64(1), g.rollup.LatestConfirmed())
}

func TestForgedAsserterRunsOutOfTime(t *testing.T) {
	ctx := context.Background()
	g := newGame(t)
	g.blocks.Set(5)
	g.assert(g.forged, bob)
	g.assert(g.honest, alice)
	id, err := g.rollup.CreateChallenge(carol, [2]common.Address{bob, alice}, [2]uint64{1, 2})
	require.NoError(t, err)

	honest := g.player(g.honest, alice, id)
	forged := g.player(g.forged, bob, id)

	g.move(honest, MoveBisect)
	g.move(forged, MoveExecution)
	g.move(honest, MoveBisect)

	// Every step the forged machine can prove ends where the honest one does.
	_, err = forged.Act(ctx)
	require.ErrorIs(t, err, protocol.ErrSameOneStepEnd)
	require.True(t, forged.IsMyTurn())

	var move Move
	for i := 0; i < 200 && move != MoveTimeout; i++ {
		g.blocks.Add(1)
		move, err = honest.Act(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, MoveTimeout, move)
	require.True(t, g.rollup.StakerInfo(bob).IsZombie)

	_, err = forged.Act(ctx)
	require.ErrorIs(t, err, protocol.ErrNoChallenge)

	require.NoError(t, g.confirm(alice, 2))
	require.Equal(t, uint64(2), g.rollup.LatestConfirmed())
}

func TestPlayerOutOfTime(t *testing.T) {
	g := newGame(t)
	g.blocks.Set(5)
	g.assert(g.honest, alice)
	g.assert(g.forged, bob)
	id, err := g.rollup.CreateChallenge(carol, [2]common.Address{alice, bob}, [2]uint64{1, 2})
	require.NoError(t, err)
	forged := g.player(g.forged, bob, id)

	g.blocks.Set(200)
	_, err = forged.Act(context.Background())
	require.ErrorIs(t, err, ErrOutOfTime)
}

func TestChallengeManagerRequiresParty(t *testing.T) {
	g := newGame(t)
	g.blocks.Set(5)
	g.assert(g.honest, alice)
	g.assert(g.forged, bob)
	id, err := g.rollup.CreateChallenge(carol, [2]common.Address{alice, bob}, [2]uint64{1, 2})
	require.NoError(t, err)

	config := DefaultChallengeManagerConfig
	_, err = NewChallengeManager(g.rollup, g.honest, carol, id, &config)
	require.ErrorContains(t, err, "not a party")
	_, err = NewChallengeManager(g.rollup, g.honest, alice, id+1, &config)
	require.ErrorIs(t, err, protocol.ErrNoChallenge)
}

func TestMoveString(t *testing.T) {
	require.Equal(t, "one step proof", MoveOneStepProof.String())
	require.Equal(t, "unknown", Move(42).String())
}
