// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/util/testhelpers"
)

func randomGlobalState() GoGlobalState {
	return GoGlobalState{
		BlockHash:  testhelpers.RandomHash(),
		SendRoot:   testhelpers.RandomHash(),
		Batch:      testhelpers.RandomUint64(0, 100),
		PosInBatch: testhelpers.RandomUint64(0, 100),
	}
}

func TestBlockStateHashStatuses(t *testing.T) {
	gs := randomGlobalState().Hash()
	seen := make(map[common.Hash]MachineStatus)
	for _, status := range []MachineStatus{MachineStatusFinished, MachineStatusErrored, MachineStatusTooFar} {
		h, err := BlockStateHash(status, gs)
		require.NoError(t, err)
		require.NotContains(t, seen, h, "%v collides with %v", status, seen[h])
		seen[h] = status
	}
	_, err := BlockStateHash(MachineStatusRunning, gs)
	require.ErrorIs(t, err, ErrBadBlockStatus)

	tooFarA, err := BlockStateHash(MachineStatusTooFar, gs)
	require.NoError(t, err)
	tooFarB, err := BlockStateHash(MachineStatusTooFar, randomGlobalState().Hash())
	require.NoError(t, err)
	require.Equal(t, tooFarA, tooFarB)
}

func TestEndMachineHash(t *testing.T) {
	gs := randomGlobalState().Hash()
	finished, err := EndMachineHash(MachineStatusFinished, gs)
	require.NoError(t, err)
	block, err := BlockStateHash(MachineStatusFinished, gs)
	require.NoError(t, err)
	require.NotEqual(t, block, finished)
	_, err = EndMachineHash(MachineStatus(9), gs)
	require.ErrorIs(t, err, ErrBadBlockStatus)
}

func TestHashChallengeStateBindsEveryField(t *testing.T) {
	segments := []common.Hash{testhelpers.RandomHash(), testhelpers.RandomHash()}
	base := HashChallengeState(0, 4, segments)
	require.Equal(t, base, HashChallengeState(0, 4, append([]common.Hash(nil), segments...)))
	require.NotEqual(t, base, HashChallengeState(1, 4, segments))
	require.NotEqual(t, base, HashChallengeState(0, 5, segments))
	require.NotEqual(t, base, HashChallengeState(0, 4, []common.Hash{segments[1], segments[0]}))
	require.NotEqual(t, base, HashChallengeState(0, 4, segments[:1]))
}

func TestExecutionHash(t *testing.T) {
	a := &Assertion{
		BeforeState: ExecutionState{GlobalState: randomGlobalState(), MachineStatus: MachineStatusFinished},
		AfterState:  ExecutionState{GlobalState: randomGlobalState(), MachineStatus: MachineStatusFinished},
		NumBlocks:   4,
	}
	h, err := ExecutionHash(a)
	require.NoError(t, err)
	before, err := BlockStateHash(MachineStatusFinished, a.BeforeState.GlobalState.Hash())
	require.NoError(t, err)
	after, err := BlockStateHash(MachineStatusFinished, a.AfterState.GlobalState.Hash())
	require.NoError(t, err)
	require.Equal(t, HashChallengeState(0, 4, []common.Hash{before, after}), h)

	a.AfterState.MachineStatus = MachineStatusRunning
	_, err = ExecutionHash(a)
	require.ErrorIs(t, err, ErrBadBlockStatus)
}

func TestNodeHashChaining(t *testing.T) {
	last, exec, acc, root := testhelpers.RandomHash(), testhelpers.RandomHash(), testhelpers.RandomHash(), testhelpers.RandomHash()
	require.NotEqual(t, NodeHash(false, last, exec, acc, root), NodeHash(true, last, exec, acc, root))
	require.Equal(t, NodeHash(true, last, exec, acc, root), NodeHash(true, last, exec, acc, root))
	require.NotEqual(t, NodeHash(true, last, exec, acc, root), NodeHash(true, last, exec, acc, testhelpers.RandomHash()))
}

func TestConfirmHash(t *testing.T) {
	gs := randomGlobalState()
	a := &Assertion{AfterState: ExecutionState{GlobalState: gs}}
	require.Equal(t, ConfirmHash(gs.BlockHash, gs.SendRoot), AssertionConfirmHash(a))
	require.NotEqual(t, ConfirmHash(gs.BlockHash, gs.SendRoot), ConfirmHash(gs.SendRoot, gs.BlockHash))
}

func TestRequiredBatches(t *testing.T) {
	for _, tc := range []struct {
		name   string
		state  ExecutionState
		expect uint64
	}{
		{"start of batch", ExecutionState{GoGlobalState{Batch: 3}, MachineStatusFinished}, 3},
		{"inside batch", ExecutionState{GoGlobalState{Batch: 3, PosInBatch: 1}, MachineStatusFinished}, 4},
		{"errored", ExecutionState{GoGlobalState{Batch: 3}, MachineStatusErrored}, 4},
		{"saturates", ExecutionState{GoGlobalState{Batch: math.MaxUint64, PosInBatch: 1}, MachineStatusFinished}, math.MaxUint64},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, tc.state.RequiredBatches())
		})
	}
}

func TestComputeStateHash(t *testing.T) {
	state := GenesisExecutionState()
	h := ComputeStateHash(&state, GenesisInboxMaxCount)
	require.NotEqual(t, h, ComputeStateHash(&state, GenesisInboxMaxCount+1))
	state.MachineStatus = MachineStatusErrored
	require.NotEqual(t, h, ComputeStateHash(&state, GenesisInboxMaxCount))
}

func TestArtificialBlockReference(t *testing.T) {
	blocks := NewArtificialBlockReference(10)
	require.Equal(t, uint64(10), blocks.Get())
	require.Equal(t, uint64(15), blocks.Add(5))
	blocks.Set(math.MaxUint64 - 1)
	require.Equal(t, uint64(math.MaxUint64), blocks.Add(5))
}
