// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/testhelpers"
)

type result struct {
	challengeId uint64
	winner      common.Address
	loser       common.Address
}

type recordingReceiver struct {
	results []result
	fail    error
}

func (r *recordingReceiver) CompleteChallenge(challengeId uint64, winner common.Address, loser common.Address) error {
	if r.fail != nil {
		return r.fail
	}
	r.results = append(r.results, result{challengeId, winner, loser})
	return nil
}

type eventRecorder struct {
	events []protocol.RollupEvent
}

func (e *eventRecorder) Emit(ev protocol.RollupEvent) {
	e.events = append(e.events, ev)
}

// stepProver follows a fixed transition table between machine hashes.
type stepProver struct {
	next map[common.Hash]common.Hash
}

func (p *stepProver) StartMachineHash(globalStateHash common.Hash, wasmModuleRoot common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("start"), globalStateHash.Bytes(), wasmModuleRoot.Bytes())
}

func (p *stepProver) ProveOneStep(_ context.Context, _ ExecutionContext, _ uint64, beforeHash common.Hash, _ []byte) (common.Hash, error) {
	after, ok := p.next[beforeHash]
	if !ok {
		return common.Hash{}, errors.New("unknown machine")
	}
	return after, nil
}

type env struct {
	blocks     *protocol.ArtificialBlockReference
	receiver   *recordingReceiver
	sink       *eventRecorder
	prover     *stepProver
	manager    *Manager
	asserter   common.Address
	challenger common.Address
	start      protocol.GoGlobalState
	end        protocol.GoGlobalState
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		blocks:     protocol.NewArtificialBlockReference(100),
		receiver:   &recordingReceiver{},
		sink:       &eventRecorder{},
		prover:     &stepProver{next: make(map[common.Hash]common.Hash)},
		asserter:   testhelpers.RandomAddress(),
		challenger: testhelpers.RandomAddress(),
		start:      protocol.GoGlobalState{BlockHash: testhelpers.RandomHash(), Batch: 1},
		end:        protocol.GoGlobalState{BlockHash: testhelpers.RandomHash(), Batch: 2},
	}
	e.manager = NewManager(e.receiver, e.prover, e.blocks, e.sink)
	return e
}

func (e *env) create(t *testing.T, numBlocks uint64, asserterTime uint64, challengerTime uint64) uint64 {
	t.Helper()
	id, err := e.manager.CreateChallenge(&CreateParams{
		StartAndEndMachineStatuses: [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusFinished},
		StartAndEndGlobalStates:    [2]protocol.GoGlobalState{e.start, e.end},
		NumBlocks:                  numBlocks,
		Asserter:                   e.asserter,
		Challenger:                 e.challenger,
		AsserterTimeLeft:           asserterTime,
		ChallengerTimeLeft:         challengerTime,
	})
	require.NoError(t, err)
	return id
}

func randomSegments(first common.Hash, n int) []common.Hash {
	segs := make([]common.Hash, n)
	segs[0] = first
	for i := 1; i < n; i++ {
		segs[i] = testhelpers.RandomHash()
	}
	return segs
}

func TestCreateChallenge(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 10, 50, 60)
	require.Equal(t, uint64(1), id)

	info, err := e.manager.Info(id)
	require.NoError(t, err)
	require.Equal(t, ModeBlock, info.Mode)
	require.Equal(t, e.challenger, info.CurrentResponder, "challenger moves first")
	require.Equal(t, uint64(50), info.AsserterTimeLeft)
	require.Equal(t, uint64(60), info.ChallengerTimeLeft)
	require.Equal(t, uint64(0), info.SegmentsStart)
	require.Equal(t, uint64(10), info.SegmentsLength)
	require.Len(t, info.Segments, 2)
	require.Equal(t, uint64(10), info.Segments[1].Position)
	require.Equal(t, uint64(2), info.MaxInboxMessages, "finishing at the start of batch 2 reads two batches")

	startHash, err := protocol.BlockStateHash(protocol.MachineStatusFinished, e.start.Hash())
	require.NoError(t, err)
	require.Equal(t, startHash, info.Segments[0].Hash)
	require.Equal(t, protocol.HashChallengeState(0, 10, info.RawSegments()), info.StateHash)

	_, ok := e.sink.events[0].(*protocol.InitiatedChallengeEvent)
	require.True(t, ok)
	_, ok = e.sink.events[1].(*protocol.ChallengeBisectedEvent)
	require.True(t, ok)

	t.Run("empty claim", func(t *testing.T) {
		_, err := e.manager.CreateChallenge(&CreateParams{
			StartAndEndMachineStatuses: [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusFinished},
			NumBlocks:                  0,
		})
		require.ErrorIs(t, err, protocol.ErrEmptyAssertion)
	})
	t.Run("running status has no block hash", func(t *testing.T) {
		_, err := e.manager.CreateChallenge(&CreateParams{
			StartAndEndMachineStatuses: [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusRunning},
			NumBlocks:                  1,
		})
		require.ErrorIs(t, err, protocol.ErrBadBlockStatus)
		require.Equal(t, uint64(1), e.manager.TotalChallengesCreated())
	})
}

func TestBisectionRules(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 100, 1000, 1000)
	info, err := e.manager.Info(id)
	require.NoError(t, err)
	sel := info.Selection(0)
	start := info.Segments[0].Hash

	t.Run("wrong turn", func(t *testing.T) {
		err := e.manager.BisectExecution(e.asserter, id, sel, randomSegments(start, 41))
		require.ErrorIs(t, err, protocol.ErrWrongTurn)
		require.ErrorIs(t, err, protocol.ErrStateConflict)
	})
	t.Run("unknown challenge", func(t *testing.T) {
		err := e.manager.BisectExecution(e.challenger, 99, sel, randomSegments(start, 41))
		require.ErrorIs(t, err, protocol.ErrNoChallenge)
	})
	t.Run("selection not committed", func(t *testing.T) {
		bad := info.Selection(0)
		bad.OldSegmentsLength = 99
		err := e.manager.BisectExecution(e.challenger, id, bad, randomSegments(start, 41))
		require.ErrorIs(t, err, protocol.ErrBisectionState)
		require.ErrorIs(t, err, protocol.ErrConsistency)
	})
	t.Run("missing selection", func(t *testing.T) {
		err := e.manager.BisectExecution(e.challenger, id, nil, randomSegments(start, 41))
		require.ErrorIs(t, err, protocol.ErrBisectionState)
		statuses := [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusFinished}
		err = e.manager.ChallengeExecution(e.challenger, id, nil, statuses, [2]common.Hash{}, 1)
		require.ErrorIs(t, err, protocol.ErrConsistency)
		err = e.manager.OneStepProveExecution(context.Background(), e.challenger, id, nil, nil)
		require.ErrorIs(t, err, protocol.ErrConsistency)
	})
	t.Run("position out of range", func(t *testing.T) {
		err := e.manager.BisectExecution(e.challenger, id, info.Selection(1), randomSegments(start, 41))
		require.ErrorIs(t, err, protocol.ErrBadChallengePosition)
	})
	t.Run("wrong degree", func(t *testing.T) {
		err := e.manager.BisectExecution(e.challenger, id, sel, randomSegments(start, 3))
		require.ErrorIs(t, err, protocol.ErrWrongDegree)
	})
	t.Run("wrong start", func(t *testing.T) {
		err := e.manager.BisectExecution(e.challenger, id, sel, randomSegments(testhelpers.RandomHash(), 41))
		require.ErrorIs(t, err, protocol.ErrWrongStart)
	})
	t.Run("same end", func(t *testing.T) {
		segs := randomSegments(start, 41)
		segs[40] = info.Segments[1].Hash
		err := e.manager.BisectExecution(e.challenger, id, sel, segs)
		require.ErrorIs(t, err, protocol.ErrSameEnd)
	})

	after, err := e.manager.Info(id)
	require.NoError(t, err)
	require.Equal(t, info, after, "failed moves must not change the challenge")

	t.Run("valid bisection", func(t *testing.T) {
		segs := randomSegments(start, 41)
		require.NoError(t, e.manager.BisectExecution(e.challenger, id, sel, segs))
		info, err := e.manager.Info(id)
		require.NoError(t, err)
		require.Equal(t, e.asserter, info.CurrentResponder)
		require.Equal(t, uint64(100), info.SegmentsLength)
		require.Len(t, info.Segments, 41)
		// 100 / 40 leaves a remainder of 20 for the last piece.
		require.Equal(t, uint64(2), info.Segments[1].Position)
		require.Equal(t, uint64(78), info.Segments[39].Position)
		require.Equal(t, uint64(100), info.Segments[40].Position)

		s, l := ExtractChallengeSegment(info.Selection(39))
		require.Equal(t, uint64(78), s)
		require.Equal(t, uint64(22), l)
	})
}

func TestChessClock(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 400, 30, 20)
	total := func() uint64 {
		info, err := e.manager.Info(id)
		require.NoError(t, err)
		return info.AsserterTimeLeft + info.ChallengerTimeLeft
	}
	previous := total()

	move := func(mover common.Address, elapsed uint64) {
		e.blocks.Add(elapsed)
		info, err := e.manager.Info(id)
		require.NoError(t, err)
		positions, err := BisectionPositions(info.Segments[0].Position, info.Segments[1].Position)
		require.NoError(t, err)
		segs := randomSegments(info.Segments[0].Hash, len(positions))
		require.NoError(t, e.manager.BisectExecution(mover, id, info.Selection(0), segs))
		current := total()
		require.LessOrEqual(t, current, previous)
		require.Equal(t, previous-elapsed, current, "only the mover is charged")
		previous = current
	}

	move(e.challenger, 5)
	info, err := e.manager.Info(id)
	require.NoError(t, err)
	require.Equal(t, uint64(15), info.ChallengerTimeLeft)
	require.Equal(t, uint64(30), info.AsserterTimeLeft)

	move(e.asserter, 7)
	info, err = e.manager.Info(id)
	require.NoError(t, err)
	require.Equal(t, uint64(15), info.ChallengerTimeLeft)
	require.Equal(t, uint64(23), info.AsserterTimeLeft)
}

func TestTimeout(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 8, 30, 20)

	e.blocks.Add(20)
	err := e.manager.Timeout(id)
	require.ErrorIs(t, err, protocol.ErrTimeoutDeadline)
	require.ErrorIs(t, err, protocol.ErrTiming)
	timedOut, err := e.manager.IsTimedOut(id)
	require.NoError(t, err)
	require.False(t, timedOut, "using exactly the allowance is not a timeout")

	e.blocks.Add(1)
	timedOut, err = e.manager.IsTimedOut(id)
	require.NoError(t, err)
	require.True(t, timedOut)

	info, err := e.manager.Info(id)
	require.NoError(t, err)
	err = e.manager.BisectExecution(e.challenger, id, info.Selection(0), randomSegments(info.Segments[0].Hash, 9))
	require.ErrorIs(t, err, protocol.ErrChallengeDeadline)

	t.Run("receiver failure leaves the challenge live", func(t *testing.T) {
		e.receiver.fail = protocol.ErrPaused
		require.ErrorIs(t, e.manager.Timeout(id), protocol.ErrPaused)
		require.True(t, e.manager.Exists(id))
		e.receiver.fail = nil
	})

	require.NoError(t, e.manager.Timeout(id))
	require.Equal(t, []result{{id, e.asserter, e.challenger}}, e.receiver.results)
	require.False(t, e.manager.Exists(id))
	require.Equal(t, common.Address{}, e.manager.CurrentResponder(id))
	ended, ok := e.sink.events[len(e.sink.events)-1].(*protocol.ChallengeEndedEvent)
	require.True(t, ok)
	require.Equal(t, protocol.TerminationTimeout, ended.Kind)

	require.ErrorIs(t, e.manager.Timeout(id), protocol.ErrNoChallenge)
}

func TestExecutionChallengeAndOneStepProof(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1, 100, 100)
	info, err := e.manager.Info(id)
	require.NoError(t, err)

	honestEnd := protocol.GoGlobalState{BlockHash: testhelpers.RandomHash(), Batch: 2}
	statuses := [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusFinished}
	hashes := [2]common.Hash{e.start.Hash(), honestEnd.Hash()}

	t.Run("step count bounds", func(t *testing.T) {
		err := e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), statuses, hashes, 0)
		require.ErrorIs(t, err, protocol.ErrChallengeTooShort)
		err = e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), statuses, hashes, MaxSteps+1)
		require.ErrorIs(t, err, protocol.ErrChallengeTooLong)
	})
	t.Run("one step proof needs execution mode", func(t *testing.T) {
		err := e.manager.OneStepProveExecution(context.Background(), e.challenger, id, info.Selection(0), nil)
		require.ErrorIs(t, err, protocol.ErrNotExecutionMode)
	})

	require.NoError(t, e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), statuses, hashes, 2))
	info, err = e.manager.Info(id)
	require.NoError(t, err)
	require.Equal(t, ModeExecution, info.Mode)
	require.Equal(t, e.asserter, info.CurrentResponder)
	startMachine := e.prover.StartMachineHash(e.start.Hash(), common.Hash{})
	require.Equal(t, startMachine, info.Segments[0].Hash)

	// The asserter claims a different machine end and bisects into two steps.
	mid := testhelpers.RandomHash()
	asserterEnd := testhelpers.RandomHash()
	require.NoError(t, e.manager.BisectExecution(e.asserter, id, info.Selection(0), []common.Hash{startMachine, mid, asserterEnd}))
	info, err = e.manager.Info(id)
	require.NoError(t, err)

	t.Run("block mode move rejected", func(t *testing.T) {
		err := e.manager.ChallengeExecution(e.challenger, id, info.Selection(1), statuses, hashes, 1)
		require.ErrorIs(t, err, protocol.ErrNotBlockMode)
	})

	e.prover.next[mid] = asserterEnd
	t.Run("proof agreeing with the committed end", func(t *testing.T) {
		err := e.manager.OneStepProveExecution(context.Background(), e.challenger, id, info.Selection(1), nil)
		require.ErrorIs(t, err, protocol.ErrSameOneStepEnd)
		require.True(t, e.manager.Exists(id))
	})

	e.prover.next[mid] = testhelpers.RandomHash()
	require.NoError(t, e.manager.OneStepProveExecution(context.Background(), e.challenger, id, info.Selection(1), nil))
	require.Equal(t, []result{{id, e.challenger, e.asserter}}, e.receiver.results)
	require.False(t, e.manager.Exists(id))
}

func TestOneStepProofFailsClosedOnLongSegment(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 1, 100, 100)
	info, err := e.manager.Info(id)
	require.NoError(t, err)
	statuses := [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusFinished}
	hashes := [2]common.Hash{e.start.Hash(), testhelpers.RandomHash()}
	require.NoError(t, e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), statuses, hashes, 5))

	info, err = e.manager.Info(id)
	require.NoError(t, err)
	err = e.manager.OneStepProveExecution(context.Background(), e.asserter, id, info.Selection(0), nil)
	require.ErrorIs(t, err, protocol.ErrTooLong)
	require.True(t, e.manager.Exists(id))
}

func TestChallengeExecutionRequiresSingleBlock(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 3, 100, 100)
	info, err := e.manager.Info(id)
	require.NoError(t, err)
	statuses := [2]protocol.MachineStatus{protocol.MachineStatusFinished, protocol.MachineStatusFinished}
	hashes := [2]common.Hash{e.start.Hash(), testhelpers.RandomHash()}
	err = e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), statuses, hashes, 5)
	require.ErrorIs(t, err, protocol.ErrTooLong)
}

func TestHaltedMachineCannotChange(t *testing.T) {
	e := newEnv(t)
	id, err := e.manager.CreateChallenge(&CreateParams{
		StartAndEndMachineStatuses: [2]protocol.MachineStatus{protocol.MachineStatusErrored, protocol.MachineStatusFinished},
		StartAndEndGlobalStates:    [2]protocol.GoGlobalState{e.start, e.end},
		NumBlocks:                  1,
		Asserter:                   e.asserter,
		Challenger:                 e.challenger,
		AsserterTimeLeft:           10,
		ChallengerTimeLeft:         10,
	})
	require.NoError(t, err)
	info, err := e.manager.Info(id)
	require.NoError(t, err)

	errored := [2]protocol.MachineStatus{protocol.MachineStatusErrored, protocol.MachineStatusErrored}
	err = e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), errored, [2]common.Hash{e.start.Hash(), testhelpers.RandomHash()}, 1)
	require.ErrorIs(t, err, protocol.ErrHaltedChange)

	require.NoError(t, e.manager.ChallengeExecution(e.challenger, id, info.Selection(0), errored, [2]common.Hash{e.start.Hash(), e.start.Hash()}, 1))
	require.Equal(t, []result{{id, e.challenger, e.asserter}}, e.receiver.results)
	ended, ok := e.sink.events[len(e.sink.events)-1].(*protocol.ChallengeEndedEvent)
	require.True(t, ok)
	require.Equal(t, protocol.TerminationBlockProof, ended.Kind)
}

func TestClearChallenge(t *testing.T) {
	e := newEnv(t)
	id := e.create(t, 4, 10, 10)
	require.Equal(t, e.challenger, e.manager.CurrentResponder(id))
	require.NoError(t, e.manager.ClearChallenge(id))
	require.Equal(t, common.Address{}, e.manager.CurrentResponder(id))
	require.Empty(t, e.receiver.results)
	require.ErrorIs(t, e.manager.ClearChallenge(id), protocol.ErrNoChallenge)
}

// Replaying the same moves yields the same committed state no matter how
// moves of an unrelated challenge are interleaved.
func TestBisectionReplayIsDeterministic(t *testing.T) {
	play := func(e *env, id uint64, mover common.Address, salt byte) {
		info, err := e.manager.Info(id)
		require.NoError(t, err)
		positions, err := BisectionPositions(info.Segments[0].Position, info.Segments[1].Position)
		require.NoError(t, err)
		segs := make([]common.Hash, len(positions))
		segs[0] = info.Segments[0].Hash
		for i := 1; i < len(segs); i++ {
			segs[i] = crypto.Keccak256Hash(common.BigToHash(new(big.Int).SetUint64(positions[i])).Bytes(), []byte{salt})
		}
		require.NoError(t, e.manager.BisectExecution(mover, id, info.Selection(0), segs))
	}

	run := func(interleave bool) common.Hash {
		e := newEnv(t)
		e.start = protocol.GoGlobalState{Batch: 1}
		e.end = protocol.GoGlobalState{Batch: 9}
		e.blocks.Set(0)
		target := e.create(t, 5000, 1000, 1000)
		other := e.create(t, 6000, 1000, 1000)
		if interleave {
			play(e, other, e.challenger, 7)
		}
		play(e, target, e.challenger, 1)
		if interleave {
			play(e, other, e.asserter, 8)
		}
		play(e, target, e.asserter, 2)
		info, err := e.manager.Info(target)
		require.NoError(t, err)
		return info.StateHash
	}
	require.Equal(t, run(false), run(true))
}

func TestBisectionPositions(t *testing.T) {
	positions, err := BisectionPositions(10, 13)
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 11, 12, 13}, positions)

	positions, err = BisectionPositions(0, 81)
	require.NoError(t, err)
	require.Len(t, positions, 41)
	require.Equal(t, uint64(2), positions[1])
	require.Equal(t, uint64(81), positions[40])

	_, err = BisectionPositions(5, 5)
	require.Error(t, err)
}
