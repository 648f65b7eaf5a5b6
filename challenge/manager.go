// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

var (
	challengesCreatedCounter = metrics.NewRegisteredCounter("arb/challenge/created", nil)
	challengesEndedCounter   = metrics.NewRegisteredCounter("arb/challenge/ended", nil)
	bisectionsCounter        = metrics.NewRegisteredCounter("arb/challenge/bisections", nil)
	oneStepProofsCounter     = metrics.NewRegisteredCounter("arb/challenge/onestepproofs", nil)
	timeoutsCounter          = metrics.NewRegisteredCounter("arb/challenge/timeouts", nil)
	activeChallengesGauge    = metrics.NewRegisteredGauge("arb/challenge/active", nil)
	executionChallengesGauge = metrics.NewRegisteredGauge("arb/challenge/execution", nil)
)

type modeRequirement uint8

const (
	requireAny modeRequirement = iota
	requireBlock
	requireExecution
)

// CreateParams describes the claim the asserter defends.
type CreateParams struct {
	WasmModuleRoot             common.Hash
	StartAndEndMachineStatuses [2]protocol.MachineStatus
	StartAndEndGlobalStates    [2]protocol.GoGlobalState
	NumBlocks                  uint64
	Asserter                   common.Address
	Challenger                 common.Address
	AsserterTimeLeft           uint64
	ChallengerTimeLeft         uint64
}

// Manager owns the challenge table. It is not safe for concurrent use; the
// rollup serializes every call into it.
type Manager struct {
	challenges             map[uint64]*Challenge
	totalChallengesCreated uint64
	receiver               ResultReceiver
	prover                 OneStepProver
	blocks                 protocol.BlockReference
	sink                   protocol.EventSink
}

func NewManager(receiver ResultReceiver, prover OneStepProver, blocks protocol.BlockReference, sink protocol.EventSink) *Manager {
	return &Manager{
		challenges: make(map[uint64]*Challenge),
		receiver:   receiver,
		prover:     prover,
		blocks:     blocks,
		sink:       sink,
	}
}

// CreateChallenge opens a block-mode challenge over the asserter's claim.
// The challenger moves first.
func (m *Manager) CreateChallenge(params *CreateParams) (uint64, error) {
	if params.NumBlocks == 0 {
		return 0, protocol.ErrEmptyAssertion
	}
	segments := make([]common.Hash, 2)
	for i := range segments {
		h, err := protocol.BlockStateHash(params.StartAndEndMachineStatuses[i], params.StartAndEndGlobalStates[i].Hash())
		if err != nil {
			return 0, err
		}
		segments[i] = h
	}
	endState := protocol.ExecutionState{
		GlobalState:   params.StartAndEndGlobalStates[1],
		MachineStatus: params.StartAndEndMachineStatuses[1],
	}

	m.totalChallengesCreated++
	challengeId := m.totalChallengesCreated
	c := &Challenge{
		Id:               challengeId,
		WasmModuleRoot:   params.WasmModuleRoot,
		MaxInboxMessages: endState.RequiredBatches(),
		Asserter:         params.Asserter,
		Challenger:       params.Challenger,
		Next:             Participant{Addr: params.Asserter, TimeLeft: params.AsserterTimeLeft},
		Current:          Participant{Addr: params.Challenger, TimeLeft: params.ChallengerTimeLeft},
		LastMoveBlock:    m.blocks.Get(),
		Mode:             ModeBlock,
	}
	m.challenges[challengeId] = c
	challengesCreatedCounter.Inc(1)
	activeChallengesGauge.Update(int64(len(m.challenges)))

	m.sink.Emit(&protocol.InitiatedChallengeEvent{
		ChallengeId:        challengeId,
		Asserter:           params.Asserter,
		Challenger:         params.Challenger,
		AsserterTimeLeft:   params.AsserterTimeLeft,
		ChallengerTimeLeft: params.ChallengerTimeLeft,
		StartState:         params.StartAndEndGlobalStates[0],
		EndState:           params.StartAndEndGlobalStates[1],
	})
	m.completeBisection(c, 0, params.NumBlocks, segments)
	log.Info(
		"Challenge initiated",
		"challenge", challengeId,
		"asserter", params.Asserter,
		"challenger", params.Challenger,
		"asserterTimeLeft", params.AsserterTimeLeft,
		"challengerTimeLeft", params.ChallengerTimeLeft,
		"numBlocks", params.NumBlocks,
	)
	return challengeId, nil
}

// beginTurn performs every check shared by moves: the challenge is live, the
// caller is on turn and still has time, and the selection extends the
// committed state.
func (m *Manager) beginTurn(caller common.Address, challengeId uint64, selection *SegmentSelection, required modeRequirement) (*Challenge, error) {
	c, ok := m.challenges[challengeId]
	if !ok {
		return nil, errors.Wrapf(protocol.ErrNoChallenge, "challenge %d", challengeId)
	}
	if caller != c.Current.Addr {
		return nil, errors.Wrapf(protocol.ErrWrongTurn, "challenge %d expects %v, got %v", challengeId, c.Current.Addr, caller)
	}
	if c.IsTimedOut(m.blocks.Get()) {
		return nil, errors.Wrapf(protocol.ErrChallengeDeadline, "challenge %d", challengeId)
	}
	if selection == nil {
		return nil, errors.Wrapf(protocol.ErrBisectionState, "challenge %d: nil selection", challengeId)
	}
	switch required {
	case requireBlock:
		if c.Mode != ModeBlock {
			return nil, protocol.ErrNotBlockMode
		}
	case requireExecution:
		if c.Mode != ModeExecution {
			return nil, protocol.ErrNotExecutionMode
		}
	}
	if selection.Hash() != c.StateHash {
		return nil, errors.Wrapf(protocol.ErrBisectionState, "challenge %d", challengeId)
	}
	if len(selection.OldSegments) < 2 || selection.ChallengePosition >= uint64(len(selection.OldSegments)-1) {
		return nil, protocol.ErrBadChallengePosition
	}
	return c, nil
}

// endTurn charges the mover for the blocks since the previous move and hands
// the turn to the other party.
func (m *Manager) endTurn(c *Challenge) {
	now := m.blocks.Get()
	current := c.Current
	current.TimeLeft -= c.timeUsedSinceLastMove(now)
	c.Current = c.Next
	c.Next = current
	c.LastMoveBlock = now
}

func (m *Manager) completeBisection(c *Challenge, challengeStart uint64, challengeLength uint64, newSegments []common.Hash) {
	c.StateHash = protocol.HashChallengeState(challengeStart, challengeLength, newSegments)
	c.SegmentsStart = challengeStart
	c.SegmentsLength = challengeLength
	c.Segments = append([]common.Hash(nil), newSegments...)
	m.sink.Emit(&protocol.ChallengeBisectedEvent{
		ChallengeId:             c.Id,
		ChallengeRoot:           c.StateHash,
		ChallengedSegmentStart:  challengeStart,
		ChallengedSegmentLength: challengeLength,
		ChainHashes:             append([]common.Hash(nil), newSegments...),
	})
}

// BisectExecution splits the selected piece of the committed bisection.
func (m *Manager) BisectExecution(caller common.Address, challengeId uint64, selection *SegmentSelection, newSegments []common.Hash) error {
	c, err := m.beginTurn(caller, challengeId, selection, requireAny)
	if err != nil {
		return err
	}
	challengeStart, challengeLength := ExtractChallengeSegment(selection)
	if challengeLength <= 1 {
		return protocol.ErrTooShort
	}
	expectedDegree := BisectionDegree(challengeLength)
	if uint64(len(newSegments)) != expectedDegree+1 {
		return errors.Wrapf(protocol.ErrWrongDegree, "expected %d segments, got %d", expectedDegree+1, len(newSegments))
	}
	if err := requireValidBisection(selection, newSegments[0], newSegments[len(newSegments)-1]); err != nil {
		return err
	}
	m.completeBisection(c, challengeStart, challengeLength, newSegments)
	m.endTurn(c)
	bisectionsCounter.Inc(1)
	log.Debug("challenge bisected", "challenge", challengeId, "by", caller, "start", challengeStart, "length", challengeLength)
	return nil
}

// ChallengeExecution narrows a one-block disagreement down to a machine
// execution challenge of numSteps steps.
func (m *Manager) ChallengeExecution(
	caller common.Address,
	challengeId uint64,
	selection *SegmentSelection,
	machineStatuses [2]protocol.MachineStatus,
	globalStateHashes [2]common.Hash,
	numSteps uint64,
) error {
	c, err := m.beginTurn(caller, challengeId, selection, requireBlock)
	if err != nil {
		return err
	}
	if numSteps < 1 {
		return protocol.ErrChallengeTooShort
	}
	if numSteps > MaxSteps {
		return protocol.ErrChallengeTooLong
	}
	startHash, err := protocol.BlockStateHash(machineStatuses[0], globalStateHashes[0])
	if err != nil {
		return err
	}
	endHash, err := protocol.BlockStateHash(machineStatuses[1], globalStateHashes[1])
	if err != nil {
		return err
	}
	if err := requireValidBisection(selection, startHash, endHash); err != nil {
		return err
	}
	executionChallengeAtSteps, challengeLength := ExtractChallengeSegment(selection)
	if challengeLength != 1 {
		return errors.Wrapf(protocol.ErrTooLong, "segment length %d", challengeLength)
	}

	if machineStatuses[0] != protocol.MachineStatusFinished {
		// A halted machine can't change.
		if machineStatuses[0] != machineStatuses[1] || globalStateHashes[0] != globalStateHashes[1] {
			return protocol.ErrHaltedChange
		}
		return m.currentWin(c, protocol.TerminationBlockProof)
	}
	if machineStatuses[1] == protocol.MachineStatusErrored {
		// An errored machine must return to the previous global state.
		if globalStateHashes[0] != globalStateHashes[1] {
			return protocol.ErrErrorChange
		}
	}

	endMachine, err := protocol.EndMachineHash(machineStatuses[1], globalStateHashes[1])
	if err != nil {
		return err
	}
	segments := []common.Hash{
		m.prover.StartMachineHash(globalStateHashes[0], c.WasmModuleRoot),
		endMachine,
	}
	c.Mode = ModeExecution
	m.completeBisection(c, 0, numSteps, segments)
	m.sink.Emit(&protocol.ExecutionChallengeBegunEvent{
		ChallengeId: challengeId,
		BlockSteps:  executionChallengeAtSteps,
	})
	m.endTurn(c)
	executionChallengesGauge.Inc(1)
	log.Info("execution challenge begun", "challenge", challengeId, "by", caller, "block", executionChallengeAtSteps, "numSteps", numSteps)
	return nil
}

// OneStepProveExecution hands the final step to the prover. The mover wins
// if the proven result differs from the committed end of the step.
func (m *Manager) OneStepProveExecution(ctx context.Context, caller common.Address, challengeId uint64, selection *SegmentSelection, proof []byte) error {
	c, err := m.beginTurn(caller, challengeId, selection, requireExecution)
	if err != nil {
		return err
	}
	challengeStart, challengeLength := ExtractChallengeSegment(selection)
	if challengeLength != 1 {
		return errors.Wrapf(protocol.ErrTooLong, "segment length %d", challengeLength)
	}
	afterHash, err := m.prover.ProveOneStep(
		ctx,
		ExecutionContext{MaxInboxMessagesRead: c.MaxInboxMessages},
		challengeStart,
		selection.OldSegments[selection.ChallengePosition],
		proof,
	)
	if err != nil {
		return errors.Wrapf(err, "one step proof of challenge %d at step %d", challengeId, challengeStart)
	}
	if afterHash == selection.OldSegments[selection.ChallengePosition+1] {
		return protocol.ErrSameOneStepEnd
	}
	m.sink.Emit(&protocol.OneStepProofCompletedEvent{ChallengeId: challengeId})
	oneStepProofsCounter.Inc(1)
	return m.currentWin(c, protocol.TerminationExecutionProof)
}

// Timeout ends a challenge whose party on turn has run out of time.
// Anyone may call it.
func (m *Manager) Timeout(challengeId uint64) error {
	c, ok := m.challenges[challengeId]
	if !ok {
		return errors.Wrapf(protocol.ErrNoChallenge, "challenge %d", challengeId)
	}
	now := m.blocks.Get()
	if !c.IsTimedOut(now) {
		return errors.Wrapf(
			protocol.ErrTimeoutDeadline,
			"challenge %d: %d of %d blocks used", challengeId, c.timeUsedSinceLastMove(now), c.Current.TimeLeft,
		)
	}
	if err := m.nextWin(c, protocol.TerminationTimeout); err != nil {
		return err
	}
	timeoutsCounter.Inc(1)
	return nil
}

// ShiftClocks moves the last move of every live challenge forward by
// blocks, so a span in which nobody could move is charged to no one.
func (m *Manager) ShiftClocks(blocks uint64) {
	if blocks == 0 {
		return
	}
	for _, c := range m.challenges {
		c.LastMoveBlock = arbmath.SaturatingUAdd(c.LastMoveBlock, blocks)
	}
	log.Info("Challenge clocks shifted", "blocks", blocks, "challenges", len(m.challenges))
}

// ClearChallenge removes a challenge without a winner.
func (m *Manager) ClearChallenge(challengeId uint64) error {
	c, ok := m.challenges[challengeId]
	if !ok {
		return errors.Wrapf(protocol.ErrNoChallenge, "challenge %d", challengeId)
	}
	m.remove(c, protocol.TerminationCleared)
	return nil
}

func (m *Manager) currentWin(c *Challenge, kind protocol.ChallengeTerminationType) error {
	return m.finish(c, c.Current.Addr, c.Next.Addr, kind)
}

func (m *Manager) nextWin(c *Challenge, kind protocol.ChallengeTerminationType) error {
	return m.finish(c, c.Next.Addr, c.Current.Addr, kind)
}

func (m *Manager) finish(c *Challenge, winner common.Address, loser common.Address, kind protocol.ChallengeTerminationType) error {
	if err := m.receiver.CompleteChallenge(c.Id, winner, loser); err != nil {
		return err
	}
	m.remove(c, kind)
	log.Info("Challenge ended", "challenge", c.Id, "winner", winner, "loser", loser, "kind", kind)
	return nil
}

func (m *Manager) remove(c *Challenge, kind protocol.ChallengeTerminationType) {
	if c.Mode == ModeExecution {
		executionChallengesGauge.Dec(1)
	}
	delete(m.challenges, c.Id)
	challengesEndedCounter.Inc(1)
	activeChallengesGauge.Update(int64(len(m.challenges)))
	m.sink.Emit(&protocol.ChallengeEndedEvent{ChallengeId: c.Id, Kind: kind})
}

// CurrentResponder is the party on turn, or the zero address if the
// challenge is not live.
func (m *Manager) CurrentResponder(challengeId uint64) common.Address {
	c, ok := m.challenges[challengeId]
	if !ok {
		return common.Address{}
	}
	return c.Current.Addr
}

// IsTimedOut evaluates the clock of a live challenge at the current height.
func (m *Manager) IsTimedOut(challengeId uint64) (bool, error) {
	c, ok := m.challenges[challengeId]
	if !ok {
		return false, errors.Wrapf(protocol.ErrNoChallenge, "challenge %d", challengeId)
	}
	return c.IsTimedOut(m.blocks.Get()), nil
}

func (m *Manager) Info(challengeId uint64) (*Info, error) {
	c, ok := m.challenges[challengeId]
	if !ok {
		return nil, errors.Wrapf(protocol.ErrNoChallenge, "challenge %d", challengeId)
	}
	return c.info(m.blocks.Get())
}

func (m *Manager) Exists(challengeId uint64) bool {
	_, ok := m.challenges[challengeId]
	return ok
}

func (m *Manager) TotalChallengesCreated() uint64 {
	return m.totalChallengesCreated
}
