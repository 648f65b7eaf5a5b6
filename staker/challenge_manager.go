// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
)

var (
	movesCounter       = metrics.NewRegisteredCounter("arb/staker/challenge/moves", nil)
	oneStepProofsCount = metrics.NewRegisteredCounter("arb/staker/challenge/osp", nil)
	timeoutsCounter    = metrics.NewRegisteredCounter("arb/staker/challenge/timeouts", nil)
)

var ErrOutOfTime = errors.New("out of time to move in challenge")

type ChallengeManagerConfig struct {
	StateCacheSize int `koanf:"state-cache-size"`
}

var DefaultChallengeManagerConfig = ChallengeManagerConfig{
	StateCacheSize: 1024,
}

func ChallengeManagerConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Int(prefix+".state-cache-size", DefaultChallengeManagerConfig.StateCacheSize, "number of block states and machine hashes a challenge player keeps cached")
}

// Move is what a single call to Act did.
type Move uint8

const (
	MoveNone Move = iota
	MoveBisect
	MoveExecution
	MoveOneStepProof
	MoveTimeout
)

func (m Move) String() string {
	switch m {
	case MoveNone:
		return "none"
	case MoveBisect:
		return "bisect"
	case MoveExecution:
		return "challenge execution"
	case MoveOneStepProof:
		return "one step proof"
	case MoveTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ChallengeManager plays one side of a challenge with the history its
// StateProvider believes in.
type ChallengeManager struct {
	rollup         rollup.UserCapability
	provider       StateProvider
	config         *ChallengeManagerConfig
	challengeIndex uint64
	actingAs       common.Address
	wasmModuleRoot common.Hash

	// fields below are used while working on block challenge
	blockChallengeBackend *BlockChallengeBackend

	// these fields are empty until working on execution challenge
	eventCursor               uint64
	executionBlockStep        uint64
	executionChallengeBackend *ExecutionChallengeBackend
	machineFinalStepCount     uint64
}

// NewChallengeManager constructs a player for actingAs, which must be a
// party of the challenge.
func NewChallengeManager(
	r rollup.UserCapability,
	provider StateProvider,
	actingAs common.Address,
	challengeIndex uint64,
	config *ChallengeManagerConfig,
) (*ChallengeManager, error) {
	info, err := r.ChallengeInfo(challengeIndex)
	if err != nil {
		return nil, fmt.Errorf("error getting challenge %v info: %w", challengeIndex, err)
	}
	if info.Asserter != actingAs && info.Challenger != actingAs {
		return nil, fmt.Errorf("%v is not a party of challenge %v", actingAs, challengeIndex)
	}
	nodes, err := r.ChallengeNodes(challengeIndex)
	if err != nil {
		return nil, fmt.Errorf("error getting challenge %v nodes: %w", challengeIndex, err)
	}
	node, err := r.GetNode(nodes[0])
	if err != nil {
		return nil, fmt.Errorf("error getting challenged node %v: %w", nodes[0], err)
	}
	startGs := node.Assertion.BeforeState.GlobalState
	log.Info(
		"creating challenge manager",
		"challenge", challengeIndex,
		"actingAs", actingAs,
		"node", nodes[0],
		"startGlobalState", startGs,
		"maxBatchesRead", info.MaxInboxMessages,
	)
	return &ChallengeManager{
		rollup:                r,
		provider:              provider,
		config:                config,
		challengeIndex:        challengeIndex,
		actingAs:              actingAs,
		wasmModuleRoot:        info.WasmModuleRoot,
		blockChallengeBackend: NewBlockChallengeBackend(provider, startGs, info.MaxInboxMessages, config.StateCacheSize),
	}, nil
}

func (m *ChallengeManager) ChallengeIndex() uint64 {
	return m.challengeIndex
}

func (m *ChallengeManager) IsMyTurn() bool {
	return m.rollup.CurrentResponder(m.challengeIndex) == m.actingAs
}

func (m *ChallengeManager) bisect(ctx context.Context, backend ChallengeBackend, info *challenge.Info, startSegment int) error {
	startSegmentPosition := info.Segments[startSegment].Position
	endSegmentPosition := info.Segments[startSegment+1].Position
	err := backend.SetRange(ctx, startSegmentPosition, endSegmentPosition)
	if err != nil {
		return fmt.Errorf("error setting challenge %v range of %v to %v on backend: %w", m.challengeIndex, startSegmentPosition, endSegmentPosition, err)
	}
	positions, err := challenge.BisectionPositions(startSegmentPosition, endSegmentPosition)
	if err != nil {
		return fmt.Errorf("error bisecting challenge %v: %w", m.challengeIndex, err)
	}
	newSegments := make([]common.Hash, len(positions))
	for i, position := range positions {
		newSegments[i], err = backend.GetHashAtStep(ctx, position)
		if err != nil {
			return fmt.Errorf("error getting challenge %v hash at step %v: %w", m.challengeIndex, position, err)
		}
	}
	return m.rollup.BisectExecution(m.actingAs, m.challengeIndex, info.Selection(uint64(startSegment)), newSegments)
}

// ScanChallengeState returns the index of the last segment we agree with
// that is followed by one we disagree with.
func (m *ChallengeManager) ScanChallengeState(ctx context.Context, backend ChallengeBackend, info *challenge.Info) (int, error) {
	for i, segment := range info.Segments {
		ourHash, err := backend.GetHashAtStep(ctx, segment.Position)
		if err != nil {
			return 0, fmt.Errorf("error getting hash from challenge %v backend at step %v: %w", m.challengeIndex, segment.Position, err)
		}
		log.Debug("checking challenge segment", "challenge", m.challengeIndex, "position", segment.Position, "ourHash", ourHash, "segmentHash", segment.Hash)
		if segment.Hash != ourHash {
			if i == 0 {
				return 0, fmt.Errorf(
					"first segment of challenge %v doesn't match: at step count %v challenge has %v but resolved %v",
					m.challengeIndex, segment.Position, segment.Hash, ourHash,
				)
			}
			return i - 1, nil
		}
	}
	return 0, fmt.Errorf("agreed with entire challenge %v (start step count %v and end step count %v)", m.challengeIndex, info.SegmentsStart, info.End())
}

// loadExecChallengeIfExists creates the execution backend once the
// challenge has moved to a single block, reading the disputed block from
// the ExecutionChallengeBegun event.
func (m *ChallengeManager) loadExecChallengeIfExists(ctx context.Context, info *challenge.Info) error {
	if info.Mode != challenge.ModeExecution {
		m.executionChallengeBackend = nil
		return nil
	}
	if m.executionChallengeBackend != nil {
		return nil
	}
	var begun *protocol.ExecutionChallengeBegunEvent
	for _, rec := range m.rollup.Events(m.eventCursor, 0) {
		m.eventCursor = rec.Seq + 1
		if ev, ok := rec.Event.(*protocol.ExecutionChallengeBegunEvent); ok && ev.ChallengeId == m.challengeIndex {
			begun = ev
		}
	}
	if begun == nil {
		return fmt.Errorf("didn't find ExecutionChallengeBegun event for challenge %v", m.challengeIndex)
	}
	return m.createExecutionBackend(ctx, begun.BlockSteps)
}

func (m *ChallengeManager) IssueOneStepProof(ctx context.Context, info *challenge.Info, startSegment int) error {
	position := info.Segments[startSegment].Position
	proof, err := m.executionChallengeBackend.GetProofAt(ctx, position)
	if err != nil {
		return fmt.Errorf("error getting OSP from challenge %v backend at step %v: %w", m.challengeIndex, position, err)
	}
	return m.rollup.OneStepProveExecution(ctx, m.actingAs, m.challengeIndex, info.Selection(uint64(startSegment)), proof)
}

func (m *ChallengeManager) createExecutionBackend(ctx context.Context, blockStep uint64) error {
	if m.executionBlockStep == blockStep && m.executionChallengeBackend != nil {
		return nil
	}
	m.executionChallengeBackend = nil
	startState, err := m.blockChallengeBackend.GetInfoAtStep(ctx, blockStep)
	if err != nil {
		return fmt.Errorf("error getting info from block challenge backend: %w", err)
	}
	if startState.MachineStatus != protocol.MachineStatusFinished {
		return fmt.Errorf("block %v of challenge %v starts from status %v", blockStep, m.challengeIndex, startState.MachineStatus)
	}
	backend := NewExecutionChallengeBackend(m.provider, startState.GlobalState, m.wasmModuleRoot, m.config.StateCacheSize)
	expected, err := m.blockChallengeBackend.GetInfoAtStep(ctx, blockStep+1)
	if err != nil {
		return fmt.Errorf("error getting info from block challenge backend: %w", err)
	}
	machineStepCount, computedHash, err := backend.GetFinalState(ctx)
	if err != nil {
		return fmt.Errorf("error getting execution challenge final state: %w", err)
	}
	if expected.MachineStatus == protocol.MachineStatusFinished {
		expectedHash, err := protocol.EndMachineHash(expected.MachineStatus, expected.GlobalState.Hash())
		if err != nil {
			return err
		}
		if computedHash != expectedHash {
			return fmt.Errorf("after block %v expected global state %v but machine ended with %v", blockStep, expected.GlobalState, computedHash)
		}
	}
	m.executionChallengeBackend = backend
	m.executionBlockStep = blockStep
	m.machineFinalStepCount = machineStepCount
	return nil
}

func (m *ChallengeManager) timeout(info *challenge.Info) (Move, error) {
	log.Info("claiming challenge timeout", "challenge", m.challengeIndex, "actingAs", m.actingAs, "lastMove", info.LastMoveBlock, "block", info.Block)
	if err := m.rollup.Timeout(m.actingAs, m.challengeIndex); err != nil {
		return MoveNone, fmt.Errorf("error timing out challenge %v: %w", m.challengeIndex, err)
	}
	timeoutsCounter.Inc(1)
	return MoveTimeout, nil
}

// Act makes at most one move. When the opponent is on turn and out of time
// the move is claiming the timeout.
func (m *ChallengeManager) Act(ctx context.Context) (Move, error) {
	info, err := m.rollup.ChallengeInfo(m.challengeIndex)
	if err != nil {
		return MoveNone, fmt.Errorf("error getting challenge %v info: %w", m.challengeIndex, err)
	}
	if err := m.loadExecChallengeIfExists(ctx, info); err != nil {
		return MoveNone, fmt.Errorf("error loading execution challenge: %w", err)
	}
	if info.CurrentResponder != m.actingAs {
		if info.TimedOut {
			return m.timeout(info)
		}
		return MoveNone, nil
	}
	if info.TimedOut {
		return MoveNone, fmt.Errorf("%w: challenge %v last moved at %v", ErrOutOfTime, m.challengeIndex, info.LastMoveBlock)
	}

	var backend ChallengeBackend
	if m.executionChallengeBackend != nil {
		backend = m.executionChallengeBackend
	} else {
		backend = m.blockChallengeBackend
	}
	err = backend.SetRange(ctx, info.SegmentsStart, info.End())
	if err != nil {
		return MoveNone, fmt.Errorf("error setting challenge range on backend: %w", err)
	}

	nextMovePos, err := m.ScanChallengeState(ctx, backend, info)
	if err != nil {
		return MoveNone, fmt.Errorf("error scanning challenge state: %w", err)
	}
	startPosition := info.Segments[nextMovePos].Position
	endPosition := info.Segments[nextMovePos+1].Position
	if startPosition+1 != endPosition {
		log.Info("bisecting execution", "challenge", m.challengeIndex, "mode", info.Mode, "startPosition", startPosition, "endPosition", endPosition)
		if err := m.bisect(ctx, backend, info, nextMovePos); err != nil {
			return MoveNone, err
		}
		movesCounter.Inc(1)
		return MoveBisect, nil
	}
	if m.executionChallengeBackend != nil {
		log.Info("sending onestepproof", "challenge", m.challengeIndex, "startPosition", startPosition, "endPosition", endPosition)
		if err := m.IssueOneStepProof(ctx, info, nextMovePos); err != nil {
			return MoveNone, err
		}
		movesCounter.Inc(1)
		oneStepProofsCount.Inc(1)
		return MoveOneStepProof, nil
	}

	statuses, globalStateHashes, err := m.blockChallengeBackend.ExecutionChallengeArgs(ctx, startPosition)
	if err != nil {
		return MoveNone, err
	}
	// A block that never started has no machine to run.
	numSteps := uint64(1)
	if statuses[0] == protocol.MachineStatusFinished {
		if err := m.createExecutionBackend(ctx, startPosition); err != nil {
			return MoveNone, fmt.Errorf("error creating execution backend: %w", err)
		}
		numSteps = m.machineFinalStepCount
	}
	log.Info("issuing execution challenge", "challenge", m.challengeIndex, "block", startPosition, "machineStepCount", numSteps)
	err = m.rollup.ChallengeExecution(m.actingAs, m.challengeIndex, info.Selection(uint64(nextMovePos)), statuses, globalStateHashes, numSteps)
	if err != nil {
		return MoveNone, err
	}
	movesCounter.Inc(1)
	return MoveExecution, nil
}
