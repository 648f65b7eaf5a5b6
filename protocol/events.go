// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RollupEvent is emitted after a state transition of the rollup commits.
type RollupEvent interface {
	IsRollupEvent() bool // this method is just a marker that the type intends to be a RollupEvent
}

type genericRollupEvent struct{}

func (ev *genericRollupEvent) IsRollupEvent() bool { return true }

type NodeCreatedEvent struct {
	genericRollupEvent
	NodeNum        uint64
	PrevNum        uint64
	ParentNodeHash common.Hash
	NodeHash       common.Hash
	ExecutionHash  common.Hash
	Assertion      Assertion
	InboxAcc       common.Hash
	WasmModuleRoot common.Hash
	InboxMaxCount  uint64
	Staker         common.Address
}

type NodeConfirmedEvent struct {
	genericRollupEvent
	NodeNum   uint64
	BlockHash common.Hash
	SendRoot  common.Hash
}

type NodeRejectedEvent struct {
	genericRollupEvent
	NodeNum uint64
}

type NodeStakedEvent struct {
	genericRollupEvent
	NodeNum uint64
	Staker  common.Address
}

type RollupChallengeStartedEvent struct {
	genericRollupEvent
	ChallengeId   uint64
	Asserter      common.Address
	Challenger    common.Address
	ChallengedNum uint64
}

type ChallengeResolvedEvent struct {
	genericRollupEvent
	ChallengeId uint64
	Winner      common.Address
	Loser       common.Address
}

type UserStakeUpdatedEvent struct {
	genericRollupEvent
	Staker     common.Address
	InitialBal *big.Int
	FinalBal   *big.Int
}

type UserWithdrawableFundsUpdatedEvent struct {
	genericRollupEvent
	User       common.Address
	InitialBal *big.Int
	FinalBal   *big.Int
}

type ZombieCreatedEvent struct {
	genericRollupEvent
	Staker           common.Address
	LatestStakedNode uint64
}

type PausedEvent struct {
	genericRollupEvent
	Account common.Address
}

type ResumedEvent struct {
	genericRollupEvent
	Account common.Address
}

type OwnerFunctionCalledEvent struct {
	genericRollupEvent
	Id uint64
}

type AdminHaltedEvent struct {
	genericRollupEvent
	Op     string
	Reason string
}

// Challenge game events.

type InitiatedChallengeEvent struct {
	genericRollupEvent
	ChallengeId        uint64
	Asserter           common.Address
	Challenger         common.Address
	AsserterTimeLeft   uint64
	ChallengerTimeLeft uint64
	StartState         GoGlobalState
	EndState           GoGlobalState
}

type ChallengeBisectedEvent struct {
	genericRollupEvent
	ChallengeId             uint64
	ChallengeRoot           common.Hash
	ChallengedSegmentStart  uint64
	ChallengedSegmentLength uint64
	ChainHashes             []common.Hash
}

type ExecutionChallengeBegunEvent struct {
	genericRollupEvent
	ChallengeId uint64
	BlockSteps  uint64
}

type OneStepProofCompletedEvent struct {
	genericRollupEvent
	ChallengeId uint64
}

type ChallengeTerminationType uint8

const (
	TerminationTimeout ChallengeTerminationType = iota
	TerminationBlockProof
	TerminationExecutionProof
	TerminationCleared
)

func (t ChallengeTerminationType) String() string {
	switch t {
	case TerminationTimeout:
		return "timeout"
	case TerminationBlockProof:
		return "block proof"
	case TerminationExecutionProof:
		return "execution proof"
	case TerminationCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

type ChallengeEndedEvent struct {
	genericRollupEvent
	ChallengeId uint64
	Kind        ChallengeTerminationType
}

// EventSink receives events as they are produced inside a state transition.
type EventSink interface {
	Emit(ev RollupEvent)
}
