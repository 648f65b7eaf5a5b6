// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
)

// Reader is the read-only view shared by every caller.
type Reader interface {
	LatestConfirmed() uint64
	LatestNodeCreated() uint64
	FirstUnresolvedNode() uint64
	GetNode(nodeNum uint64) (*Node, error)
	StakerInfo(addr common.Address) *StakerInfo
	Stakers() []common.Address
	NodeHasStaker(nodeNum uint64, addr common.Address) bool
	ChallengeInfo(challengeId uint64) (*challenge.Info, error)
	ChallengeNodes(challengeId uint64) ([2]uint64, error)
	CurrentResponder(challengeId uint64) common.Address
	Paused() bool
	RequiredStake() *big.Int
	ZombieCount() uint64
	Events(from uint64, limit uint64) []*RecordedEvent
}

// UserCapability is what validators and anyone else may call.
type UserCapability interface {
	Reader

	Deposit(caller common.Address, amount *big.Int) error
	IncreaseStake(caller common.Address, staker common.Address, amount *big.Int) error
	ReduceStake(caller common.Address, target *big.Int) error
	WithdrawFunds(caller common.Address) (*big.Int, error)
	RemoveStaker(caller common.Address, staker common.Address) error

	CreateAssertion(caller common.Address, prevNum uint64, assertion *protocol.Assertion, expectedNodeHash common.Hash, stakeDelta *big.Int) (uint64, error)
	StakeOnExisting(caller common.Address, nodeNum uint64, nodeHash common.Hash, stakeDelta *big.Int) error

	CreateChallenge(caller common.Address, stakers [2]common.Address, nodeNums [2]uint64) (uint64, error)
	BisectExecution(caller common.Address, challengeId uint64, selection *challenge.SegmentSelection, newSegments []common.Hash) error
	ChallengeExecution(caller common.Address, challengeId uint64, selection *challenge.SegmentSelection, machineStatuses [2]protocol.MachineStatus, globalStateHashes [2]common.Hash, numSteps uint64) error
	OneStepProveExecution(ctx context.Context, caller common.Address, challengeId uint64, selection *challenge.SegmentSelection, proof []byte) error
	Timeout(caller common.Address, challengeId uint64) error

	ConfirmNextNode(caller common.Address, blockHash common.Hash, sendRoot common.Hash) error
	RejectNextNode(caller common.Address, staker common.Address) error
	FastConfirmNextNode(caller common.Address, blockHash common.Hash, sendRoot common.Hash, expectedNodeHash common.Hash) error
	RemoveZombie(caller common.Address, zombieNum uint64, maxNodes uint64) error
	RemoveOldZombies(caller common.Address, startIndex uint64) error
}

// AdminCapability is the owner's surface.
type AdminCapability interface {
	Reader

	Pause(caller common.Address) error
	Resume(caller common.Address) error
	SetValidators(caller common.Address, validators []common.Address, allowed []bool) error
	SetOwner(caller common.Address, newOwner common.Address) error
	SetMinimumAssertionPeriod(caller common.Address, blocks uint64) error
	SetConfirmPeriodBlocks(caller common.Address, blocks uint64) error
	SetExtraChallengeTimeBlocks(caller common.Address, blocks uint64) error
	SetBaseStake(caller common.Address, stake *big.Int) error
	SetLoserStakeEscrow(caller common.Address, escrow common.Address) error
	SetWasmModuleRoot(caller common.Address, root common.Hash) error
	SetValidatorWhitelistDisabled(caller common.Address, disabled bool) error
	SetFastConfirmer(caller common.Address, confirmer common.Address) error

	ForceResolveChallenge(caller common.Address, stakerA []common.Address, stakerB []common.Address) error
	ForceRefundStaker(caller common.Address, stakers []common.Address) error
	ForceCreateNode(caller common.Address, prevNum uint64, assertion *protocol.Assertion, expectedNodeHash common.Hash) (uint64, error)
	ForceConfirmNode(caller common.Address, nodeNum uint64, blockHash common.Hash, sendRoot common.Hash) error
	ClearAdminHalt(caller common.Address) error
	AdminHalted() (bool, string)
}

var (
	_ UserCapability  = (*Rollup)(nil)
	_ AdminCapability = (*Rollup)(nil)
)
