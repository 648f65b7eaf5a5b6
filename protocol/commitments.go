// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// BlockStateHash is the hash a block-level challenge segment commits to.
func BlockStateHash(status MachineStatus, globalStateHash common.Hash) (common.Hash, error) {
	switch status {
	case MachineStatusFinished:
		return crypto.Keccak256Hash([]byte("Block state:"), globalStateHash.Bytes()), nil
	case MachineStatusErrored:
		return crypto.Keccak256Hash([]byte("Block state, errored:"), globalStateHash.Bytes()), nil
	case MachineStatusTooFar:
		return crypto.Keccak256Hash([]byte("Block state, too far:")), nil
	default:
		return common.Hash{}, errors.Wrapf(ErrBadBlockStatus, "status %v", status)
	}
}

// EndMachineHash is the final segment of an execution challenge.
func EndMachineHash(status MachineStatus, globalStateHash common.Hash) (common.Hash, error) {
	switch status {
	case MachineStatusFinished:
		return crypto.Keccak256Hash([]byte("Machine finished:"), globalStateHash.Bytes()), nil
	case MachineStatusErrored:
		return crypto.Keccak256Hash([]byte("Machine errored:")), nil
	case MachineStatusTooFar:
		return crypto.Keccak256Hash([]byte("Machine too far:")), nil
	default:
		return common.Hash{}, errors.Wrapf(ErrBadBlockStatus, "status %v", status)
	}
}

// HashChallengeState commits to a bisection: the segment start, its length
// and the hashes at each cut point.
func HashChallengeState(segmentsStart uint64, segmentsLength uint64, segments []common.Hash) common.Hash {
	data := make([]byte, 0, 64+32*len(segments))
	data = append(data, u64ToU256(segmentsStart)...)
	data = append(data, u64ToU256(segmentsLength)...)
	for _, s := range segments {
		data = append(data, s.Bytes()...)
	}
	return crypto.Keccak256Hash(data)
}

// ExecutionHashOf hashes the initial challenge state of a claim.
func ExecutionHashOf(statuses [2]MachineStatus, globalStates [2]GoGlobalState, numBlocks uint64) (common.Hash, error) {
	segments := make([]common.Hash, 2)
	for i := range segments {
		h, err := BlockStateHash(statuses[i], globalStates[i].Hash())
		if err != nil {
			return common.Hash{}, err
		}
		segments[i] = h
	}
	return HashChallengeState(0, numBlocks, segments), nil
}

func ExecutionHash(a *Assertion) (common.Hash, error) {
	return ExecutionHashOf(
		[2]MachineStatus{a.BeforeState.MachineStatus, a.AfterState.MachineStatus},
		[2]GoGlobalState{a.BeforeState.GlobalState, a.AfterState.GlobalState},
		a.NumBlocks,
	)
}

func ChallengeRootHash(executionHash common.Hash, proposedBlock uint64, wasmModuleRoot common.Hash) common.Hash {
	return crypto.Keccak256Hash(executionHash.Bytes(), u64ToU256(proposedBlock), wasmModuleRoot.Bytes())
}

func ConfirmHash(blockHash common.Hash, sendRoot common.Hash) common.Hash {
	return crypto.Keccak256Hash(blockHash.Bytes(), sendRoot.Bytes())
}

func AssertionConfirmHash(a *Assertion) common.Hash {
	return ConfirmHash(a.AfterState.GlobalState.BlockHash, a.AfterState.GlobalState.SendRoot)
}

// NodeHash chains a node to its parent, or to its latest older sibling.
func NodeHash(hasSibling bool, lastHash common.Hash, executionHash common.Hash, inboxAcc common.Hash, wasmModuleRoot common.Hash) common.Hash {
	var sibling byte
	if hasSibling {
		sibling = 1
	}
	return crypto.Keccak256Hash([]byte{sibling}, lastHash.Bytes(), executionHash.Bytes(), inboxAcc.Bytes(), wasmModuleRoot.Bytes())
}

// GenesisExecutionState is the finished, empty state the genesis node commits to.
func GenesisExecutionState() ExecutionState {
	return ExecutionState{MachineStatus: MachineStatusFinished}
}

// GenesisInboxMaxCount is the inbox count bound to the genesis state.
const GenesisInboxMaxCount = 1
