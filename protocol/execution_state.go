// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// GoGlobalState is the per-block state a rollup assertion commits to.
type GoGlobalState struct {
	BlockHash  common.Hash
	SendRoot   common.Hash
	Batch      uint64
	PosInBatch uint64
}

func u64ToBe(x uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, x)
	return data
}

// u64ToU256 left pads a uint64 into a 32 byte big endian word.
func u64ToU256(x uint64) []byte {
	data := make([]byte, 32)
	binary.BigEndian.PutUint64(data[24:], x)
	return data
}

func (s GoGlobalState) Hash() common.Hash {
	data := []byte("Global state:")
	data = append(data, s.BlockHash.Bytes()...)
	data = append(data, s.SendRoot.Bytes()...)
	data = append(data, u64ToBe(s.Batch)...)
	data = append(data, u64ToBe(s.PosInBatch)...)
	return crypto.Keccak256Hash(data)
}

func (s GoGlobalState) String() string {
	return fmt.Sprintf("{block %v sendRoot %v batch %d pos %d}", s.BlockHash, s.SendRoot, s.Batch, s.PosInBatch)
}

type MachineStatus uint8

const (
	MachineStatusRunning  MachineStatus = 0
	MachineStatusFinished MachineStatus = 1
	MachineStatusErrored  MachineStatus = 2
	MachineStatusTooFar   MachineStatus = 3
)

func (s MachineStatus) String() string {
	switch s {
	case MachineStatusRunning:
		return "running"
	case MachineStatusFinished:
		return "finished"
	case MachineStatusErrored:
		return "errored"
	case MachineStatusTooFar:
		return "too far"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type ExecutionState struct {
	GlobalState   GoGlobalState
	MachineStatus MachineStatus
}

// RequiredBatches determines the batch count required to reach the execution state.
// If the machine errored or the state is after the beginning of the batch,
// the current batch is required to reach the state.
// If the machine finished and the new state is the start of a batch,
// it hasn't read that batch yet.
func (s *ExecutionState) RequiredBatches() uint64 {
	count := s.GlobalState.Batch
	if (s.MachineStatus == MachineStatusErrored || s.GlobalState.PosInBatch > 0) && count < math.MaxUint64 {
		count++
	}
	return count
}

// ComputeStateHash commits to an execution state together with the inbox
// size observed when the state was asserted.
func ComputeStateHash(execState *ExecutionState, inboxMaxCount uint64) common.Hash {
	data := make([]byte, 0, 32+32+1)
	globalHash := execState.GlobalState.Hash()
	data = append(data, globalHash[:]...)
	data = append(data, u64ToU256(inboxMaxCount)...)
	data = append(data, byte(execState.MachineStatus))
	return crypto.Keccak256Hash(data)
}

// Assertion is a claimed transition from BeforeState to AfterState over
// NumBlocks blocks.
type Assertion struct {
	BeforeState ExecutionState
	AfterState  ExecutionState
	NumBlocks   uint64
}
