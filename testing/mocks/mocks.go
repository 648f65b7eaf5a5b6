// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
)

// MemoryInbox is a sequencer inbox held in memory. Each batch accumulator
// chains the previous one with the hash of the batch data.
type MemoryInbox struct {
	mutex sync.RWMutex
	accs  []common.Hash
}

var _ protocol.InboxReader = (*MemoryInbox)(nil)

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{}
}

func (m *MemoryInbox) AddBatch(data []byte) common.Hash {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var prev common.Hash
	if len(m.accs) > 0 {
		prev = m.accs[len(m.accs)-1]
	}
	acc := crypto.Keccak256Hash(prev.Bytes(), crypto.Keccak256(data))
	m.accs = append(m.accs, acc)
	return acc
}

// AddBatches appends count batches with generated contents.
func (m *MemoryInbox) AddBatches(count uint64) {
	for i := uint64(0); i < count; i++ {
		m.AddBatch([]byte(fmt.Sprintf("batch %d", m.BatchCount())))
	}
}

func (m *MemoryInbox) BatchCount() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return uint64(len(m.accs))
}

func (m *MemoryInbox) InboxAcc(index uint64) (common.Hash, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if index >= uint64(len(m.accs)) {
		return common.Hash{}, fmt.Errorf("inbox accumulator %d requested but only %d batches exist", index, len(m.accs))
	}
	return m.accs[index], nil
}

type MockInbox struct {
	mock.Mock
}

func (m *MockInbox) BatchCount() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}

func (m *MockInbox) InboxAcc(index uint64) (common.Hash, error) {
	args := m.Called(index)
	ret, ok := args.Get(0).(common.Hash)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

type MockProver struct {
	mock.Mock
}

func (m *MockProver) StartMachineHash(globalStateHash common.Hash, wasmModuleRoot common.Hash) common.Hash {
	args := m.Called(globalStateHash, wasmModuleRoot)
	ret, ok := args.Get(0).(common.Hash)
	if !ok {
		panic("not ok")
	}
	return ret
}

func (m *MockProver) ProveOneStep(ctx context.Context, execCtx challenge.ExecutionContext, machineStep uint64, beforeHash common.Hash, proof []byte) (common.Hash, error) {
	args := m.Called(ctx, execCtx, machineStep, beforeHash, proof)
	ret, ok := args.Get(0).(common.Hash)
	if !ok {
		panic("not ok")
	}
	return ret, args.Error(1)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Append(block uint64, ev protocol.RollupEvent) error {
	args := m.Called(block, ev)
	return args.Error(0)
}
