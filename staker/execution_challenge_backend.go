// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/containers/threadsafe"
	"github.com/offchainlabs/rollupcore/protocol"
)

// ExecutionChallengeBackend resolves machine steps of the single block
// following blockStart.
type ExecutionChallengeBackend struct {
	provider       StateProvider
	blockStart     protocol.GoGlobalState
	wasmModuleRoot common.Hash
	hashes         *threadsafe.LruMap[uint64, common.Hash]
}

func NewExecutionChallengeBackend(
	provider StateProvider,
	blockStart protocol.GoGlobalState,
	wasmModuleRoot common.Hash,
	cacheSize int,
) *ExecutionChallengeBackend {
	return &ExecutionChallengeBackend{
		provider:       provider,
		blockStart:     blockStart,
		wasmModuleRoot: wasmModuleRoot,
		hashes:         threadsafe.NewLruMap[uint64, common.Hash](cacheSize, threadsafe.LruMapWithMetric[uint64, common.Hash]("machine_hashes")),
	}
}

func (b *ExecutionChallengeBackend) SetRange(_ context.Context, start uint64, end uint64) error {
	if start > end {
		return fmt.Errorf("execution challenge range starts at %v after its end %v", start, end)
	}
	return nil
}

func (b *ExecutionChallengeBackend) GetHashAtStep(ctx context.Context, position uint64) (common.Hash, error) {
	if h, ok := b.hashes.TryGet(position); ok {
		return h, nil
	}
	h, err := b.provider.MachineHashAt(ctx, b.blockStart, b.wasmModuleRoot, position)
	if err != nil {
		return common.Hash{}, err
	}
	b.hashes.Put(position, h)
	return h, nil
}

func (b *ExecutionChallengeBackend) GetProofAt(ctx context.Context, position uint64) ([]byte, error) {
	return b.provider.OneStepProof(ctx, b.blockStart, b.wasmModuleRoot, position)
}

// GetFinalState returns the step count of the block and the hash the
// machine ends with.
func (b *ExecutionChallengeBackend) GetFinalState(ctx context.Context) (uint64, common.Hash, error) {
	steps, err := b.provider.MachineStepCount(ctx, b.blockStart)
	if err != nil {
		return 0, common.Hash{}, err
	}
	h, err := b.GetHashAtStep(ctx, steps)
	if err != nil {
		return 0, common.Hash{}, err
	}
	return steps, h, nil
}
