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

// BlockChallengeBackend resolves block positions of a block challenge,
// counted from the state the challenged node starts from.
type BlockChallengeBackend struct {
	provider       StateProvider
	startGs        protocol.GoGlobalState
	maxBatchesRead uint64

	startPosition uint64
	endPosition   uint64

	states *threadsafe.LruMap[uint64, protocol.ExecutionState]
}

func NewBlockChallengeBackend(
	provider StateProvider,
	startGs protocol.GoGlobalState,
	maxBatchesRead uint64,
	cacheSize int,
) *BlockChallengeBackend {
	return &BlockChallengeBackend{
		provider:       provider,
		startGs:        startGs,
		maxBatchesRead: maxBatchesRead,
		states:         threadsafe.NewLruMap[uint64, protocol.ExecutionState](cacheSize, threadsafe.LruMapWithMetric[uint64, protocol.ExecutionState]("block_states")),
	}
}

func (b *BlockChallengeBackend) GetInfoAtStep(ctx context.Context, step uint64) (protocol.ExecutionState, error) {
	if state, ok := b.states.TryGet(step); ok {
		return state, nil
	}
	state, err := b.provider.BlockStateAt(ctx, b.startGs, step, b.maxBatchesRead)
	if err != nil {
		return protocol.ExecutionState{}, fmt.Errorf("failed to get block state at position %v: %w", step, err)
	}
	b.states.Put(step, state)
	return state, nil
}

func (b *BlockChallengeBackend) SetRange(ctx context.Context, start uint64, end uint64) error {
	if b.startPosition == start && b.endPosition == end {
		return nil
	}
	if start > end {
		return fmt.Errorf("block challenge range starts at %v after its end %v", start, end)
	}
	if _, err := b.GetInfoAtStep(ctx, end); err != nil {
		return err
	}
	b.startPosition = start
	b.endPosition = end
	return nil
}

func (b *BlockChallengeBackend) GetHashAtStep(ctx context.Context, position uint64) (common.Hash, error) {
	state, err := b.GetInfoAtStep(ctx, position)
	if err != nil {
		return common.Hash{}, err
	}
	return protocol.BlockStateHash(state.MachineStatus, state.GlobalState.Hash())
}

// ExecutionChallengeArgs are the statuses and global state hashes around a
// single disputed block.
func (b *BlockChallengeBackend) ExecutionChallengeArgs(ctx context.Context, position uint64) ([2]protocol.MachineStatus, [2]common.Hash, error) {
	var statuses [2]protocol.MachineStatus
	var hashes [2]common.Hash
	for i := range statuses {
		state, err := b.GetInfoAtStep(ctx, position+uint64(i))
		if err != nil {
			return statuses, hashes, err
		}
		statuses[i] = state.MachineStatus
		hashes[i] = state.GlobalState.Hash()
	}
	return statuses, hashes, nil
}
