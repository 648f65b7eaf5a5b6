// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package staker

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/offchainlabs/rollupcore/protocol"
)

// StateProvider is the execution a validator believes in. Block positions
// count blocks from a starting global state; machine steps count from the
// start of the block following blockStart.
type StateProvider interface {
	BlockStateAt(ctx context.Context, start protocol.GoGlobalState, position uint64, maxBatches uint64) (protocol.ExecutionState, error)
	MachineStepCount(ctx context.Context, blockStart protocol.GoGlobalState) (uint64, error)
	MachineHashAt(ctx context.Context, blockStart protocol.GoGlobalState, wasmModuleRoot common.Hash, step uint64) (common.Hash, error)
	OneStepProof(ctx context.Context, blockStart protocol.GoGlobalState, wasmModuleRoot common.Hash, step uint64) ([]byte, error)
}

// ChallengeBackend answers the hash a player commits to at a position of
// the current bisection.
type ChallengeBackend interface {
	SetRange(ctx context.Context, start uint64, end uint64) error
	GetHashAtStep(ctx context.Context, position uint64) (common.Hash, error)
}

var (
	_ ChallengeBackend = (*BlockChallengeBackend)(nil)
	_ ChallengeBackend = (*ExecutionChallengeBackend)(nil)
)
