// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type ExecutionContext struct {
	MaxInboxMessagesRead uint64
}

// OneStepProver adjudicates the final indivisible step of an execution
// challenge. Its answers are final.
type OneStepProver interface {
	// StartMachineHash is the machine hash at step zero of a block.
	StartMachineHash(globalStateHash common.Hash, wasmModuleRoot common.Hash) common.Hash
	// ProveOneStep executes machineStep from beforeHash using proof and
	// returns the resulting machine hash.
	ProveOneStep(ctx context.Context, execCtx ExecutionContext, machineStep uint64, beforeHash common.Hash, proof []byte) (common.Hash, error)
}

// ResultReceiver is told who won once a challenge ends.
type ResultReceiver interface {
	CompleteChallenge(challengeId uint64, winner common.Address, loser common.Address) error
}
