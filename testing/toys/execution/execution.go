// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package toys provides a deterministic toy rollup chain. Every block reads
// exactly one inbox message and runs a fixed number of machine steps, which
// makes every intermediate hash cheap to recompute.
package toys

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
)

var (
	ErrBadProof      = errors.New("malformed one step proof")
	ErrProofMismatch = errors.New("one step proof does not match the prior machine hash")
)

// Divergence makes an execution lie about block Block (counted from genesis),
// starting with machine step Step of that block. Step zero is never forged,
// since every machine starts from the agreed block state. Every later block
// follows from the forged one.
type Divergence struct {
	Block uint64
	Step  uint64
}

type Execution struct {
	MessagesPerBatch uint64
	StepsPerBlock    uint64
	Divergence       *Divergence
}

func NewHonestExecution(messagesPerBatch uint64, stepsPerBlock uint64) *Execution {
	return &Execution{
		MessagesPerBatch: messagesPerBatch,
		StepsPerBlock:    stepsPerBlock,
	}
}

func NewForgedExecution(messagesPerBatch uint64, stepsPerBlock uint64, divergence Divergence) *Execution {
	return &Execution{
		MessagesPerBatch: messagesPerBatch,
		StepsPerBlock:    stepsPerBlock,
		Divergence:       &divergence,
	}
}

// Height is the number of blocks produced before reaching gs.
func (e *Execution) Height(gs protocol.GoGlobalState) uint64 {
	return gs.Batch*e.MessagesPerBatch + gs.PosInBatch
}

func (e *Execution) forges(height uint64) bool {
	return e.Divergence != nil && height >= e.Divergence.Block
}

// NextGlobalState produces the block following gs.
func (e *Execution) NextGlobalState(gs protocol.GoGlobalState) protocol.GoGlobalState {
	height := e.Height(gs)
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], height)
	prefix := []byte("Block:")
	if e.forges(height) {
		prefix = []byte("Forged block:")
	}
	next := protocol.GoGlobalState{
		BlockHash:  crypto.Keccak256Hash(prefix, gs.BlockHash.Bytes(), heightBytes[:]),
		Batch:      gs.Batch,
		PosInBatch: gs.PosInBatch + 1,
	}
	next.SendRoot = crypto.Keccak256Hash([]byte("Send root:"), next.BlockHash.Bytes())
	if next.PosInBatch == e.MessagesPerBatch {
		next.Batch++
		next.PosInBatch = 0
	}
	return next
}

// BlockStateAt returns the execution state reached after position blocks
// from start. Blocks needing a message beyond maxBatches are too far.
func (e *Execution) BlockStateAt(_ context.Context, start protocol.GoGlobalState, position uint64, maxBatches uint64) (protocol.ExecutionState, error) {
	gs := start
	for i := uint64(0); i < position; i++ {
		if gs.Batch >= maxBatches {
			return protocol.ExecutionState{GlobalState: gs, MachineStatus: protocol.MachineStatusTooFar}, nil
		}
		gs = e.NextGlobalState(gs)
	}
	return protocol.ExecutionState{GlobalState: gs, MachineStatus: protocol.MachineStatusFinished}, nil
}

// StateAfter runs numBlocks blocks from start without an inbox bound.
func (e *Execution) StateAfter(start protocol.GoGlobalState, numBlocks uint64) protocol.ExecutionState {
	gs := start
	for i := uint64(0); i < numBlocks; i++ {
		gs = e.NextGlobalState(gs)
	}
	return protocol.ExecutionState{GlobalState: gs, MachineStatus: protocol.MachineStatusFinished}
}

func stepBytes(step uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], step)
	return b[:]
}

// StartMachineHash is the hash of a machine about to run the block after a
// state with the given global state hash.
func StartMachineHash(globalStateHash common.Hash, wasmModuleRoot common.Hash) common.Hash {
	return runningMachineHash(globalStateHash, wasmModuleRoot, 0)
}

func runningMachineHash(globalStateHash common.Hash, wasmModuleRoot common.Hash, step uint64) common.Hash {
	return crypto.Keccak256Hash([]byte("Machine running:"), globalStateHash.Bytes(), wasmModuleRoot.Bytes(), stepBytes(step))
}

// MachineHashAt is the machine hash after step steps of the block following
// blockStart. A finished machine keeps its hash.
func (e *Execution) MachineHashAt(_ context.Context, blockStart protocol.GoGlobalState, wasmModuleRoot common.Hash, step uint64) (common.Hash, error) {
	height := e.Height(blockStart)
	if step >= e.StepsPerBlock {
		return protocol.EndMachineHash(protocol.MachineStatusFinished, e.NextGlobalState(blockStart).Hash())
	}
	if e.Divergence != nil && height == e.Divergence.Block && step > 0 && step >= e.Divergence.Step {
		return crypto.Keccak256Hash([]byte("Machine forged:"), blockStart.Hash().Bytes(), wasmModuleRoot.Bytes(), stepBytes(step)), nil
	}
	return runningMachineHash(blockStart.Hash(), wasmModuleRoot, step), nil
}

// MachineStepCount is the number of steps the block after blockStart takes.
func (e *Execution) MachineStepCount(context.Context, protocol.GoGlobalState) (uint64, error) {
	return e.StepsPerBlock, nil
}

const proofLength = 32 + 32 + 8 + 8 + 32

// OneStepProof proves step of the block following blockStart. The proof
// carries the block's starting global state and the module root.
func (e *Execution) OneStepProof(_ context.Context, blockStart protocol.GoGlobalState, wasmModuleRoot common.Hash, _ uint64) ([]byte, error) {
	proof := make([]byte, 0, proofLength)
	proof = append(proof, blockStart.BlockHash.Bytes()...)
	proof = append(proof, blockStart.SendRoot.Bytes()...)
	proof = append(proof, stepBytes(blockStart.Batch)...)
	proof = append(proof, stepBytes(blockStart.PosInBatch)...)
	proof = append(proof, wasmModuleRoot.Bytes()...)
	return proof, nil
}

// Prover adjudicates one step proofs by rerunning an honest execution.
type Prover struct {
	honest *Execution
}

var _ challenge.OneStepProver = (*Prover)(nil)

func NewProver(messagesPerBatch uint64, stepsPerBlock uint64) *Prover {
	return &Prover{honest: NewHonestExecution(messagesPerBatch, stepsPerBlock)}
}

func (p *Prover) StartMachineHash(globalStateHash common.Hash, wasmModuleRoot common.Hash) common.Hash {
	return StartMachineHash(globalStateHash, wasmModuleRoot)
}

func (p *Prover) ProveOneStep(ctx context.Context, execCtx challenge.ExecutionContext, machineStep uint64, beforeHash common.Hash, proof []byte) (common.Hash, error) {
	if len(proof) != proofLength {
		return common.Hash{}, fmt.Errorf("%w: length %d", ErrBadProof, len(proof))
	}
	blockStart := protocol.GoGlobalState{
		BlockHash:  common.BytesToHash(proof[0:32]),
		SendRoot:   common.BytesToHash(proof[32:64]),
		Batch:      binary.BigEndian.Uint64(proof[64:72]),
		PosInBatch: binary.BigEndian.Uint64(proof[72:80]),
	}
	wasmModuleRoot := common.BytesToHash(proof[80:112])
	if blockStart.Batch >= execCtx.MaxInboxMessagesRead {
		return common.Hash{}, fmt.Errorf("%w: block reads batch %d of %d", ErrBadProof, blockStart.Batch, execCtx.MaxInboxMessagesRead)
	}
	before, err := p.honest.MachineHashAt(ctx, blockStart, wasmModuleRoot, machineStep)
	if err != nil {
		return common.Hash{}, err
	}
	if before != beforeHash {
		return common.Hash{}, fmt.Errorf("%w: step %d", ErrProofMismatch, machineStep)
	}
	return p.honest.MachineHashAt(ctx, blockStart, wasmModuleRoot, machineStep+1)
}
