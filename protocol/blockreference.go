// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

// BlockReference reports the height of the ordering ledger. It is the only
// clock the rollup reads.
type BlockReference interface {
	Get() uint64
}

// ArtificialBlockReference is a manually advanced height, used by tests and
// the simulator.
type ArtificialBlockReference struct {
	current atomic.Uint64
}

func NewArtificialBlockReference(start uint64) *ArtificialBlockReference {
	ref := &ArtificialBlockReference{}
	ref.current.Store(start)
	return ref
}

func (abr *ArtificialBlockReference) Get() uint64 {
	return abr.current.Load()
}

func (abr *ArtificialBlockReference) Set(newVal uint64) {
	abr.current.Store(newVal)
}

func (abr *ArtificialBlockReference) Add(delta uint64) uint64 {
	for {
		old := abr.current.Load()
		next := arbmath.SaturatingUAdd(old, delta)
		if abr.current.CompareAndSwap(old, next) {
			return next
		}
	}
}

// InboxReader is the read side of the sequencer inbox.
type InboxReader interface {
	// BatchCount is the number of batches delivered so far. It never decreases.
	BatchCount() uint64
	// InboxAcc is the accumulator after batch index was appended.
	InboxAcc(index uint64) (common.Hash, error)
}
