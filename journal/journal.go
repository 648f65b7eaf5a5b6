// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package journal persists committed rollup events, one RLP record per
// event, keyed by sequence number.
package journal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
)

var (
	appendedCounter = metrics.NewRegisteredCounter("arb/journal/appended", nil)
	appendedBytes   = metrics.NewRegisteredMeter("arb/journal/bytes", nil)
)

var ErrNotFound = errors.New("journal entry not found")

// record is the stored form of an event.
type record struct {
	Kind    string
	Block   uint64
	Payload []byte
}

// Entry is a decoded journal record.
type Entry struct {
	Seq   uint64
	Block uint64
	Event protocol.RollupEvent
}

type Journal struct {
	mutex sync.Mutex
	db    ethdb.KeyValueStore
	count uint64
}

var _ rollup.EventJournal = (*Journal)(nil)

// New opens the journal stored in db, creating an empty one if db has none.
func New(db ethdb.KeyValueStore) (*Journal, error) {
	j := &Journal{db: db}
	hasCount, err := db.Has(eventCountKey)
	if err != nil {
		return nil, err
	}
	if !hasCount {
		data, err := rlp.EncodeToBytes(uint64(0))
		if err != nil {
			return nil, err
		}
		if err := db.Put(eventCountKey, data); err != nil {
			return nil, err
		}
		return j, nil
	}
	data, err := db.Get(eventCountKey)
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(data, &j.count); err != nil {
		return nil, fmt.Errorf("error decoding journal event count: %w", err)
	}
	log.Info("Opened event journal", "events", j.count)
	return j, nil
}

// Append stores ev as the next record.
func (j *Journal) Append(block uint64, ev protocol.RollupEvent) error {
	kind, err := kindOf(ev)
	if err != nil {
		return err
	}
	payload, err := rlp.EncodeToBytes(ev)
	if err != nil {
		return fmt.Errorf("error encoding %v event: %w", kind, err)
	}
	data, err := rlp.EncodeToBytes(&record{Kind: kind, Block: block, Payload: payload})
	if err != nil {
		return err
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()
	countBytes, err := rlp.EncodeToBytes(j.count + 1)
	if err != nil {
		return err
	}
	batch := j.db.NewBatch()
	if err := batch.Put(dbKey(eventPrefix, j.count), data); err != nil {
		return err
	}
	if err := batch.Put(eventCountKey, countBytes); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("error writing journal record %v: %w", j.count, err)
	}
	j.count++
	appendedCounter.Inc(1)
	appendedBytes.Mark(int64(len(data)))
	return nil
}

// Len is the number of journaled events.
func (j *Journal) Len() uint64 {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.count
}

func decodeEntry(seq uint64, data []byte) (*Entry, error) {
	var rec record
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("error decoding journal record %v: %w", seq, err)
	}
	newEvent, ok := eventKinds[rec.Kind]
	if !ok {
		return nil, fmt.Errorf("journal record %v has unknown kind %q", seq, rec.Kind)
	}
	ev := newEvent()
	if err := rlp.DecodeBytes(rec.Payload, ev); err != nil {
		return nil, fmt.Errorf("error decoding %v event of journal record %v: %w", rec.Kind, seq, err)
	}
	return &Entry{Seq: seq, Block: rec.Block, Event: ev}, nil
}

func (j *Journal) Get(seq uint64) (*Entry, error) {
	if seq >= j.Len() {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, seq)
	}
	data, err := j.db.Get(dbKey(eventPrefix, seq))
	if err != nil {
		return nil, err
	}
	return decodeEntry(seq, data)
}

// Iterate calls fn on every record from sequence number from onward, in
// order, stopping at the first error.
func (j *Journal) Iterate(from uint64, fn func(*Entry) error) error {
	end := j.Len()
	iter := j.db.NewIterator(eventPrefix, uint64ToBytes(from))
	defer iter.Release()
	seq := from
	for seq < end && iter.Next() {
		entry, err := decodeEntry(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
		seq++
	}
	return iter.Error()
}
