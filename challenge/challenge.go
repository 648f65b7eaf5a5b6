// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

type Mode uint8

const (
	ModeNone Mode = iota
	ModeBlock
	ModeExecution
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeBlock:
		return "block"
	case ModeExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Participant is one side of a challenge with its remaining clock allowance in blocks.
type Participant struct {
	Addr     common.Address
	TimeLeft uint64
}

// Challenge is a live bisection game. Current is the party on turn.
type Challenge struct {
	Id               uint64
	WasmModuleRoot   common.Hash
	MaxInboxMessages uint64
	Asserter         common.Address
	Challenger       common.Address
	Current          Participant
	Next             Participant
	LastMoveBlock    uint64
	Mode             Mode

	StateHash      common.Hash
	SegmentsStart  uint64
	SegmentsLength uint64
	Segments       []common.Hash
}

func (c *Challenge) timeUsedSinceLastMove(now uint64) uint64 {
	return arbmath.SaturatingUSub(now, c.LastMoveBlock)
}

// IsTimedOut reports whether the party on turn has used more than its allowance.
func (c *Challenge) IsTimedOut(now uint64) bool {
	return c.timeUsedSinceLastMove(now) > c.Current.TimeLeft
}

// Info is a point-in-time view of a challenge with clocks evaluated at Block.
type Info struct {
	Id                 uint64
	Mode               Mode
	Asserter           common.Address
	Challenger         common.Address
	CurrentResponder   common.Address
	AsserterTimeLeft   uint64
	ChallengerTimeLeft uint64
	LastMoveBlock      uint64
	Block              uint64
	TimedOut           bool
	StateHash          common.Hash
	SegmentsStart      uint64
	SegmentsLength     uint64
	Segments           []Segment
	MaxInboxMessages   uint64
	WasmModuleRoot     common.Hash
}

func (c *Challenge) info(now uint64) (*Info, error) {
	segments, err := ResolveSegments(c.SegmentsStart, c.SegmentsLength, c.Segments)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Id:               c.Id,
		Mode:             c.Mode,
		Asserter:         c.Asserter,
		Challenger:       c.Challenger,
		CurrentResponder: c.Current.Addr,
		LastMoveBlock:    c.LastMoveBlock,
		Block:            now,
		TimedOut:         c.IsTimedOut(now),
		StateHash:        c.StateHash,
		SegmentsStart:    c.SegmentsStart,
		SegmentsLength:   c.SegmentsLength,
		Segments:         segments,
		MaxInboxMessages: c.MaxInboxMessages,
		WasmModuleRoot:   c.WasmModuleRoot,
	}
	for _, p := range []Participant{c.Current, c.Next} {
		if p.Addr == c.Asserter {
			info.AsserterTimeLeft = p.TimeLeft
		} else {
			info.ChallengerTimeLeft = p.TimeLeft
		}
	}
	return info, nil
}

// End is the step the committed bisection ends at.
func (i *Info) End() uint64 {
	return i.SegmentsStart + i.SegmentsLength
}

// RawSegments returns the hashes of the committed bisection.
func (i *Info) RawSegments() []common.Hash {
	hashes := make([]common.Hash, len(i.Segments))
	for j, s := range i.Segments {
		hashes[j] = s.Hash
	}
	return hashes
}

// Selection builds the selection of the piece at position of this view.
func (i *Info) Selection(position uint64) *SegmentSelection {
	return &SegmentSelection{
		OldSegmentsStart:  i.SegmentsStart,
		OldSegmentsLength: i.SegmentsLength,
		OldSegments:       i.RawSegments(),
		ChallengePosition: position,
	}
}
