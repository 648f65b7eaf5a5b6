// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package challenge

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/offchainlabs/rollupcore/protocol"
)

// MaxChallengeDegree bounds how many pieces a single bisection may split a segment into.
const MaxChallengeDegree uint64 = 40

// MaxSteps bounds the machine step count of an execution challenge.
const MaxSteps uint64 = 1 << 43

// SegmentSelection identifies one piece of the currently committed bisection.
type SegmentSelection struct {
	OldSegmentsStart  uint64
	OldSegmentsLength uint64
	OldSegments       []common.Hash
	ChallengePosition uint64
}

// Hash is the challenge state the selection claims to extend.
func (s *SegmentSelection) Hash() common.Hash {
	return protocol.HashChallengeState(s.OldSegmentsStart, s.OldSegmentsLength, s.OldSegments)
}

// ExtractChallengeSegment returns the start and length of the selected piece.
// The last piece absorbs the remainder of an uneven split.
func ExtractChallengeSegment(selection *SegmentSelection) (uint64, uint64) {
	oldChallengeDegree := uint64(len(selection.OldSegments) - 1)
	segmentLength := selection.OldSegmentsLength / oldChallengeDegree
	segmentStart := selection.OldSegmentsStart + segmentLength*selection.ChallengePosition
	if selection.ChallengePosition == uint64(len(selection.OldSegments)-2) {
		segmentLength += selection.OldSegmentsLength % oldChallengeDegree
	}
	return segmentStart, segmentLength
}

func requireValidBisection(selection *SegmentSelection, startHash common.Hash, endHash common.Hash) error {
	if selection.OldSegments[selection.ChallengePosition] != startHash {
		return protocol.ErrWrongStart
	}
	if selection.OldSegments[selection.ChallengePosition+1] == endHash {
		return protocol.ErrSameEnd
	}
	return nil
}

// BisectionDegree is the number of pieces a segment of the given length is split into.
func BisectionDegree(length uint64) uint64 {
	if length < MaxChallengeDegree {
		return length
	}
	return MaxChallengeDegree
}

// Segment is a committed hash together with the step it describes.
type Segment struct {
	Hash     common.Hash
	Position uint64
}

var ErrPositionPastEnd = errors.New("computed last segment position past end")

// BisectionPositions lists the cut points of [start, end] for a new bisection.
func BisectionPositions(start, end uint64) ([]uint64, error) {
	if end <= start {
		return nil, errors.New("empty segment")
	}
	length := end - start
	degree := BisectionDegree(length)
	normalSegmentLength := length / degree
	positions := make([]uint64, degree+1)
	position := start
	for i := range positions {
		if i == len(positions)-1 {
			if position > end {
				return nil, ErrPositionPastEnd
			}
			position = end
		}
		positions[i] = position
		position += normalSegmentLength
	}
	return positions, nil
}

// ResolveSegments assigns a position to every hash of a committed bisection.
func ResolveSegments(start, length uint64, hashes []common.Hash) ([]Segment, error) {
	if len(hashes) < 2 {
		return nil, errors.New("bisection needs at least two hashes")
	}
	end := start + length
	degree := uint64(len(hashes) - 1)
	normalSegmentLength := length / degree
	segments := make([]Segment, len(hashes))
	position := start
	for i, h := range hashes {
		if i == len(hashes)-1 {
			if position > end {
				return nil, ErrPositionPastEnd
			}
			position = end
		}
		segments[i] = Segment{Hash: h, Position: position}
		position += normalSegmentLength
	}
	return segments, nil
}
