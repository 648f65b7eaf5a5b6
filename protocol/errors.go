// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every reason below unwraps to exactly one of them.
var (
	ErrAuthorization     = errors.New("authorization error")
	ErrStateConflict     = errors.New("state conflict")
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrTiming            = errors.New("timing error")
	ErrConsistency       = errors.New("consistency error")
	ErrFatal             = errors.New("fatal error")
)

// ReasonError is a protocol failure identified by a short code.
type ReasonError struct {
	Code string
	Kind error
}

func (e *ReasonError) Error() string {
	return e.Code
}

func (e *ReasonError) Unwrap() error {
	return e.Kind
}

func reason(kind error, code string) *ReasonError {
	return &ReasonError{Code: code, Kind: kind}
}

// Authorization
var (
	ErrNotValidator     = reason(ErrAuthorization, "NOT_VALIDATOR")
	ErrNotOwner         = reason(ErrAuthorization, "NOT_OWNER")
	ErrNotFastConfirmer = reason(ErrAuthorization, "NFC")
)

// State conflicts
var (
	ErrPaused              = reason(ErrStateConflict, "PAUSED")
	ErrAlreadyPaused       = reason(ErrStateConflict, "ALREADY_PAUSED")
	ErrNotPaused           = reason(ErrStateConflict, "NOT_PAUSED")
	ErrNotStaked           = reason(ErrStateConflict, "NOT_STAKED")
	ErrAlreadyStaked       = reason(ErrStateConflict, "ALREADY_STAKED")
	ErrStakerIsZombie      = reason(ErrStateConflict, "STAKER_IS_ZOMBIE")
	ErrInChallenge         = reason(ErrStateConflict, "IN_CHAL")
	ErrNoChallenge         = reason(ErrStateConflict, "NO_CHAL")
	ErrNotInChallenge      = reason(ErrStateConflict, "NOT_IN_CHAL")
	ErrDiffInChallenge     = reason(ErrStateConflict, "DIFF_IN_CHAL")
	ErrStakerInChallenge   = reason(ErrStateConflict, "STAKER_IN_CHALL")
	ErrNoUnresolved        = reason(ErrStateConflict, "NO_UNRESOLVED")
	ErrAlreadyDecided      = reason(ErrStateConflict, "ALREADY_DECIDED")
	ErrDoesntExist         = reason(ErrStateConflict, "DOESNT_EXIST")
	ErrNotStakedPrev       = reason(ErrStateConflict, "NOT_STAKED_PREV")
	ErrNodeOutOfRange      = reason(ErrStateConflict, "NODE_NUM_OUT_OF_RANGE")
	ErrNodeRejected        = reason(ErrStateConflict, "NODE_REJECTED")
	ErrStakedOnTarget      = reason(ErrStateConflict, "STAKED_ON_TARGET")
	ErrHasStakers          = reason(ErrStateConflict, "HAS_STAKERS")
	ErrNoStakers           = reason(ErrStateConflict, "NO_STAKERS")
	ErrNotAllStaked        = reason(ErrStateConflict, "NOT_ALL_STAKED")
	ErrTooRecent           = reason(ErrStateConflict, "TOO_RECENT")
	ErrStillStaked         = reason(ErrStateConflict, "STILL_STAKED")
	ErrNoFunds             = reason(ErrStateConflict, "NO_FUNDS")
	ErrNoReduction         = reason(ErrStateConflict, "NO_REDUCTION")
	ErrWrongOrder          = reason(ErrStateConflict, "WRONG_ORDER")
	ErrNotProposed         = reason(ErrStateConflict, "NOT_PROPOSED")
	ErrAlreadyConfirmed    = reason(ErrStateConflict, "ALREADY_CONFIRMED")
	ErrDiffPrev            = reason(ErrStateConflict, "DIFF_PREV")
	ErrStaker1NotStaked    = reason(ErrStateConflict, "STAKER1_NOT_STAKED")
	ErrStaker2NotStaked    = reason(ErrStateConflict, "STAKER2_NOT_STAKED")
	ErrWrongTurn           = reason(ErrStateConflict, "CHAL_SENDER")
	ErrNotBlockMode        = reason(ErrStateConflict, "CHAL_NOT_BLOCK")
	ErrNotExecutionMode    = reason(ErrStateConflict, "CHAL_NOT_EXECUTION")
	ErrInvalidPrev         = reason(ErrStateConflict, "INVALID_PREV")
	ErrHasRival            = reason(ErrStateConflict, "HAS_RIVAL")
	ErrEmptyArray          = reason(ErrStateConflict, "EMPTY_ARRAY")
	ErrWrongLength         = reason(ErrStateConflict, "WRONG_LENGTH")
	ErrOnlyLatestConfirmed = reason(ErrStateConflict, "ONLY_LATEST_CONFIRMED")
	ErrNoSuchZombie        = reason(ErrStateConflict, "NO_SUCH_ZOMBIE")
	ErrNoSuchStaker        = reason(ErrStateConflict, "NO_SUCH_STAKER")
)

// Stake
var (
	ErrNotEnoughStake = reason(ErrInsufficientStake, "NOT_ENOUGH_STAKE")
	ErrTooLittleStake = reason(ErrInsufficientStake, "TOO_LITTLE_STAKE")
)

// Timing
var (
	ErrBeforeDeadline    = reason(ErrTiming, "BEFORE_DEADLINE")
	ErrChildTooRecent    = reason(ErrTiming, "CHILD_TOO_RECENT")
	ErrTimeDelta         = reason(ErrTiming, "TIME_DELTA")
	ErrChallengeDeadline = reason(ErrTiming, "CHAL_DEADLINE")
	ErrTimeoutDeadline   = reason(ErrTiming, "TIMEOUT_DEADLINE")
)

// Consistency
var (
	ErrBadBlockStatus       = reason(ErrConsistency, "BAD_BLOCK_STATUS")
	ErrBadPrevStatus        = reason(ErrConsistency, "BAD_PREV_STATUS")
	ErrBadAfterStatus       = reason(ErrConsistency, "BAD_AFTER_STATUS")
	ErrEmptyAssertion       = reason(ErrConsistency, "EMPTY_ASSERTION")
	ErrTooSmall             = reason(ErrConsistency, "TOO_SMALL")
	ErrPrevStateHash        = reason(ErrConsistency, "PREV_STATE_HASH")
	ErrInboxBackwards       = reason(ErrConsistency, "INBOX_BACKWARDS")
	ErrInboxPosBackwards    = reason(ErrConsistency, "INBOX_POS_IN_MSG_BACKWARDS")
	ErrInboxPastEnd         = reason(ErrConsistency, "INBOX_PAST_END")
	ErrUnexpectedNodeHash   = reason(ErrConsistency, "UNEXPECTED_NODE_HASH")
	ErrNodeReorg            = reason(ErrConsistency, "NODE_REORG")
	ErrConfirmData          = reason(ErrConsistency, "CONFIRM_DATA")
	ErrWrongHash            = reason(ErrConsistency, "WH")
	ErrChallengeHash1       = reason(ErrConsistency, "CHAL_HASH1")
	ErrChallengeHash2       = reason(ErrConsistency, "CHAL_HASH2")
	ErrBisectionState       = reason(ErrConsistency, "BIS_STATE")
	ErrBadChallengePosition = reason(ErrConsistency, "BAD_CHALLENGE_POS")
	ErrTooShort             = reason(ErrConsistency, "TOO_SHORT")
	ErrTooLong              = reason(ErrConsistency, "TOO_LONG")
	ErrWrongDegree          = reason(ErrConsistency, "WRONG_DEGREE")
	ErrWrongStart           = reason(ErrConsistency, "WRONG_START")
	ErrSameEnd              = reason(ErrConsistency, "SAME_END")
	ErrChallengeTooShort    = reason(ErrConsistency, "CHALLENGE_TOO_SHORT")
	ErrChallengeTooLong     = reason(ErrConsistency, "CHALLENGE_TOO_LONG")
	ErrHaltedChange         = reason(ErrConsistency, "HALTED_CHANGE")
	ErrErrorChange          = reason(ErrConsistency, "ERROR_CHANGE")
	ErrSameOneStepEnd       = reason(ErrConsistency, "SAME_OSP_END")
)

// ErrAdminHalted is returned by every forced operation once a cross-check failed.
var ErrAdminHalted = reason(ErrFatal, "ADMIN_HALTED")

// CrossCheckError reports an inconsistency found while applying a forced
// administrative operation. It is both fatal and its underlying reason.
type CrossCheckError struct {
	Op    string
	Cause error
}

func (e *CrossCheckError) Error() string {
	return fmt.Sprintf("%s cross-check failed: %v", e.Op, e.Cause)
}

func (e *CrossCheckError) Unwrap() []error {
	return []error{ErrFatal, e.Cause}
}

// Code extracts the reason code from an error chain, or "" if there is none.
func Code(err error) string {
	var r *ReasonError
	if errors.As(err, &r) {
		return r.Code
	}
	return ""
}
