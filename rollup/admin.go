// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

// ErrInvalidParameter is returned by setters given an unusable value.
var ErrInvalidParameter = errors.New("invalid parameter")

// Ids reported by OwnerFunctionCalledEvent.
const (
	ownerPause                = 3
	ownerResume               = 4
	ownerSetValidators        = 6
	ownerSetOwner             = 7
	ownerSetMinAssertPeriod   = 8
	ownerSetConfirmPeriod     = 9
	ownerSetExtraChallenge    = 10
	ownerSetBaseStake         = 12
	ownerForceResolve         = 21
	ownerForceRefund          = 22
	ownerForceCreateNode      = 23
	ownerForceConfirmNode     = 24
	ownerSetLoserStakeEscrow  = 25
	ownerSetWasmModuleRoot    = 26
	ownerSetWhitelistDisabled = 30
	ownerSetFastConfirmer     = 31
	ownerClearAdminHalt       = 40
)

// ownerTx runs an owner-only call and reports it with OwnerFunctionCalledEvent.
func (r *Rollup) ownerTx(op string, caller common.Address, id uint64, clo func(tx *activeTx) error) error {
	return r.tx(op, func(tx *activeTx) error {
		if err := r.requireOwner(caller); err != nil {
			return err
		}
		if err := clo(tx); err != nil {
			return err
		}
		tx.Emit(&protocol.OwnerFunctionCalledEvent{Id: id})
		return nil
	})
}

// forceTx runs a forced call. Forced calls need the rollup paused and are
// refused once a cross-check latched a halt.
func (r *Rollup) forceTx(op string, caller common.Address, id uint64, clo func(tx *activeTx) error) error {
	return r.ownerTx(op, caller, id, func(tx *activeTx) error {
		if err := r.requirePaused(); err != nil {
			return err
		}
		if r.adminHalted {
			return errors.Wrapf(protocol.ErrAdminHalted, "%s", r.haltReason)
		}
		return clo(tx)
	})
}

// latchHalt stops every further forced call after a cross-check failure.
func (r *Rollup) latchHalt(tx *activeTx, op string, cause error) error {
	r.adminHalted = true
	r.haltReason = cause.Error()
	tx.emitPersistent(&protocol.AdminHaltedEvent{Op: op, Reason: r.haltReason})
	log.Error("Forced operation failed a cross-check, halting forced operations", "op", op, "err", cause)
	return &protocol.CrossCheckError{Op: op, Cause: cause}
}

func (r *Rollup) Pause(caller common.Address) error {
	return r.ownerTx("pause", caller, ownerPause, func(tx *activeTx) error {
		if r.paused {
			return protocol.ErrAlreadyPaused
		}
		r.paused = true
		r.pausedAt = r.blocks.Get()
		tx.Emit(&protocol.PausedEvent{Account: caller})
		log.Warn("Rollup paused", "by", caller)
		return nil
	})
}

func (r *Rollup) Resume(caller common.Address) error {
	return r.ownerTx("resume", caller, ownerResume, func(tx *activeTx) error {
		if err := r.requirePaused(); err != nil {
			return err
		}
		r.paused = false
		pausedFor := arbmath.SaturatingUSub(r.blocks.Get(), r.pausedAt)
		r.challenges.ShiftClocks(pausedFor)
		tx.Emit(&protocol.ResumedEvent{Account: caller})
		log.Info("Rollup resumed", "by", caller, "pausedBlocks", pausedFor)
		return nil
	})
}

// SetValidators sets the whitelist status of each address in validators.
func (r *Rollup) SetValidators(caller common.Address, validators []common.Address, allowed []bool) error {
	return r.ownerTx("setValidators", caller, ownerSetValidators, func(tx *activeTx) error {
		if len(validators) == 0 {
			return protocol.ErrEmptyArray
		}
		if len(validators) != len(allowed) {
			return errors.Wrapf(protocol.ErrWrongLength, "%d validators, %d flags", len(validators), len(allowed))
		}
		for i, v := range validators {
			if allowed[i] {
				r.validators[v] = true
			} else {
				delete(r.validators, v)
			}
		}
		r.warnIfFastConfirmerNotValidator()
		return nil
	})
}

func (r *Rollup) SetOwner(caller common.Address, newOwner common.Address) error {
	return r.ownerTx("setOwner", caller, ownerSetOwner, func(tx *activeTx) error {
		if newOwner == (common.Address{}) {
			return errors.Wrap(ErrInvalidParameter, "owner may not be the zero address")
		}
		log.Info("Rollup owner changed", "old", r.owner, "new", newOwner)
		r.owner = newOwner
		return nil
	})
}

func (r *Rollup) SetMinimumAssertionPeriod(caller common.Address, blocks uint64) error {
	return r.ownerTx("setMinimumAssertionPeriod", caller, ownerSetMinAssertPeriod, func(tx *activeTx) error {
		r.minimumAssertionPeriod = blocks
		return nil
	})
}

func (r *Rollup) SetConfirmPeriodBlocks(caller common.Address, blocks uint64) error {
	return r.ownerTx("setConfirmPeriodBlocks", caller, ownerSetConfirmPeriod, func(tx *activeTx) error {
		if blocks == 0 {
			return errors.Wrap(ErrInvalidParameter, "confirm period must be positive")
		}
		r.confirmPeriodBlocks = blocks
		return nil
	})
}

func (r *Rollup) SetExtraChallengeTimeBlocks(caller common.Address, blocks uint64) error {
	return r.ownerTx("setExtraChallengeTimeBlocks", caller, ownerSetExtraChallenge, func(tx *activeTx) error {
		r.extraChallengeTimeBlocks = blocks
		return nil
	})
}

func (r *Rollup) SetBaseStake(caller common.Address, stake *big.Int) error {
	return r.ownerTx("setBaseStake", caller, ownerSetBaseStake, func(tx *activeTx) error {
		if stake == nil || stake.Sign() <= 0 {
			return errors.Wrapf(ErrInvalidParameter, "base stake %v", stake)
		}
		r.baseStake = arbmath.BigCopy(stake)
		return nil
	})
}

func (r *Rollup) SetLoserStakeEscrow(caller common.Address, escrow common.Address) error {
	return r.ownerTx("setLoserStakeEscrow", caller, ownerSetLoserStakeEscrow, func(tx *activeTx) error {
		if escrow == (common.Address{}) {
			return errors.Wrap(ErrInvalidParameter, "escrow may not be the zero address")
		}
		r.loserStakeEscrow = escrow
		return nil
	})
}

func (r *Rollup) SetWasmModuleRoot(caller common.Address, root common.Hash) error {
	return r.ownerTx("setWasmModuleRoot", caller, ownerSetWasmModuleRoot, func(tx *activeTx) error {
		r.wasmModuleRoot = root
		return nil
	})
}

func (r *Rollup) SetValidatorWhitelistDisabled(caller common.Address, disabled bool) error {
	return r.ownerTx("setValidatorWhitelistDisabled", caller, ownerSetWhitelistDisabled, func(tx *activeTx) error {
		r.validatorWhitelistDisabled = disabled
		r.warnIfFastConfirmerNotValidator()
		return nil
	})
}

// SetFastConfirmer designates the fast confirmer. The zero address disables
// fast confirmation.
func (r *Rollup) SetFastConfirmer(caller common.Address, confirmer common.Address) error {
	return r.ownerTx("setFastConfirmer", caller, ownerSetFastConfirmer, func(tx *activeTx) error {
		r.fastConfirmer = confirmer
		r.warnIfFastConfirmerNotValidator()
		return nil
	})
}

// ForceResolveChallenge clears the challenges of each pair stakerA[i],
// stakerB[i] without deciding a winner.
func (r *Rollup) ForceResolveChallenge(caller common.Address, stakerA []common.Address, stakerB []common.Address) error {
	return r.forceTx("forceResolveChallenge", caller, ownerForceResolve, func(tx *activeTx) error {
		if len(stakerA) == 0 {
			return protocol.ErrEmptyArray
		}
		if len(stakerA) != len(stakerB) {
			return errors.Wrapf(protocol.ErrWrongLength, "%d and %d stakers", len(stakerA), len(stakerB))
		}
		seen := make(map[uint64]bool)
		for i := range stakerA {
			a, okA := r.stakers[stakerA[i]]
			b, okB := r.stakers[stakerB[i]]
			if !okA || !okB || a.CurrentChallenge == 0 {
				return errors.Wrapf(protocol.ErrNotInChallenge, "%v and %v", stakerA[i], stakerB[i])
			}
			if a == b || a.CurrentChallenge != b.CurrentChallenge || seen[a.CurrentChallenge] {
				return errors.Wrapf(protocol.ErrDiffInChallenge, "%v in %d, %v in %d", a.Address, a.CurrentChallenge, b.Address, b.CurrentChallenge)
			}
			info, err := r.challenges.Info(a.CurrentChallenge)
			if err != nil {
				return r.latchHalt(tx, "forceResolveChallenge", errors.Wrapf(err, "staker %v points at challenge %d", a.Address, a.CurrentChallenge))
			}
			parties := map[common.Address]bool{info.Asserter: true, info.Challenger: true}
			if !parties[a.Address] || !parties[b.Address] {
				return errors.Wrapf(protocol.ErrDiffInChallenge, "%v and %v are not the parties of challenge %d", a.Address, b.Address, info.Id)
			}
			seen[a.CurrentChallenge] = true
		}
		for i := range stakerA {
			a := r.stakers[stakerA[i]]
			b := r.stakers[stakerB[i]]
			id := a.CurrentChallenge
			if err := r.challenges.ClearChallenge(id); err != nil {
				return err
			}
			a.CurrentChallenge = 0
			b.CurrentChallenge = 0
			nodes := r.challengeNodes[id]
			delete(r.challengeNodes, id)
			delete(r.nodeChallenges, nodes[0])
			delete(r.nodeChallenges, nodes[1])
			log.Warn("Challenge force resolved", "challenge", id, "stakerA", a.Address, "stakerB", b.Address)
		}
		return nil
	})
}

// ForceRefundStaker returns the whole stake of each staker to its
// withdrawable funds and turns it into a zombie.
func (r *Rollup) ForceRefundStaker(caller common.Address, stakers []common.Address) error {
	return r.forceTx("forceRefundStaker", caller, ownerForceRefund, func(tx *activeTx) error {
		if len(stakers) == 0 {
			return protocol.ErrEmptyArray
		}
		for _, addr := range stakers {
			staker, err := r.requireStaked(addr)
			if err != nil {
				return err
			}
			if staker.CurrentChallenge != 0 {
				return errors.Wrapf(protocol.ErrStakerInChallenge, "%v is in challenge %d", addr, staker.CurrentChallenge)
			}
		}
		for _, addr := range stakers {
			staker, ok := r.stakers[addr]
			if !ok {
				// listed twice
				continue
			}
			r.reduceStakeTo(tx, staker, new(big.Int))
			r.turnIntoZombie(tx, staker)
			log.Warn("Staker force refunded", "staker", addr)
		}
		return nil
	})
}

// ForceCreateNode appends a child of the latest confirmed node without
// staking on it. A node that does not chain to committed state halts
// forced operations.
func (r *Rollup) ForceCreateNode(caller common.Address, prevNum uint64, assertion *protocol.Assertion, expectedNodeHash common.Hash) (uint64, error) {
	var nodeNum uint64
	err := r.forceTx("forceCreateNode", caller, ownerForceCreateNode, func(tx *activeTx) error {
		if prevNum != r.latestConfirmed {
			return errors.Wrapf(protocol.ErrOnlyLatestConfirmed, "prev %d, latest confirmed %d", prevNum, r.latestConfirmed)
		}
		node, err := r.prepareNode(prevNum, assertion)
		if errors.Is(err, protocol.ErrPrevStateHash) {
			return r.latchHalt(tx, "forceCreateNode", err)
		}
		if err != nil {
			return err
		}
		if node.NodeHash != expectedNodeHash {
			return r.latchHalt(tx, "forceCreateNode", errors.Wrapf(protocol.ErrUnexpectedNodeHash, "expected %v, computed %v", expectedNodeHash, node.NodeHash))
		}
		r.appendNode(tx, node, caller)
		nodeNum = node.Num
		return nil
	})
	return nodeNum, err
}

// ForceConfirmNode confirms a child of the latest confirmed node without
// deadline or staker checks. Pending nodes before it are rejected.
func (r *Rollup) ForceConfirmNode(caller common.Address, nodeNum uint64, blockHash common.Hash, sendRoot common.Hash) error {
	return r.forceTx("forceConfirmNode", caller, ownerForceConfirmNode, func(tx *activeTx) error {
		if nodeNum < r.firstUnresolved || nodeNum > r.latestNodeCreated() {
			return errors.Wrapf(protocol.ErrNodeOutOfRange, "node %d not in [%d, %d]", nodeNum, r.firstUnresolved, r.latestNodeCreated())
		}
		node := r.nodes[nodeNum]
		if node.Status == NodeRejected {
			return errors.Wrapf(protocol.ErrNodeRejected, "node %d", nodeNum)
		}
		if node.PrevNum != r.latestConfirmed {
			return errors.Wrapf(protocol.ErrInvalidPrev, "node %d builds on %d, latest confirmed is %d", nodeNum, node.PrevNum, r.latestConfirmed)
		}
		if node.ConfirmData != protocol.ConfirmHash(blockHash, sendRoot) {
			return r.latchHalt(tx, "forceConfirmNode", errors.Wrapf(protocol.ErrConfirmData, "node %d", nodeNum))
		}
		for num := r.firstUnresolved; num < nodeNum; num++ {
			if r.nodes[num].Status == NodePending {
				r.rejectNode(tx, r.nodes[num])
			}
		}
		r.confirmNode(tx, node, blockHash, sendRoot)
		log.Warn("Node force confirmed", "node", nodeNum)
		return nil
	})
}

// ClearAdminHalt lets forced operations run again after a cross-check failure.
func (r *Rollup) ClearAdminHalt(caller common.Address) error {
	return r.ownerTx("clearAdminHalt", caller, ownerClearAdminHalt, func(tx *activeTx) error {
		if !r.adminHalted {
			return nil
		}
		log.Warn("Admin halt cleared", "reason", r.haltReason)
		r.adminHalted = false
		r.haltReason = ""
		return nil
	})
}
