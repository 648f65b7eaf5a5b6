// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
)

// warnIfFastConfirmerNotValidator flags a fast confirmer that cannot act
// because it is not a whitelisted validator.
func (r *Rollup) warnIfFastConfirmerNotValidator() {
	if r.fastConfirmer == (common.Address{}) || r.validatorWhitelistDisabled || r.validators[r.fastConfirmer] {
		return
	}
	log.Warn("Fast confirmer is not a validator, fast confirmation will fail", "fastConfirmer", r.fastConfirmer)
}

// hasLiveRival reports whether a pending sibling of node is still backed by
// a live staker.
func (r *Rollup) hasLiveRival(node *Node) bool {
	for num := node.PrevNum + 1; num <= r.latestNodeCreated(); num++ {
		sibling := r.nodes[num]
		if num == node.Num || sibling.PrevNum != node.PrevNum || sibling.Status != NodePending {
			continue
		}
		if r.liveStakerCount(num) > 0 {
			return true
		}
	}
	return false
}

// FastConfirmNextNode lets the fast confirmer confirm the first unresolved
// node before its deadline, provided no live staker backs a rival.
func (r *Rollup) FastConfirmNextNode(caller common.Address, blockHash common.Hash, sendRoot common.Hash, expectedNodeHash common.Hash) error {
	return r.tx("fastConfirmNextNode", func(tx *activeTx) error {
		if r.fastConfirmer == (common.Address{}) || caller != r.fastConfirmer {
			return errors.Wrapf(protocol.ErrNotFastConfirmer, "%v", caller)
		}
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if err := r.requireUnresolvedExists(); err != nil {
			return err
		}
		node := r.nodes[r.firstUnresolved]
		if node.PrevNum != r.latestConfirmed {
			return errors.Wrapf(protocol.ErrInvalidPrev, "node %d builds on %d, latest confirmed is %d", node.Num, node.PrevNum, r.latestConfirmed)
		}
		if r.hasLiveRival(node) {
			return errors.Wrapf(protocol.ErrHasRival, "node %d", node.Num)
		}
		if node.NodeHash != expectedNodeHash {
			return errors.Wrapf(protocol.ErrWrongHash, "node %d has hash %v", node.Num, node.NodeHash)
		}
		if node.ConfirmData != protocol.ConfirmHash(blockHash, sendRoot) {
			return errors.Wrapf(protocol.ErrConfirmData, "node %d", node.Num)
		}
		r.removeOldZombies(0)
		r.confirmNode(tx, node, blockHash, sendRoot)
		log.Info("Node fast confirmed", "node", node.Num, "by", caller)
		return nil
	})
}
