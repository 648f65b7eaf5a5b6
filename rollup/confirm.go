// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/protocol"
)

func (r *Rollup) requireUnresolvedExists() error {
	if r.firstUnresolved > r.latestNodeCreated() {
		return errors.Wrapf(protocol.ErrNoUnresolved, "latest node %d", r.latestNodeCreated())
	}
	return nil
}

func (r *Rollup) requireUnresolved(nodeNum uint64) error {
	if nodeNum < r.firstUnresolved {
		return errors.Wrapf(protocol.ErrAlreadyDecided, "node %d", nodeNum)
	}
	if nodeNum > r.latestNodeCreated() {
		return errors.Wrapf(protocol.ErrDoesntExist, "node %d", nodeNum)
	}
	return nil
}

// countStakedZombies counts the zombies still recorded as backing nodeNum.
func (r *Rollup) countStakedZombies(nodeNum uint64) uint64 {
	var count uint64
	for _, z := range r.zombies {
		if r.nodeHasStaker(nodeNum, z.stakerAddress) {
			count++
		}
	}
	return count
}

// countZombiesStakedOnChildren counts the zombies that backed nodeNum and
// went on to back one of its children.
func (r *Rollup) countZombiesStakedOnChildren(nodeNum uint64) uint64 {
	var count uint64
	for _, z := range r.zombies {
		if z.latestStakedNode != nodeNum && r.nodeHasStaker(nodeNum, z.stakerAddress) {
			count++
		}
	}
	return count
}

func (r *Rollup) liveStakerCount(nodeNum uint64) uint64 {
	return r.nodes[nodeNum].StakerCount - r.countStakedZombies(nodeNum)
}

func (r *Rollup) removeZombieAt(index int) {
	last := len(r.zombies) - 1
	r.zombies[index] = r.zombies[last]
	r.zombies = r.zombies[:last]
}

// removeOldZombies sweeps zombies whose latest node is older than the latest
// confirmed node. They no longer affect any staker count that matters.
func (r *Rollup) removeOldZombies(startIndex int) {
	for i := startIndex; i < len(r.zombies); i++ {
		for r.zombies[i].latestStakedNode < r.latestConfirmed {
			log.Debug("Removing old zombie", "staker", r.zombies[i].stakerAddress, "latestStakedNode", r.zombies[i].latestStakedNode)
			r.removeZombieAt(i)
			if i >= len(r.zombies) {
				return
			}
		}
	}
}

func (r *Rollup) advanceFirstUnresolved() {
	for r.firstUnresolved <= r.latestNodeCreated() && r.nodes[r.firstUnresolved].Status == NodeRejected {
		r.firstUnresolved++
	}
}

func (r *Rollup) confirmNode(tx *activeTx, node *Node, blockHash common.Hash, sendRoot common.Hash) {
	node.Status = NodeConfirmed
	r.latestConfirmed = node.Num
	r.firstUnresolved = node.Num + 1
	r.advanceFirstUnresolved()
	tx.Emit(&protocol.NodeConfirmedEvent{
		NodeNum:   node.Num,
		BlockHash: blockHash,
		SendRoot:  sendRoot,
	})
	nodesConfirmedCounter.Inc(1)
	log.Info("Node confirmed", "node", node.Num, "blockHash", blockHash, "sendRoot", sendRoot)
}

// rejectNode marks a node rejected. Unchallenged live stakers whose latest
// node it was forfeit their stake and become zombies.
func (r *Rollup) rejectNode(tx *activeTx, node *Node) {
	node.Status = NodeRejected
	tx.Emit(&protocol.NodeRejectedEvent{NodeNum: node.Num})
	nodesRejectedCounter.Inc(1)
	log.Info("Node rejected", "node", node.Num)

	var stranded []*Staker
	for _, addr := range r.stakerList {
		staker := r.stakers[addr]
		if staker.LatestStakedNode != node.Num {
			continue
		}
		if staker.CurrentChallenge != 0 {
			log.Warn("Staker on rejected node is in a challenge", "staker", addr, "node", node.Num, "challenge", staker.CurrentChallenge)
			continue
		}
		stranded = append(stranded, staker)
	}
	for _, staker := range stranded {
		r.forfeitStake(tx, staker)
	}
	if r.firstUnresolved == node.Num {
		r.firstUnresolved++
		r.advanceFirstUnresolved()
	}
}

// rejectIfAbandoned rejects a pending node and its pending descendants once no
// live staker backs it.
func (r *Rollup) rejectIfAbandoned(tx *activeTx, nodeNum uint64) {
	node := r.nodes[nodeNum]
	if node.Status != NodePending || r.liveStakerCount(nodeNum) > 0 {
		return
	}
	doomed := map[uint64]bool{nodeNum: true}
	r.rejectNode(tx, node)
	for num := nodeNum + 1; num <= r.latestNodeCreated(); num++ {
		child := r.nodes[num]
		if doomed[child.PrevNum] && child.Status == NodePending {
			doomed[num] = true
			r.rejectNode(tx, child)
		}
	}
	r.advanceFirstUnresolved()
}

// ConfirmNextNode confirms the first unresolved node once its deadline passed
// and every live staker on its siblings has been eliminated.
func (r *Rollup) ConfirmNextNode(caller common.Address, blockHash common.Hash, sendRoot common.Hash) error {
	return r.tx("confirmNextNode", func(tx *activeTx) error {
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
		now := r.blocks.Get()
		if err := node.requirePastDeadline(now); err != nil {
			return err
		}
		prev := r.nodes[node.PrevNum]
		if err := prev.requirePastChildConfirmDeadline(now); err != nil {
			return err
		}
		stakedZombies := r.countStakedZombies(node.Num)
		if node.StakerCount <= stakedZombies {
			return errors.Wrapf(protocol.ErrNoStakers, "node %d", node.Num)
		}
		zombiesOnOtherChildren := r.countZombiesStakedOnChildren(prev.Num) - stakedZombies
		if prev.ChildStakerCount != node.StakerCount+zombiesOnOtherChildren {
			return errors.Wrapf(
				protocol.ErrNotAllStaked,
				"node %d has %d stakers, parent children have %d, zombies on siblings %d",
				node.Num, node.StakerCount, prev.ChildStakerCount, zombiesOnOtherChildren,
			)
		}
		if node.ConfirmData != protocol.ConfirmHash(blockHash, sendRoot) {
			return errors.Wrapf(protocol.ErrConfirmData, "node %d", node.Num)
		}
		r.removeOldZombies(0)
		r.confirmNode(tx, node, blockHash, sendRoot)
		return nil
	})
}

// RejectNextNode rejects the first unresolved node. If it builds on the latest
// confirmed node, stakerAddr must be a live staker on one of its siblings and
// the node may not be backed by any live staker.
func (r *Rollup) RejectNextNode(caller common.Address, stakerAddr common.Address) error {
	return r.tx("rejectNextNode", func(tx *activeTx) error {
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
		if node.PrevNum == r.latestConfirmed {
			staker, ok := r.stakers[stakerAddr]
			if !ok || !r.nodeHasStaker(r.latestConfirmed, stakerAddr) {
				return errors.Wrapf(protocol.ErrNotStaked, "%v", stakerAddr)
			}
			if err := r.requireUnresolved(staker.LatestStakedNode); err != nil {
				return err
			}
			if r.nodeHasStaker(node.Num, stakerAddr) {
				return errors.Wrapf(protocol.ErrStakedOnTarget, "%v on node %d", stakerAddr, node.Num)
			}
			now := r.blocks.Get()
			if err := node.requirePastDeadline(now); err != nil {
				return err
			}
			if err := r.nodes[r.latestConfirmed].requirePastChildConfirmDeadline(now); err != nil {
				return err
			}
			if node.StakerCount != r.countStakedZombies(node.Num) {
				return errors.Wrapf(protocol.ErrHasStakers, "node %d", node.Num)
			}
			r.removeOldZombies(0)
		}
		r.rejectNode(tx, node)
		return nil
	})
}

// RemoveZombie walks a zombie back towards the latest confirmed node for at
// most maxNodes nodes, and forgets it once it gets there.
func (r *Rollup) RemoveZombie(caller common.Address, zombieNum uint64, maxNodes uint64) error {
	return r.tx("removeZombie", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if zombieNum >= uint64(len(r.zombies)) {
			return errors.Wrapf(protocol.ErrNoSuchZombie, "zombie %d of %d", zombieNum, len(r.zombies))
		}
		z := &r.zombies[zombieNum]
		latest := z.latestStakedNode
		var removed uint64
		for latest >= r.latestConfirmed && removed < maxNodes {
			node := r.nodes[latest]
			r.removeStakerFromNode(latest, z.stakerAddress)
			removed++
			if latest == 0 {
				break
			}
			latest = node.PrevNum
		}
		if latest < r.latestConfirmed || (latest == 0 && removed > 0 && !r.nodeHasStaker(0, z.stakerAddress)) {
			log.Info("Zombie removed", "staker", z.stakerAddress)
			r.removeZombieAt(int(zombieNum))
		} else {
			z.latestStakedNode = latest
		}
		return nil
	})
}

// RemoveOldZombies sweeps zombies that no longer affect confirmation.
func (r *Rollup) RemoveOldZombies(caller common.Address, startIndex uint64) error {
	return r.tx("removeOldZombies", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if startIndex < uint64(len(r.zombies)) {
			r.removeOldZombies(int(startIndex))
		}
		return nil
	})
}
