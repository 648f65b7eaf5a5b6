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

func (r *Rollup) nodeHasStaker(nodeNum uint64, addr common.Address) bool {
	return r.nodeStakers[nodeNum][addr]
}

// addStaker records addr as backing nodeNum. The first staker of a node opens
// the confirm window of its parent's children.
func (r *Rollup) addStaker(nodeNum uint64, addr common.Address) {
	r.nodeStakers[nodeNum][addr] = true
	node := r.nodes[nodeNum]
	prevCount := node.StakerCount
	node.StakerCount++
	if nodeNum > 0 {
		parent := r.nodes[node.PrevNum]
		parent.ChildStakerCount++
		if prevCount == 0 {
			parent.NoChildConfirmedBeforeBlock = r.blocks.Get() + r.confirmPeriodBlocks
		}
	}
}

func (r *Rollup) removeStakerFromNode(nodeNum uint64, addr common.Address) {
	if !r.nodeHasStaker(nodeNum, addr) {
		return
	}
	delete(r.nodeStakers[nodeNum], addr)
	node := r.nodes[nodeNum]
	node.StakerCount--
	if nodeNum > 0 {
		r.nodes[node.PrevNum].ChildStakerCount--
	}
}

func (r *Rollup) stakeOnNode(tx *activeTx, staker *Staker, nodeNum uint64) {
	r.addStaker(nodeNum, staker.Address)
	staker.LatestStakedNode = nodeNum
	tx.Emit(&protocol.NodeStakedEvent{NodeNum: nodeNum, Staker: staker.Address})
}

// prepareNode validates an assertion against its parent and the inbox and
// builds the node it would create. It does not modify the rollup.
func (r *Rollup) prepareNode(prevNum uint64, assertion *protocol.Assertion) (*Node, error) {
	if assertion == nil {
		return nil, errors.Wrap(protocol.ErrEmptyAssertion, "nil assertion")
	}
	prev := r.nodes[prevNum]
	afterStatus := assertion.AfterState.MachineStatus
	if afterStatus != protocol.MachineStatusFinished && afterStatus != protocol.MachineStatusErrored {
		return nil, errors.Wrapf(protocol.ErrBadAfterStatus, "status %v", afterStatus)
	}
	if protocol.ComputeStateHash(&assertion.BeforeState, prev.InboxMaxCount) != prev.StateHash {
		return nil, errors.Wrapf(protocol.ErrPrevStateHash, "node %d", prevNum)
	}
	before := assertion.BeforeState.GlobalState
	after := assertion.AfterState.GlobalState
	if after.Batch < before.Batch {
		return nil, errors.Wrapf(protocol.ErrInboxBackwards, "batch %d before %d", after.Batch, before.Batch)
	}
	if after.Batch == before.Batch && after.PosInBatch < before.PosInBatch {
		return nil, errors.Wrapf(protocol.ErrInboxPosBackwards, "position %d before %d", after.PosInBatch, before.PosInBatch)
	}
	afterInboxCount := assertion.AfterState.RequiredBatches()
	currentInboxSize := r.inbox.BatchCount()
	if afterInboxCount > currentInboxSize {
		return nil, errors.Wrapf(protocol.ErrInboxPastEnd, "requires %d batches, inbox has %d", afterInboxCount, currentInboxSize)
	}
	var inboxAcc common.Hash
	if afterInboxCount > 0 {
		acc, err := r.inbox.InboxAcc(afterInboxCount - 1)
		if err != nil {
			return nil, errors.Wrapf(err, "reading inbox accumulator %d", afterInboxCount-1)
		}
		inboxAcc = acc
	}
	executionHash, err := protocol.ExecutionHash(assertion)
	if err != nil {
		return nil, err
	}

	hasSibling := prev.LatestChildNumber > 0
	lastHash := prev.NodeHash
	if hasSibling {
		lastHash = r.nodes[prev.LatestChildNumber].NodeHash
	}
	now := r.blocks.Get()
	deadline := arbmath.SaturatingUAdd(now, arbmath.MaxInt(r.minimumAssertionPeriod, r.confirmPeriodBlocks))
	if prev.DeadlineBlock > deadline {
		deadline = prev.DeadlineBlock
	}
	return &Node{
		Num:            uint64(len(r.nodes)),
		PrevNum:        prevNum,
		Assertion:      *assertion,
		StateHash:      protocol.ComputeStateHash(&assertion.AfterState, currentInboxSize),
		ExecutionHash:  executionHash,
		ChallengeHash:  protocol.ChallengeRootHash(executionHash, now, r.wasmModuleRoot),
		ConfirmData:    protocol.AssertionConfirmHash(assertion),
		NodeHash:       protocol.NodeHash(hasSibling, lastHash, executionHash, inboxAcc, r.wasmModuleRoot),
		InboxAcc:       inboxAcc,
		InboxMaxCount:  currentInboxSize,
		WasmModuleRoot: r.wasmModuleRoot,
		DeadlineBlock:  deadline,
		CreatedAtBlock: now,
		Status:         NodePending,
	}, nil
}

func (r *Rollup) appendNode(tx *activeTx, node *Node, creator common.Address) {
	r.nodes[node.PrevNum].childCreated(node.Num, node.CreatedAtBlock)
	r.nodes = append(r.nodes, node)
	r.nodeStakers[node.Num] = make(map[common.Address]bool)
	tx.Emit(&protocol.NodeCreatedEvent{
		NodeNum:        node.Num,
		PrevNum:        node.PrevNum,
		ParentNodeHash: r.nodes[node.PrevNum].NodeHash,
		NodeHash:       node.NodeHash,
		ExecutionHash:  node.ExecutionHash,
		Assertion:      node.Assertion,
		InboxAcc:       node.InboxAcc,
		WasmModuleRoot: node.WasmModuleRoot,
		InboxMaxCount:  node.InboxMaxCount,
		Staker:         creator,
	})
	nodesCreatedCounter.Inc(1)
	log.Info(
		"Node created",
		"node", node.Num,
		"prev", node.PrevNum,
		"hash", node.NodeHash,
		"deadline", node.DeadlineBlock,
		"blocks", node.Assertion.NumBlocks,
		"staker", creator,
	)
}

// pendingChildWithExecution finds a pending child of prevNum making the same claim.
func (r *Rollup) pendingChildWithExecution(prevNum uint64, executionHash common.Hash) *Node {
	for num := prevNum + 1; num < uint64(len(r.nodes)); num++ {
		node := r.nodes[num]
		if node.PrevNum == prevNum && node.Status == NodePending && node.ExecutionHash == executionHash {
			return node
		}
	}
	return nil
}

func (r *Rollup) requireNodeNotInChallenge(nodeNum uint64) error {
	if id, ok := r.nodeChallenges[nodeNum]; ok {
		return errors.Wrapf(protocol.ErrInChallenge, "node %d is in challenge %d", nodeNum, id)
	}
	return nil
}

// stakeCheck validates the stake a caller would hold after adding stakeDelta
// and returns it.
func (r *Rollup) stakeCheck(caller common.Address, stakeDelta *big.Int) (*Staker, *big.Int, error) {
	if stakeDelta == nil {
		stakeDelta = new(big.Int)
	}
	if stakeDelta.Sign() < 0 {
		return nil, nil, errors.Wrapf(protocol.ErrNotEnoughStake, "negative stake delta %v", stakeDelta)
	}
	staker, ok := r.stakers[caller]
	total := arbmath.BigCopy(stakeDelta)
	if ok {
		if stakeDelta.Sign() > 0 && staker.CurrentChallenge != 0 {
			return nil, nil, errors.Wrapf(protocol.ErrInChallenge, "%v is in challenge %d", caller, staker.CurrentChallenge)
		}
		total = arbmath.BigAdd(staker.AmountStaked, stakeDelta)
	} else if r.isZombie(caller) {
		return nil, nil, errors.Wrapf(protocol.ErrStakerIsZombie, "%v", caller)
	}
	if err := r.requireEnoughStake(total); err != nil {
		return nil, nil, err
	}
	return staker, stakeDelta, nil
}

// applyStakeDelta opens or tops up the caller's stake once every check passed.
func (r *Rollup) applyStakeDelta(tx *activeTx, staker *Staker, caller common.Address, stakeDelta *big.Int) *Staker {
	if staker == nil {
		return r.createNewStake(tx, caller, stakeDelta)
	}
	if stakeDelta.Sign() > 0 {
		r.increaseStakeBy(tx, staker, stakeDelta)
	}
	return staker
}

// CreateAssertion creates a child of prevNum and stakes the caller on it. A
// caller without a stake is staked with stakeDelta first. If a pending sibling
// already makes the same claim the caller joins it instead.
func (r *Rollup) CreateAssertion(
	caller common.Address,
	prevNum uint64,
	assertion *protocol.Assertion,
	expectedNodeHash common.Hash,
	stakeDelta *big.Int,
) (uint64, error) {
	var nodeNum uint64
	err := r.tx("createAssertion", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if assertion == nil {
			return errors.Wrap(protocol.ErrEmptyAssertion, "nil assertion")
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		staker, delta, err := r.stakeCheck(caller, stakeDelta)
		if err != nil {
			return err
		}
		latest := r.latestConfirmed
		if staker != nil {
			latest = staker.LatestStakedNode
		}
		if prevNum != latest {
			return errors.Wrapf(protocol.ErrNotStakedPrev, "staked on %d, building on %d", latest, prevNum)
		}
		prev := r.nodes[prevNum]
		if prev.Status == NodeRejected {
			return errors.Wrapf(protocol.ErrNodeRejected, "node %d", prevNum)
		}
		now := r.blocks.Get()
		if now-prev.CreatedAtBlock < r.minimumAssertionPeriod {
			return errors.Wrapf(protocol.ErrTimeDelta, "%d blocks since node %d", now-prev.CreatedAtBlock, prevNum)
		}
		if assertion.AfterState.MachineStatus != protocol.MachineStatusErrored &&
			assertion.AfterState.GlobalState.Batch < prev.InboxMaxCount {
			return errors.Wrapf(protocol.ErrTooSmall, "batch %d, parent saw %d", assertion.AfterState.GlobalState.Batch, prev.InboxMaxCount)
		}
		if assertion.NumBlocks == 0 {
			return protocol.ErrEmptyAssertion
		}
		if assertion.BeforeState.MachineStatus != protocol.MachineStatusFinished {
			return errors.Wrapf(protocol.ErrBadPrevStatus, "status %v", assertion.BeforeState.MachineStatus)
		}
		candidate, err := r.prepareNode(prevNum, assertion)
		if err != nil {
			return err
		}
		target := r.pendingChildWithExecution(prevNum, candidate.ExecutionHash)
		if target != nil {
			if expectedNodeHash != (common.Hash{}) && expectedNodeHash != target.NodeHash {
				return errors.Wrapf(protocol.ErrUnexpectedNodeHash, "existing node %d has hash %v", target.Num, target.NodeHash)
			}
			if err := r.requireNodeNotInChallenge(target.Num); err != nil {
				return err
			}
		} else if expectedNodeHash != (common.Hash{}) && expectedNodeHash != candidate.NodeHash {
			return errors.Wrapf(protocol.ErrUnexpectedNodeHash, "expected %v, computed %v", expectedNodeHash, candidate.NodeHash)
		}

		staker = r.applyStakeDelta(tx, staker, caller, delta)
		if target == nil {
			r.appendNode(tx, candidate, caller)
			target = candidate
		} else {
			log.Info("Joining existing node with the same claim", "node", target.Num, "staker", caller)
		}
		r.stakeOnNode(tx, staker, target.Num)
		nodeNum = target.Num
		return nil
	})
	return nodeNum, err
}

// StakeOnExisting moves the caller's stake from a node onto one of its
// pending children.
func (r *Rollup) StakeOnExisting(caller common.Address, nodeNum uint64, nodeHash common.Hash, stakeDelta *big.Int) error {
	return r.tx("stakeOnExisting", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if nodeNum < r.firstUnresolved || nodeNum > r.latestNodeCreated() {
			return errors.Wrapf(protocol.ErrNodeOutOfRange, "node %d not in [%d, %d]", nodeNum, r.firstUnresolved, r.latestNodeCreated())
		}
		node := r.nodes[nodeNum]
		if node.NodeHash != nodeHash {
			return errors.Wrapf(protocol.ErrNodeReorg, "node %d has hash %v", nodeNum, node.NodeHash)
		}
		if node.Status == NodeRejected {
			return errors.Wrapf(protocol.ErrNodeRejected, "node %d", nodeNum)
		}
		staker, delta, err := r.stakeCheck(caller, stakeDelta)
		if err != nil {
			return err
		}
		latest := r.latestConfirmed
		if staker != nil {
			latest = staker.LatestStakedNode
		}
		if latest != node.PrevNum {
			return errors.Wrapf(protocol.ErrNotStakedPrev, "staked on %d, node %d builds on %d", latest, nodeNum, node.PrevNum)
		}
		if err := r.requireNodeNotInChallenge(nodeNum); err != nil {
			return err
		}
		if r.nodeHasStaker(nodeNum, caller) {
			return errors.Wrapf(protocol.ErrAlreadyStaked, "%v on node %d", caller, nodeNum)
		}
		staker = r.applyStakeDelta(tx, staker, caller, delta)
		r.stakeOnNode(tx, staker, nodeNum)
		return nil
	})
}
