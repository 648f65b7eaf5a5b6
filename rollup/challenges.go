// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

func (r *Rollup) requireChallengeHash(node *Node, reason error) error {
	executionHash, err := protocol.ExecutionHash(&node.Assertion)
	if err != nil {
		return err
	}
	if protocol.ChallengeRootHash(executionHash, node.CreatedAtBlock, node.WasmModuleRoot) != node.ChallengeHash {
		return errors.Wrapf(reason, "node %d", node.Num)
	}
	return nil
}

// CreateChallenge opens a challenge between stakers[0], who defends
// nodeNums[0], and stakers[1], who backs the later sibling nodeNums[1]. It
// returns the challenge id, or 0 if the later node was created too late to
// be defended and its staker lost on the spot.
func (r *Rollup) CreateChallenge(caller common.Address, stakers [2]common.Address, nodeNums [2]uint64) (uint64, error) {
	var challengeId uint64
	err := r.tx("createChallenge", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if nodeNums[0] >= nodeNums[1] {
			return errors.Wrapf(protocol.ErrWrongOrder, "nodes %d and %d", nodeNums[0], nodeNums[1])
		}
		if nodeNums[1] > r.latestNodeCreated() {
			return errors.Wrapf(protocol.ErrNotProposed, "node %d", nodeNums[1])
		}
		if nodeNums[0] <= r.latestConfirmed {
			return errors.Wrapf(protocol.ErrAlreadyConfirmed, "node %d", nodeNums[0])
		}
		node1 := r.nodes[nodeNums[0]]
		node2 := r.nodes[nodeNums[1]]
		for _, n := range []*Node{node1, node2} {
			if n.Status == NodeRejected {
				return errors.Wrapf(protocol.ErrNodeRejected, "node %d", n.Num)
			}
		}
		if node1.PrevNum != node2.PrevNum {
			return errors.Wrapf(protocol.ErrDiffPrev, "nodes %d and %d", node1.Num, node2.Num)
		}
		asserter, err := r.requireUnchallengedStaker(stakers[0])
		if err != nil {
			return err
		}
		challenger, err := r.requireUnchallengedStaker(stakers[1])
		if err != nil {
			return err
		}
		for _, n := range nodeNums {
			if err := r.requireNodeNotInChallenge(n); err != nil {
				return err
			}
		}
		if !r.nodeHasStaker(node1.Num, asserter.Address) {
			return errors.Wrapf(protocol.ErrStaker1NotStaked, "%v on node %d", asserter.Address, node1.Num)
		}
		if !r.nodeHasStaker(node2.Num, challenger.Address) {
			return errors.Wrapf(protocol.ErrStaker2NotStaked, "%v on node %d", challenger.Address, node2.Num)
		}
		if err := r.requireChallengeHash(node1, protocol.ErrChallengeHash1); err != nil {
			return err
		}
		if err := r.requireChallengeHash(node2, protocol.ErrChallengeHash2); err != nil {
			return err
		}

		// The dispute window of a node opens when the first child of its
		// parent is created.
		commonEndBlock := r.nodes[node1.PrevNum].FirstChildBlock +
			(node1.DeadlineBlock - node1.CreatedAtBlock) +
			r.extraChallengeTimeBlocks
		if commonEndBlock < node2.CreatedAtBlock {
			log.Info("Challenged node was created too late", "node", node2.Num, "created", node2.CreatedAtBlock, "commonEndBlock", commonEndBlock)
			return r.completeChallengeImpl(tx, 0, asserter, challenger, node2.Num)
		}

		id, err := r.challenges.CreateChallenge(&challenge.CreateParams{
			WasmModuleRoot: node1.WasmModuleRoot,
			StartAndEndMachineStatuses: [2]protocol.MachineStatus{
				node1.Assertion.BeforeState.MachineStatus,
				node1.Assertion.AfterState.MachineStatus,
			},
			StartAndEndGlobalStates: [2]protocol.GoGlobalState{
				node1.Assertion.BeforeState.GlobalState,
				node1.Assertion.AfterState.GlobalState,
			},
			NumBlocks:          node1.Assertion.NumBlocks,
			Asserter:           asserter.Address,
			Challenger:         challenger.Address,
			AsserterTimeLeft:   arbmath.SaturatingUSub(commonEndBlock, node1.CreatedAtBlock),
			ChallengerTimeLeft: arbmath.SaturatingUSub(commonEndBlock, node2.CreatedAtBlock),
		})
		if err != nil {
			return err
		}
		asserter.CurrentChallenge = id
		challenger.CurrentChallenge = id
		r.challengeNodes[id] = [2]uint64{node1.Num, node2.Num}
		r.nodeChallenges[node1.Num] = id
		r.nodeChallenges[node2.Num] = id
		tx.Emit(&protocol.RollupChallengeStartedEvent{
			ChallengeId:   id,
			Asserter:      asserter.Address,
			Challenger:    challenger.Address,
			ChallengedNum: node1.Num,
		})
		challengeId = id
		return nil
	})
	return challengeId, err
}

// completeChallenge is called by the challenge game when a challenge ends.
func (r *Rollup) completeChallenge(tx *activeTx, challengeId uint64, winnerAddr common.Address, loserAddr common.Address) error {
	if err := r.requireNotPaused(); err != nil {
		return err
	}
	winner, ok := r.stakers[winnerAddr]
	if !ok || winner.CurrentChallenge != challengeId {
		return errors.Wrapf(protocol.ErrNotInChallenge, "%v in challenge %d", winnerAddr, challengeId)
	}
	loser, ok := r.stakers[loserAddr]
	if !ok || loser.CurrentChallenge != challengeId {
		return errors.Wrapf(protocol.ErrNotInChallenge, "%v in challenge %d", loserAddr, challengeId)
	}
	nodes := r.challengeNodes[challengeId]
	loserNode := nodes[0]
	if r.nodeHasStaker(nodes[1], loserAddr) {
		loserNode = nodes[1]
	}
	delete(r.challengeNodes, challengeId)
	delete(r.nodeChallenges, nodes[0])
	delete(r.nodeChallenges, nodes[1])
	return r.completeChallengeImpl(tx, challengeId, winner, loser, loserNode)
}

// completeChallengeImpl settles a lost challenge. The part of the loser's
// stake above the winner's is refunded to the loser; half of the rest goes to
// the winner and the other half to the loser stake escrow.
func (r *Rollup) completeChallengeImpl(tx *activeTx, challengeId uint64, winner *Staker, loser *Staker, loserNode uint64) error {
	remainingLoserStake := arbmath.BigCopy(loser.AmountStaked)
	if arbmath.BigGreaterThan(remainingLoserStake, winner.AmountStaked) {
		refund := r.reduceStakeTo(tx, loser, winner.AmountStaked)
		remainingLoserStake = arbmath.BigSub(remainingLoserStake, refund)
	}
	amountWon := arbmath.BigDivByUint(remainingLoserStake, 2)
	r.increaseStakeBy(tx, winner, amountWon)
	remainingLoserStake = arbmath.BigSub(remainingLoserStake, amountWon)
	winner.CurrentChallenge = 0

	r.setStake(tx, loser, new(big.Int))
	r.increaseWithdrawableFunds(tx, r.loserStakeEscrow, remainingLoserStake)
	loser.CurrentChallenge = 0
	r.turnIntoZombie(tx, loser)

	tx.Emit(&protocol.ChallengeResolvedEvent{
		ChallengeId: challengeId,
		Winner:      winner.Address,
		Loser:       loser.Address,
	})
	log.Info("Challenge resolved", "challenge", challengeId, "winner", winner.Address, "loser", loser.Address, "amountWon", amountWon)
	r.rejectIfAbandoned(tx, loserNode)
	return nil
}

func (r *Rollup) challengeMove(op string, clo func() error) error {
	return r.tx(op, func(tx *activeTx) error {
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		return clo()
	})
}

// BisectExecution splits the selected segment of a challenge.
func (r *Rollup) BisectExecution(caller common.Address, challengeId uint64, selection *challenge.SegmentSelection, newSegments []common.Hash) error {
	return r.challengeMove("bisectExecution", func() error {
		return r.challenges.BisectExecution(caller, challengeId, selection, newSegments)
	})
}

// ChallengeExecution turns a single disputed block into a machine execution challenge.
func (r *Rollup) ChallengeExecution(
	caller common.Address,
	challengeId uint64,
	selection *challenge.SegmentSelection,
	machineStatuses [2]protocol.MachineStatus,
	globalStateHashes [2]common.Hash,
	numSteps uint64,
) error {
	return r.challengeMove("challengeExecution", func() error {
		return r.challenges.ChallengeExecution(caller, challengeId, selection, machineStatuses, globalStateHashes, numSteps)
	})
}

// OneStepProveExecution settles a single disputed machine step with the prover.
func (r *Rollup) OneStepProveExecution(ctx context.Context, caller common.Address, challengeId uint64, selection *challenge.SegmentSelection, proof []byte) error {
	return r.challengeMove("oneStepProveExecution", func() error {
		return r.challenges.OneStepProveExecution(ctx, caller, challengeId, selection, proof)
	})
}

// Timeout ends a challenge whose party on turn ran out of time. Anyone may call it.
func (r *Rollup) Timeout(caller common.Address, challengeId uint64) error {
	return r.challengeMove("timeout", func() error {
		log.Debug("Challenge timeout requested", "challenge", challengeId, "by", caller)
		return r.challenges.Timeout(challengeId)
	})
}
