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

// Stake escalation: every tenth of a confirm period past the deadline of the
// first unresolved node multiplies the base stake by 2^(1/10), in millionths.
var escalationMillionths = [10]uint64{1000000, 1071773, 1148698, 1231144, 1319508, 1414214, 1515717, 1624505, 1741101, 1866066}

const maxEscalationPeriods = 2550

func (r *Rollup) currentRequiredStake() *big.Int {
	if !r.stakeEscalation || r.firstUnresolved > r.latestNodeCreated() {
		return arbmath.BigCopy(r.baseStake)
	}
	deadline := r.nodes[r.firstUnresolved].DeadlineBlock
	now := r.blocks.Get()
	if now < deadline {
		return arbmath.BigCopy(r.baseStake)
	}
	periodsPassed := arbmath.SaturatingUMul(now-deadline, 10) / r.confirmPeriodBlocks
	if periodsPassed > maxEscalationPeriods {
		periodsPassed = maxEscalationPeriods
	}
	stake := new(big.Int).Lsh(r.baseStake, uint(periodsPassed/10))
	return arbmath.BigMulByUfrac(stake, escalationMillionths[periodsPassed%10], 1000000)
}

func (r *Rollup) isZombie(addr common.Address) bool {
	for _, z := range r.zombies {
		if z.stakerAddress == addr {
			return true
		}
	}
	return false
}

func (r *Rollup) requireStaked(addr common.Address) (*Staker, error) {
	staker, ok := r.stakers[addr]
	if !ok {
		return nil, errors.Wrapf(protocol.ErrNotStaked, "%v", addr)
	}
	return staker, nil
}

func (r *Rollup) requireUnchallengedStaker(addr common.Address) (*Staker, error) {
	staker, err := r.requireStaked(addr)
	if err != nil {
		return nil, err
	}
	if staker.CurrentChallenge != 0 {
		return nil, errors.Wrapf(protocol.ErrInChallenge, "%v is in challenge %d", addr, staker.CurrentChallenge)
	}
	return staker, nil
}

// requireNewStaker checks that addr may open a stake.
func (r *Rollup) requireNewStaker(addr common.Address) error {
	if _, ok := r.stakers[addr]; ok {
		return errors.Wrapf(protocol.ErrAlreadyStaked, "%v", addr)
	}
	if r.isZombie(addr) {
		return errors.Wrapf(protocol.ErrStakerIsZombie, "%v", addr)
	}
	return nil
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.Wrapf(protocol.ErrNotEnoughStake, "amount %v", amount)
	}
	return nil
}

func (r *Rollup) requireEnoughStake(amount *big.Int) error {
	required := r.currentRequiredStake()
	if arbmath.BigLessThan(amount, required) {
		return errors.Wrapf(protocol.ErrNotEnoughStake, "have %v, need %v", amount, required)
	}
	return nil
}

// createNewStake opens a stake on the latest confirmed node.
func (r *Rollup) createNewStake(tx *activeTx, addr common.Address, amount *big.Int) *Staker {
	staker := &Staker{
		Address:          addr,
		AmountStaked:     arbmath.BigCopy(amount),
		LatestStakedNode: r.latestConfirmed,
	}
	r.stakers[addr] = staker
	r.stakerList = append(r.stakerList, addr)
	r.addStaker(r.latestConfirmed, addr)
	tx.Emit(&protocol.UserStakeUpdatedEvent{
		Staker:     addr,
		InitialBal: new(big.Int),
		FinalBal:   arbmath.BigCopy(amount),
	})
	log.Info("Staker created", "staker", addr, "amount", amount, "node", r.latestConfirmed)
	return staker
}

func (r *Rollup) setStake(tx *activeTx, staker *Staker, amount *big.Int) {
	initial := staker.AmountStaked
	staker.AmountStaked = arbmath.BigCopy(amount)
	tx.Emit(&protocol.UserStakeUpdatedEvent{
		Staker:     staker.Address,
		InitialBal: arbmath.BigCopy(initial),
		FinalBal:   arbmath.BigCopy(amount),
	})
}

func (r *Rollup) increaseStakeBy(tx *activeTx, staker *Staker, amount *big.Int) {
	r.setStake(tx, staker, arbmath.BigAdd(staker.AmountStaked, amount))
}

// reduceStakeTo lowers a stake and credits the difference to the staker's
// withdrawable funds. It returns the amount released.
func (r *Rollup) reduceStakeTo(tx *activeTx, staker *Staker, target *big.Int) *big.Int {
	released := arbmath.BigSub(staker.AmountStaked, target)
	r.setStake(tx, staker, target)
	r.increaseWithdrawableFunds(tx, staker.Address, released)
	return released
}

func (r *Rollup) withdrawable(addr common.Address) *big.Int {
	funds, ok := r.withdrawableFunds[addr]
	if !ok {
		return new(big.Int)
	}
	return arbmath.BigCopy(funds)
}

func (r *Rollup) increaseWithdrawableFunds(tx *activeTx, addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	initial := r.withdrawable(addr)
	final := arbmath.BigAdd(initial, amount)
	r.withdrawableFunds[addr] = final
	tx.Emit(&protocol.UserWithdrawableFundsUpdatedEvent{
		User:       addr,
		InitialBal: initial,
		FinalBal:   arbmath.BigCopy(final),
	})
}

// deleteStaker forgets a live staker. Its stake must already be accounted for.
func (r *Rollup) deleteStaker(addr common.Address) {
	delete(r.stakers, addr)
	for i, a := range r.stakerList {
		if a == addr {
			r.stakerList[i] = r.stakerList[len(r.stakerList)-1]
			r.stakerList = r.stakerList[:len(r.stakerList)-1]
			break
		}
	}
}

// withdrawStaker returns a whole stake to the withdrawable funds of its owner.
func (r *Rollup) withdrawStaker(tx *activeTx, staker *Staker) {
	if r.nodeHasStaker(r.latestConfirmed, staker.Address) {
		r.removeStakerFromNode(r.latestConfirmed, staker.Address)
	}
	r.reduceStakeTo(tx, staker, new(big.Int))
	r.deleteStaker(staker.Address)
}

// turnIntoZombie replaces a staker by a zombie that keeps its place in the
// staker counts of the nodes it backed until it is swept.
func (r *Rollup) turnIntoZombie(tx *activeTx, staker *Staker) {
	if staker.AmountStaked.Sign() != 0 {
		r.setStake(tx, staker, new(big.Int))
	}
	r.zombies = append(r.zombies, zombie{
		stakerAddress:    staker.Address,
		latestStakedNode: staker.LatestStakedNode,
	})
	r.deleteStaker(staker.Address)
	tx.Emit(&protocol.ZombieCreatedEvent{
		Staker:           staker.Address,
		LatestStakedNode: staker.LatestStakedNode,
	})
	log.Info("Staker became a zombie", "staker", staker.Address, "latestStakedNode", staker.LatestStakedNode)
}

// forfeitStake sends a whole stake to the loser stake escrow and turns the
// staker into a zombie.
func (r *Rollup) forfeitStake(tx *activeTx, staker *Staker) {
	forfeited := arbmath.BigCopy(staker.AmountStaked)
	r.setStake(tx, staker, new(big.Int))
	r.increaseWithdrawableFunds(tx, r.loserStakeEscrow, forfeited)
	r.turnIntoZombie(tx, staker)
}

// Deposit opens a stake on the latest confirmed node.
func (r *Rollup) Deposit(caller common.Address, amount *big.Int) error {
	return r.tx("deposit", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if err := r.requireNewStaker(caller); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if err := r.requireEnoughStake(amount); err != nil {
			return err
		}
		r.createNewStake(tx, caller, amount)
		return nil
	})
}

// IncreaseStake adds to an unchallenged stake. Anyone may top up a staker.
func (r *Rollup) IncreaseStake(caller common.Address, stakerAddr common.Address, amount *big.Int) error {
	return r.tx("increaseStake", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		staker, err := r.requireUnchallengedStaker(stakerAddr)
		if err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		r.increaseStakeBy(tx, staker, amount)
		return nil
	})
}

// ReduceStake lowers the caller's stake to target, which may not go below
// the current required stake.
func (r *Rollup) ReduceStake(caller common.Address, target *big.Int) error {
	return r.tx("reduceStake", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		staker, err := r.requireUnchallengedStaker(caller)
		if err != nil {
			return err
		}
		if target == nil {
			target = new(big.Int)
		}
		required := r.currentRequiredStake()
		if arbmath.BigLessThan(target, required) {
			return errors.Wrapf(protocol.ErrTooLittleStake, "target %v, required %v", target, required)
		}
		if arbmath.BigGreaterThan(target, staker.AmountStaked) {
			return errors.Wrapf(protocol.ErrNoReduction, "target %v, staked %v", target, staker.AmountStaked)
		}
		r.reduceStakeTo(tx, staker, target)
		return nil
	})
}

// WithdrawFunds pays out and clears the caller's withdrawable funds.
func (r *Rollup) WithdrawFunds(caller common.Address) (*big.Int, error) {
	var amount *big.Int
	err := r.tx("withdrawFunds", func(tx *activeTx) error {
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		if _, ok := r.stakers[caller]; ok {
			return errors.Wrapf(protocol.ErrStillStaked, "%v", caller)
		}
		amount = r.withdrawable(caller)
		if amount.Sign() == 0 {
			return errors.Wrapf(protocol.ErrNoFunds, "%v", caller)
		}
		delete(r.withdrawableFunds, caller)
		tx.Emit(&protocol.UserWithdrawableFundsUpdatedEvent{
			User:       caller,
			InitialBal: arbmath.BigCopy(amount),
			FinalBal:   new(big.Int),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// RemoveStaker returns the stake of a staker whose latest node is resolved
// to its withdrawable funds.
func (r *Rollup) RemoveStaker(caller common.Address, stakerAddr common.Address) error {
	return r.tx("removeStaker", func(tx *activeTx) error {
		if err := r.requireValidator(caller); err != nil {
			return err
		}
		if err := r.requireNotPaused(); err != nil {
			return err
		}
		staker, err := r.requireStaked(stakerAddr)
		if err != nil {
			return err
		}
		latest := r.nodes[staker.LatestStakedNode]
		if latest.Num > r.latestConfirmed && latest.Status != NodeRejected {
			return errors.Wrapf(protocol.ErrTooRecent, "%v is staked on unresolved node %d", stakerAddr, latest.Num)
		}
		if staker.CurrentChallenge != 0 {
			return errors.Wrapf(protocol.ErrInChallenge, "%v is in challenge %d", stakerAddr, staker.CurrentChallenge)
		}
		r.withdrawStaker(tx, staker)
		log.Info("Staker removed", "staker", stakerAddr)
		return nil
	})
}
