// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/arbmath"
)

func (r *Rollup) LatestConfirmed() uint64 {
	var num uint64
	_ = r.call(func() error {
		num = r.latestConfirmed
		return nil
	})
	return num
}

func (r *Rollup) LatestNodeCreated() uint64 {
	var num uint64
	_ = r.call(func() error {
		num = r.latestNodeCreated()
		return nil
	})
	return num
}

func (r *Rollup) FirstUnresolvedNode() uint64 {
	var num uint64
	_ = r.call(func() error {
		num = r.firstUnresolved
		return nil
	})
	return num
}

// GetNode returns a copy of a node.
func (r *Rollup) GetNode(nodeNum uint64) (*Node, error) {
	var node Node
	err := r.call(func() error {
		if nodeNum > r.latestNodeCreated() {
			return errors.Wrapf(protocol.ErrDoesntExist, "node %d", nodeNum)
		}
		node = *r.nodes[nodeNum]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// StakerInfo is the ledger view of an address.
type StakerInfo struct {
	Address           common.Address
	IsStaked          bool
	IsZombie          bool
	AmountStaked      *big.Int
	LatestStakedNode  uint64
	CurrentChallenge  uint64
	WithdrawableFunds *big.Int
}

func (r *Rollup) StakerInfo(addr common.Address) *StakerInfo {
	info := &StakerInfo{Address: addr}
	_ = r.call(func() error {
		info.WithdrawableFunds = r.withdrawable(addr)
		if staker, ok := r.stakers[addr]; ok {
			info.IsStaked = true
			info.AmountStaked = arbmath.BigCopy(staker.AmountStaked)
			info.LatestStakedNode = staker.LatestStakedNode
			info.CurrentChallenge = staker.CurrentChallenge
			return nil
		}
		info.AmountStaked = new(big.Int)
		for _, z := range r.zombies {
			if z.stakerAddress == addr {
				info.IsZombie = true
				info.LatestStakedNode = z.latestStakedNode
				break
			}
		}
		return nil
	})
	return info
}

// Stakers lists the live stakers.
func (r *Rollup) Stakers() []common.Address {
	var stakers []common.Address
	_ = r.call(func() error {
		stakers = append(stakers, r.stakerList...)
		return nil
	})
	return stakers
}

func (r *Rollup) NodeHasStaker(nodeNum uint64, addr common.Address) bool {
	var has bool
	_ = r.call(func() error {
		has = r.nodeHasStaker(nodeNum, addr)
		return nil
	})
	return has
}

func (r *Rollup) ChallengeInfo(challengeId uint64) (*challenge.Info, error) {
	var info *challenge.Info
	err := r.call(func() error {
		var err error
		info, err = r.challenges.Info(challengeId)
		return err
	})
	return info, err
}

// ChallengeNodes returns the two nodes disputed by a live challenge.
func (r *Rollup) ChallengeNodes(challengeId uint64) ([2]uint64, error) {
	var nodes [2]uint64
	err := r.call(func() error {
		n, ok := r.challengeNodes[challengeId]
		if !ok {
			return errors.Wrapf(protocol.ErrNoChallenge, "challenge %d", challengeId)
		}
		nodes = n
		return nil
	})
	return nodes, err
}

// CurrentResponder is the party on turn, or the zero address if the
// challenge is not live.
func (r *Rollup) CurrentResponder(challengeId uint64) common.Address {
	var addr common.Address
	_ = r.call(func() error {
		addr = r.challenges.CurrentResponder(challengeId)
		return nil
	})
	return addr
}

func (r *Rollup) Paused() bool {
	var paused bool
	_ = r.call(func() error {
		paused = r.paused
		return nil
	})
	return paused
}

// AdminHalted reports whether forced operations are halted and why.
func (r *Rollup) AdminHalted() (bool, string) {
	var halted bool
	var reason string
	_ = r.call(func() error {
		halted, reason = r.adminHalted, r.haltReason
		return nil
	})
	return halted, reason
}

// RequiredStake is the stake a new staker must put up at the current height.
func (r *Rollup) RequiredStake() *big.Int {
	var stake *big.Int
	_ = r.call(func() error {
		stake = r.currentRequiredStake()
		return nil
	})
	return stake
}

func (r *Rollup) ZombieCount() uint64 {
	var count uint64
	_ = r.call(func() error {
		count = uint64(len(r.zombies))
		return nil
	})
	return count
}

// Zombie returns the address and latest staked node of zombie i.
func (r *Rollup) Zombie(i uint64) (common.Address, uint64, error) {
	var addr common.Address
	var latest uint64
	err := r.call(func() error {
		if i >= uint64(len(r.zombies)) {
			return errors.Wrapf(protocol.ErrNoSuchZombie, "zombie %d of %d", i, len(r.zombies))
		}
		addr, latest = r.zombies[i].stakerAddress, r.zombies[i].latestStakedNode
		return nil
	})
	return addr, latest, err
}

func (r *Rollup) WithdrawableFunds(addr common.Address) *big.Int {
	var funds *big.Int
	_ = r.call(func() error {
		funds = r.withdrawable(addr)
		return nil
	})
	return funds
}

// Events returns up to limit committed events starting at sequence number
// from. A zero limit returns everything after from.
func (r *Rollup) Events(from uint64, limit uint64) []*RecordedEvent {
	var evs []*RecordedEvent
	_ = r.call(func() error {
		if from >= uint64(len(r.history)) {
			return nil
		}
		end := uint64(len(r.history))
		if limit > 0 && from+limit < end {
			end = from + limit
		}
		evs = append(evs, r.history[from:end]...)
		return nil
	})
	return evs
}
