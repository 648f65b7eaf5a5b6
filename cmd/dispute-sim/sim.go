// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/offchainlabs/rollupcore/containers/events"
	"github.com/offchainlabs/rollupcore/journal"
	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
	"github.com/offchainlabs/rollupcore/staker"
	"github.com/offchainlabs/rollupcore/testing/mocks"
	toys "github.com/offchainlabs/rollupcore/testing/toys/execution"
	"github.com/offchainlabs/rollupcore/util/stopwaiter"
)

// Outcome summarizes a settled dispute.
type Outcome struct {
	ChallengeId   uint64
	Winner        common.Address
	Loser         common.Address
	Moves         map[staker.Move]int
	ConfirmedNode uint64
	SettledBlock  uint64
	Journaled     uint64
}

type simulation struct {
	config  *DisputeSimConfig
	blocks  *protocol.ArtificialBlockReference
	rollup  *rollup.Rollup
	journal *journal.Journal
	feed    *events.Producer[*rollup.RecordedEvent]
	honest  *toys.Execution
	forged  *toys.Execution
}

func newSimulation(config *DisputeSimConfig, j *journal.Journal) (*simulation, error) {
	sim := &config.Sim
	inbox := mocks.NewMemoryInbox()
	inbox.AddBatches(sim.Batches)
	blocks := protocol.NewArtificialBlockReference(0)
	feed := events.NewProducer[*rollup.RecordedEvent]()
	r, err := rollup.NewRollup(
		&config.Rollup,
		inbox,
		toys.NewProver(sim.MessagesPerBatch, sim.StepsPerBlock),
		blocks,
		rollup.WithJournal(j),
		rollup.WithEventProducer(feed),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating rollup: %w", err)
	}
	return &simulation{
		config:  config,
		blocks:  blocks,
		rollup:  r,
		journal: j,
		feed:    feed,
		honest:  toys.NewHonestExecution(sim.MessagesPerBatch, sim.StepsPerBlock),
		forged: toys.NewForgedExecution(sim.MessagesPerBatch, sim.StepsPerBlock, toys.Divergence{
			Block: sim.DishonestBlock,
			Step:  sim.DishonestStep,
		}),
	}, nil
}

// eventLogger logs every committed rollup event.
type eventLogger struct {
	stopwaiter.StopWaiter
	sub *events.Subscription[*rollup.RecordedEvent]
}

func newEventLogger(feed *events.Producer[*rollup.RecordedEvent]) *eventLogger {
	return &eventLogger{sub: feed.Subscribe()}
}

func (l *eventLogger) Start(ctx context.Context) {
	l.StopWaiter.Start(ctx, l)
	l.LaunchThread(func(ctx context.Context) {
		defer l.sub.Unsubscribe()
		for {
			rec, err := l.sub.Next(ctx)
			if err != nil {
				if dropped := l.sub.Dropped(); dropped > 0 {
					log.Warn("Rollup events were dropped", "count", dropped)
				}
				return
			}
			log.Info("Rollup event", "seq", rec.Seq, "block", rec.Block, "event", fmt.Sprintf("%T", rec.Event), "data", rec.Event)
		}
	})
}

func (s *simulation) assert(exec *toys.Execution, validator common.Address) (uint64, error) {
	genesis, err := s.rollup.GetNode(0)
	if err != nil {
		return 0, err
	}
	before := genesis.Assertion.AfterState
	numBlocks := genesis.InboxMaxCount * s.config.Sim.MessagesPerBatch
	nodeNum, err := s.rollup.CreateAssertion(validator, 0, &protocol.Assertion{
		BeforeState: before,
		AfterState:  exec.StateAfter(before.GlobalState, numBlocks),
		NumBlocks:   numBlocks,
	}, common.Hash{}, s.rollup.RequiredStake())
	if err != nil {
		return 0, fmt.Errorf("validator %v failed to assert: %w", validator, err)
	}
	log.Info("Validator asserted", "validator", validator, "node", nodeNum, "blocks", numBlocks)
	return nodeNum, nil
}

type player struct {
	name    string
	honest  bool
	manager *staker.ChallengeManager
}

// act makes one move. Failures the forged player cannot avoid are logged
// and skipped.
func (p *player) act(ctx context.Context) (staker.Move, error) {
	move, err := p.manager.Act(ctx)
	if err == nil {
		if move != staker.MoveNone {
			log.Info("Player moved", "player", p.name, "move", move)
		}
		return move, nil
	}
	if errors.Is(err, protocol.ErrNoChallenge) {
		return staker.MoveNone, err
	}
	if !p.honest && (errors.Is(err, protocol.ErrSameOneStepEnd) || errors.Is(err, staker.ErrOutOfTime)) {
		log.Debug("Dishonest player cannot move", "err", err)
		return staker.MoveNone, nil
	}
	return staker.MoveNone, fmt.Errorf("%v player failed to move: %w", p.name, err)
}

func (s *simulation) run(ctx context.Context) (*Outcome, error) {
	sim := &s.config.Sim
	s.blocks.Add(s.config.Rollup.MinimumAssertionPeriod)

	type asserter struct {
		exec      *toys.Execution
		validator common.Address
	}
	order := []asserter{{s.honest, sim.honest}, {s.forged, sim.dishonest}}
	if sim.DishonestFirst {
		order[0], order[1] = order[1], order[0]
	}
	var nodes [2]uint64
	var stakers [2]common.Address
	for i, a := range order {
		nodeNum, err := s.assert(a.exec, a.validator)
		if err != nil {
			return nil, err
		}
		nodes[i] = nodeNum
		stakers[i] = a.validator
	}

	challengeId, err := s.rollup.CreateChallenge(sim.honest, stakers, nodes)
	if err != nil {
		return nil, fmt.Errorf("error creating challenge: %w", err)
	}
	log.Info("Challenge created", "id", challengeId, "asserter", stakers[0], "challenger", stakers[1])

	players := make([]*player, 0, 2)
	for _, p := range []struct {
		name      string
		honest    bool
		provider  staker.StateProvider
		validator common.Address
	}{
		{"honest", true, s.honest, sim.honest},
		{"dishonest", false, s.forged, sim.dishonest},
	} {
		manager, err := staker.NewChallengeManager(s.rollup, p.provider, p.validator, challengeId, &s.config.Player)
		if err != nil {
			return nil, err
		}
		players = append(players, &player{name: p.name, honest: p.honest, manager: manager})
	}

	moves := make(map[staker.Move]int)
	settled := false
	for start := s.blocks.Get(); !settled; {
		if s.blocks.Get()-start > sim.MaxBlocks {
			return nil, fmt.Errorf("challenge %d unresolved after %d blocks", challengeId, sim.MaxBlocks)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.blocks.Add(1)
		for _, p := range players {
			move, err := p.act(ctx)
			if errors.Is(err, protocol.ErrNoChallenge) {
				settled = true
				break
			}
			if err != nil {
				return nil, err
			}
			if move != staker.MoveNone {
				moves[move]++
			}
		}
	}

	winnerNode := nodes[0]
	if stakers[0] != sim.honest {
		winnerNode = nodes[1]
	}
	confirmed, err := s.confirm(sim.honest, winnerNode)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		ChallengeId:   challengeId,
		Winner:        sim.honest,
		Loser:         sim.dishonest,
		Moves:         moves,
		ConfirmedNode: confirmed,
		SettledBlock:  s.blocks.Get(),
		Journaled:     s.journal.Len(),
	}, nil
}

// confirm waits out the deadline of the winning node and confirms it.
func (s *simulation) confirm(caller common.Address, nodeNum uint64) (uint64, error) {
	node, err := s.rollup.GetNode(nodeNum)
	if err != nil {
		return 0, err
	}
	parent, err := s.rollup.GetNode(node.PrevNum)
	if err != nil {
		return 0, err
	}
	wait := node.DeadlineBlock
	if parent.NoChildConfirmedBeforeBlock > wait {
		wait = parent.NoChildConfirmedBeforeBlock
	}
	if now := s.blocks.Get(); now < wait {
		s.blocks.Set(wait)
	}
	gs := node.Assertion.AfterState.GlobalState
	if err := s.rollup.ConfirmNextNode(caller, gs.BlockHash, gs.SendRoot); err != nil {
		return 0, fmt.Errorf("error confirming node %d: %w", nodeNum, err)
	}
	confirmed := s.rollup.LatestConfirmed()
	if confirmed != nodeNum {
		return 0, fmt.Errorf("confirmed node %d instead of %d", confirmed, nodeNum)
	}
	return confirmed, nil
}
