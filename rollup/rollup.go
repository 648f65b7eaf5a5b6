// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package rollup holds the assertion tree, the stake ledger and the
// confirmation engine of the rollup, and wires them to the challenge game.
package rollup

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/pkg/errors"

	"github.com/offchainlabs/rollupcore/challenge"
	"github.com/offchainlabs/rollupcore/containers/events"
	"github.com/offchainlabs/rollupcore/protocol"
)

var (
	nodesCreatedCounter   = metrics.NewRegisteredCounter("arb/rollup/nodes/created", nil)
	nodesConfirmedCounter = metrics.NewRegisteredCounter("arb/rollup/nodes/confirmed", nil)
	nodesRejectedCounter  = metrics.NewRegisteredCounter("arb/rollup/nodes/rejected", nil)
	failedOpsCounter      = metrics.NewRegisteredCounter("arb/rollup/ops/failed", nil)
	eventsCounter         = metrics.NewRegisteredCounter("arb/rollup/events", nil)
	stakersGauge          = metrics.NewRegisteredGauge("arb/rollup/stakers", nil)
	zombiesGauge          = metrics.NewRegisteredGauge("arb/rollup/zombies", nil)
	latestConfirmedGauge  = metrics.NewRegisteredGauge("arb/rollup/confirmed", nil)
)

type NodeStatus uint8

const (
	NodePending NodeStatus = iota
	NodeConfirmed
	NodeRejected
)

func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodeConfirmed:
		return "confirmed"
	case NodeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Node is an assertion in the tree. Num 0 is the genesis node.
type Node struct {
	Num                         uint64
	PrevNum                     uint64
	Assertion                   protocol.Assertion
	StateHash                   common.Hash
	ExecutionHash               common.Hash
	ChallengeHash               common.Hash
	ConfirmData                 common.Hash
	NodeHash                    common.Hash
	InboxAcc                    common.Hash
	InboxMaxCount               uint64
	WasmModuleRoot              common.Hash
	DeadlineBlock               uint64
	NoChildConfirmedBeforeBlock uint64
	StakerCount                 uint64
	ChildStakerCount            uint64
	FirstChildBlock             uint64
	LatestChildNumber           uint64
	CreatedAtBlock              uint64
	Status                      NodeStatus
}

func (n *Node) childCreated(num uint64, block uint64) {
	if n.LatestChildNumber == 0 {
		n.FirstChildBlock = block
	}
	n.LatestChildNumber = num
}

func (n *Node) requirePastDeadline(block uint64) error {
	if block < n.DeadlineBlock {
		return errors.Wrapf(protocol.ErrBeforeDeadline, "node %d deadline %d, now %d", n.Num, n.DeadlineBlock, block)
	}
	return nil
}

func (n *Node) requirePastChildConfirmDeadline(block uint64) error {
	if block < n.NoChildConfirmedBeforeBlock {
		return errors.Wrapf(protocol.ErrChildTooRecent, "node %d children confirmable at %d, now %d", n.Num, n.NoChildConfirmedBeforeBlock, block)
	}
	return nil
}

// Staker is a live stake. Zombies are tracked separately and have no stake.
type Staker struct {
	Address          common.Address
	AmountStaked     *big.Int
	LatestStakedNode uint64
	CurrentChallenge uint64
}

type zombie struct {
	stakerAddress    common.Address
	latestStakedNode uint64
}

// RecordedEvent is a committed event together with its position in the
// history and the height it was committed at.
type RecordedEvent struct {
	Seq   uint64
	Block uint64
	Event protocol.RollupEvent
}

// EventJournal persists committed events.
type EventJournal interface {
	Append(block uint64, ev protocol.RollupEvent) error
}

type Option func(*Rollup)

func WithJournal(j EventJournal) Option {
	return func(r *Rollup) {
		r.journal = j
	}
}

func WithEventProducer(p *events.Producer[*RecordedEvent]) Option {
	return func(r *Rollup) {
		r.feed = p
	}
}

// Rollup is the single store behind both the user and the administrative
// surface. Every mutating call holds the write lock for its full duration,
// validates before it mutates, and publishes its events only if it succeeds.
type Rollup struct {
	mutex  sync.RWMutex
	blocks protocol.BlockReference
	inbox  protocol.InboxReader

	owner                      common.Address
	validators                 map[common.Address]bool
	validatorWhitelistDisabled bool
	fastConfirmer              common.Address
	loserStakeEscrow           common.Address
	baseStake                  *big.Int
	confirmPeriodBlocks        uint64
	extraChallengeTimeBlocks   uint64
	minimumAssertionPeriod     uint64
	wasmModuleRoot             common.Hash
	stakeEscalation            bool

	paused      bool
	pausedAt    uint64
	adminHalted bool
	haltReason  string

	nodes           []*Node
	nodeStakers     map[uint64]map[common.Address]bool
	latestConfirmed uint64
	firstUnresolved uint64

	stakers           map[common.Address]*Staker
	stakerList        []common.Address
	zombies           []zombie
	withdrawableFunds map[common.Address]*big.Int

	challenges     *challenge.Manager
	challengeNodes map[uint64][2]uint64
	nodeChallenges map[uint64]uint64

	activeTx *activeTx
	history  []*RecordedEvent
	journal  EventJournal
	feed     *events.Producer[*RecordedEvent]
}

// NewRollup creates a rollup whose genesis node is confirmed at the current
// height of blocks.
func NewRollup(
	config *Config,
	inbox protocol.InboxReader,
	prover challenge.OneStepProver,
	blocks protocol.BlockReference,
	opts ...Option,
) (*Rollup, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	r := &Rollup{
		blocks:                     blocks,
		inbox:                      inbox,
		owner:                      config.owner,
		validators:                 make(map[common.Address]bool),
		validatorWhitelistDisabled: config.ValidatorWhitelistDisabled,
		fastConfirmer:              config.fastConfirmer,
		loserStakeEscrow:           config.loserStakeEscrow,
		baseStake:                  new(big.Int).Set(config.baseStake),
		confirmPeriodBlocks:        config.ConfirmPeriodBlocks,
		extraChallengeTimeBlocks:   config.ExtraChallengeTimeBlocks,
		minimumAssertionPeriod:     config.MinimumAssertionPeriod,
		wasmModuleRoot:             config.wasmModuleRoot,
		stakeEscalation:            config.StakeEscalation,
		nodeStakers:                make(map[uint64]map[common.Address]bool),
		stakers:                    make(map[common.Address]*Staker),
		withdrawableFunds:          make(map[common.Address]*big.Int),
		challengeNodes:             make(map[uint64][2]uint64),
		nodeChallenges:             make(map[uint64]uint64),
	}
	for _, v := range config.validators {
		r.validators[v] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	r.challenges = challenge.NewManager(challengeResults{r}, prover, blocks, txSink{r})

	now := blocks.Get()
	genesisState := protocol.GenesisExecutionState()
	genesis := &Node{
		Num: 0,
		Assertion: protocol.Assertion{
			BeforeState: genesisState,
			AfterState:  genesisState,
		},
		StateHash:      protocol.ComputeStateHash(&genesisState, protocol.GenesisInboxMaxCount),
		InboxMaxCount:  protocol.GenesisInboxMaxCount,
		WasmModuleRoot: r.wasmModuleRoot,
		DeadlineBlock:  now,
		CreatedAtBlock: now,
		Status:         NodeConfirmed,
	}
	r.nodes = []*Node{genesis}
	r.nodeStakers[0] = make(map[common.Address]bool)
	r.firstUnresolved = 1
	r.warnIfFastConfirmerNotValidator()
	log.Info(
		"Rollup initialized",
		"block", now,
		"owner", r.owner,
		"validators", len(r.validators),
		"confirmPeriodBlocks", r.confirmPeriodBlocks,
		"baseStake", r.baseStake,
	)
	return r, nil
}

const (
	deadTxStatus = iota
	readWriteTxStatus
)

// activeTx collects the events of a mutating call until it commits.
type activeTx struct {
	txStatus   int
	events     []protocol.RollupEvent
	persistent []protocol.RollupEvent
}

func (tx *activeTx) verifyReadWrite() {
	if tx == nil || tx.txStatus != readWriteTxStatus {
		panic("tried to modify rollup outside of a transaction")
	}
}

func (tx *activeTx) Emit(ev protocol.RollupEvent) {
	tx.verifyReadWrite()
	tx.events = append(tx.events, ev)
}

// emitPersistent records an event that is published even if the call fails.
func (tx *activeTx) emitPersistent(ev protocol.RollupEvent) {
	tx.verifyReadWrite()
	tx.persistent = append(tx.persistent, ev)
}

// txSink routes challenge game events into the running transaction.
type txSink struct {
	r *Rollup
}

func (s txSink) Emit(ev protocol.RollupEvent) {
	s.r.activeTx.Emit(ev)
}

// tx runs a mutating call.
func (r *Rollup) tx(op string, clo func(tx *activeTx) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	tx := &activeTx{txStatus: readWriteTxStatus}
	r.activeTx = tx
	err := clo(tx)
	tx.txStatus = deadTxStatus
	r.activeTx = nil
	if err != nil {
		failedOpsCounter.Inc(1)
		log.Debug("Rollup call failed", "op", op, "err", err)
		r.publish(tx.persistent)
		return err
	}
	r.publish(tx.events)
	r.updateGauges()
	return nil
}

// call runs a read-only call.
func (r *Rollup) call(clo func() error) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return clo()
}

func (r *Rollup) publish(evs []protocol.RollupEvent) {
	if len(evs) == 0 {
		return
	}
	block := r.blocks.Get()
	for _, ev := range evs {
		rec := &RecordedEvent{
			Seq:   uint64(len(r.history)),
			Block: block,
			Event: ev,
		}
		r.history = append(r.history, rec)
		if r.journal != nil {
			if err := r.journal.Append(block, ev); err != nil {
				log.Error("Failed to journal rollup event", "seq", rec.Seq, "event", fmt.Sprintf("%T", ev), "err", err)
			}
		}
		if r.feed != nil {
			r.feed.Broadcast(rec)
		}
	}
	eventsCounter.Inc(int64(len(evs)))
}

func (r *Rollup) updateGauges() {
	stakersGauge.Update(int64(len(r.stakers)))
	zombiesGauge.Update(int64(len(r.zombies)))
	latestConfirmedGauge.Update(int64(r.latestConfirmed))
}

func (r *Rollup) latestNodeCreated() uint64 {
	return uint64(len(r.nodes) - 1)
}

func (r *Rollup) requireNotPaused() error {
	if r.paused {
		return protocol.ErrPaused
	}
	return nil
}

func (r *Rollup) requirePaused() error {
	if !r.paused {
		return protocol.ErrNotPaused
	}
	return nil
}

func (r *Rollup) requireValidator(caller common.Address) error {
	if !r.validatorWhitelistDisabled && !r.validators[caller] {
		return errors.Wrapf(protocol.ErrNotValidator, "%v", caller)
	}
	return nil
}

func (r *Rollup) requireOwner(caller common.Address) error {
	if caller != r.owner {
		return errors.Wrapf(protocol.ErrNotOwner, "%v", caller)
	}
	return nil
}

// challengeResults receives the outcome of a challenge inside the
// transaction that ended it.
type challengeResults struct {
	r *Rollup
}

func (c challengeResults) CompleteChallenge(challengeId uint64, winner common.Address, loser common.Address) error {
	return c.r.completeChallenge(c.r.activeTx, challengeId, winner, loser)
}
