// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package rollupapi serves read-only rollup queries over JSON-RPC in the
// "rollup" namespace.
package rollupapi

import (
	"context"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/rollup"
)

const Namespace = "rollup"

// maxEventsPerCall bounds a single Events response.
const maxEventsPerCall = 1000

// apiError keeps the protocol reason code of a failure visible to clients.
type apiError struct {
	err error
}

func (e *apiError) Error() string          { return e.err.Error() }
func (e *apiError) ErrorCode() int         { return -32000 }
func (e *apiError) ErrorData() interface{} { return protocol.Code(e.err) }

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	return &apiError{err: err}
}

type RollupAPI struct {
	reader rollup.Reader
}

func NewRollupAPI(reader rollup.Reader) *RollupAPI {
	return &RollupAPI{reader: reader}
}

type NodeResult struct {
	Num               hexutil.Uint64     `json:"num"`
	PrevNum           hexutil.Uint64     `json:"prevNum"`
	Status            string             `json:"status"`
	Assertion         protocol.Assertion `json:"assertion"`
	StateHash         common.Hash        `json:"stateHash"`
	ChallengeHash     common.Hash        `json:"challengeHash"`
	ConfirmData       common.Hash        `json:"confirmData"`
	NodeHash          common.Hash        `json:"nodeHash"`
	InboxMaxCount     hexutil.Uint64     `json:"inboxMaxCount"`
	WasmModuleRoot    common.Hash        `json:"wasmModuleRoot"`
	DeadlineBlock     hexutil.Uint64     `json:"deadlineBlock"`
	CreatedAtBlock    hexutil.Uint64     `json:"createdAtBlock"`
	StakerCount       hexutil.Uint64     `json:"stakerCount"`
	ChildStakerCount  hexutil.Uint64     `json:"childStakerCount"`
	LatestChildNumber hexutil.Uint64     `json:"latestChildNumber"`
}

type StakerResult struct {
	Address           common.Address `json:"address"`
	IsStaked          bool           `json:"isStaked"`
	IsZombie          bool           `json:"isZombie"`
	AmountStaked      *hexutil.Big   `json:"amountStaked"`
	LatestStakedNode  hexutil.Uint64 `json:"latestStakedNode"`
	CurrentChallenge  hexutil.Uint64 `json:"currentChallenge"`
	WithdrawableFunds *hexutil.Big   `json:"withdrawableFunds"`
}

type ChallengeResult struct {
	Id                 hexutil.Uint64   `json:"id"`
	Mode               string           `json:"mode"`
	Asserter           common.Address   `json:"asserter"`
	Challenger         common.Address   `json:"challenger"`
	CurrentResponder   common.Address   `json:"currentResponder"`
	AsserterTimeLeft   hexutil.Uint64   `json:"asserterTimeLeft"`
	ChallengerTimeLeft hexutil.Uint64   `json:"challengerTimeLeft"`
	LastMoveBlock      hexutil.Uint64   `json:"lastMoveBlock"`
	Block              hexutil.Uint64   `json:"block"`
	TimedOut           bool             `json:"timedOut"`
	SegmentsStart      hexutil.Uint64   `json:"segmentsStart"`
	SegmentsLength     hexutil.Uint64   `json:"segmentsLength"`
	Segments           []common.Hash    `json:"segments"`
	Nodes              []hexutil.Uint64 `json:"nodes"`
}

type EventResult struct {
	Seq   hexutil.Uint64       `json:"seq"`
	Block hexutil.Uint64       `json:"block"`
	Type  string               `json:"type"`
	Event protocol.RollupEvent `json:"event"`
}

func eventType(ev protocol.RollupEvent) string {
	t := reflect.TypeOf(ev)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.TrimSuffix(t.Name(), "Event")
}

func (a *RollupAPI) LatestConfirmed(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.reader.LatestConfirmed())
}

func (a *RollupAPI) LatestNodeCreated(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.reader.LatestNodeCreated())
}

func (a *RollupAPI) FirstUnresolvedNode(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.reader.FirstUnresolvedNode())
}

func (a *RollupAPI) GetNode(ctx context.Context, num hexutil.Uint64) (*NodeResult, error) {
	node, err := a.reader.GetNode(uint64(num))
	if err != nil {
		return nil, wrapError(err)
	}
	return &NodeResult{
		Num:               hexutil.Uint64(node.Num),
		PrevNum:           hexutil.Uint64(node.PrevNum),
		Status:            node.Status.String(),
		Assertion:         node.Assertion,
		StateHash:         node.StateHash,
		ChallengeHash:     node.ChallengeHash,
		ConfirmData:       node.ConfirmData,
		NodeHash:          node.NodeHash,
		InboxMaxCount:     hexutil.Uint64(node.InboxMaxCount),
		WasmModuleRoot:    node.WasmModuleRoot,
		DeadlineBlock:     hexutil.Uint64(node.DeadlineBlock),
		CreatedAtBlock:    hexutil.Uint64(node.CreatedAtBlock),
		StakerCount:       hexutil.Uint64(node.StakerCount),
		ChildStakerCount:  hexutil.Uint64(node.ChildStakerCount),
		LatestChildNumber: hexutil.Uint64(node.LatestChildNumber),
	}, nil
}

func (a *RollupAPI) StakerInfo(ctx context.Context, addr common.Address) *StakerResult {
	info := a.reader.StakerInfo(addr)
	return &StakerResult{
		Address:           info.Address,
		IsStaked:          info.IsStaked,
		IsZombie:          info.IsZombie,
		AmountStaked:      (*hexutil.Big)(info.AmountStaked),
		LatestStakedNode:  hexutil.Uint64(info.LatestStakedNode),
		CurrentChallenge:  hexutil.Uint64(info.CurrentChallenge),
		WithdrawableFunds: (*hexutil.Big)(info.WithdrawableFunds),
	}
}

func (a *RollupAPI) Stakers(ctx context.Context) []common.Address {
	stakers := a.reader.Stakers()
	if stakers == nil {
		return []common.Address{}
	}
	return stakers
}

func (a *RollupAPI) ChallengeInfo(ctx context.Context, id hexutil.Uint64) (*ChallengeResult, error) {
	info, err := a.reader.ChallengeInfo(uint64(id))
	if err != nil {
		return nil, wrapError(err)
	}
	nodes, err := a.reader.ChallengeNodes(uint64(id))
	if err != nil {
		return nil, wrapError(err)
	}
	return &ChallengeResult{
		Id:                 hexutil.Uint64(info.Id),
		Mode:               info.Mode.String(),
		Asserter:           info.Asserter,
		Challenger:         info.Challenger,
		CurrentResponder:   info.CurrentResponder,
		AsserterTimeLeft:   hexutil.Uint64(info.AsserterTimeLeft),
		ChallengerTimeLeft: hexutil.Uint64(info.ChallengerTimeLeft),
		LastMoveBlock:      hexutil.Uint64(info.LastMoveBlock),
		Block:              hexutil.Uint64(info.Block),
		TimedOut:           info.TimedOut,
		SegmentsStart:      hexutil.Uint64(info.SegmentsStart),
		SegmentsLength:     hexutil.Uint64(info.SegmentsLength),
		Segments:           info.RawSegments(),
		Nodes:              []hexutil.Uint64{hexutil.Uint64(nodes[0]), hexutil.Uint64(nodes[1])},
	}, nil
}

func (a *RollupAPI) Paused(ctx context.Context) bool {
	return a.reader.Paused()
}

func (a *RollupAPI) RequiredStake(ctx context.Context) *hexutil.Big {
	return (*hexutil.Big)(a.reader.RequiredStake())
}

func (a *RollupAPI) ZombieCount(ctx context.Context) hexutil.Uint64 {
	return hexutil.Uint64(a.reader.ZombieCount())
}

// Events pages through the committed event history. A zero limit, or one
// above the per call maximum, returns the maximum.
func (a *RollupAPI) Events(ctx context.Context, from hexutil.Uint64, limit hexutil.Uint64) []EventResult {
	if limit == 0 || limit > maxEventsPerCall {
		limit = maxEventsPerCall
	}
	recs := a.reader.Events(uint64(from), uint64(limit))
	results := make([]EventResult, len(recs))
	for i, rec := range recs {
		results[i] = EventResult{
			Seq:   hexutil.Uint64(rec.Seq),
			Block: hexutil.Uint64(rec.Block),
			Type:  eventType(rec.Event),
			Event: rec.Event,
		}
	}
	return results
}
