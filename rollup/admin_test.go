// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package rollup

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/offchainlabs/rollupcore/protocol"
	"github.com/offchainlabs/rollupcore/util/testhelpers"
)

func ownerCalls(recs []*RecordedEvent) []uint64 {
	var ids []uint64
	for _, rec := range recs {
		if ev, ok := rec.Event.(*protocol.OwnerFunctionCalledEvent); ok {
			ids = append(ids, ev.Id)
		}
	}
	return ids
}

func TestPauseAndResume(t *testing.T) {
	e := newTestEnv(t, nil)
	require.ErrorIs(t, e.rollup.Pause(alice), protocol.ErrNotOwner)
	require.ErrorIs(t, e.rollup.Resume(owner), protocol.ErrNotPaused)

	require.NoError(t, e.rollup.Pause(owner))
	require.True(t, e.rollup.Paused())
	require.ErrorIs(t, e.rollup.Pause(owner), protocol.ErrAlreadyPaused)
	require.ErrorIs(t, e.rollup.Deposit(alice, big.NewInt(100)), protocol.ErrPaused)
	_, err := e.rollup.WithdrawFunds(alice)
	require.ErrorIs(t, err, protocol.ErrPaused)

	require.NoError(t, e.rollup.Resume(owner))
	require.False(t, e.rollup.Paused())
	require.NoError(t, e.rollup.Deposit(alice, big.NewInt(100)))
	require.Equal(t, []uint64{ownerPause, ownerResume}, ownerCalls(e.rollup.Events(0, 0)))
}

func TestPauseStopsChallengeClocks(t *testing.T) {
	e := setupRivals(t, 100)
	id := e.startChallenge()
	e.blocks.Set(10)
	require.NoError(t, e.rollup.Pause(owner))
	e.blocks.Set(200)
	require.ErrorIs(t, e.rollup.Timeout(dave, id), protocol.ErrPaused)
	require.NoError(t, e.rollup.Resume(owner))

	require.ErrorIs(t, e.rollup.Timeout(dave, id), protocol.ErrTimeoutDeadline)
	info, err := e.rollup.ChallengeInfo(id)
	require.NoError(t, err)
	require.Equal(t, uint64(195), info.LastMoveBlock)
	require.False(t, info.TimedOut)
	require.False(t, e.rollup.StakerInfo(bob).IsZombie)

	e.blocks.Set(305)
	require.ErrorIs(t, e.rollup.Timeout(dave, id), protocol.ErrTimeoutDeadline)
	e.blocks.Set(306)
	require.NoError(t, e.rollup.Timeout(dave, id))
	require.True(t, e.rollup.StakerInfo(bob).IsZombie)
	require.Equal(t, NodeRejected, e.node(2).Status)
}

func TestOwnerSetters(t *testing.T) {
	e := newTestEnv(t, nil)

	require.ErrorIs(t, e.rollup.SetBaseStake(owner, big.NewInt(0)), ErrInvalidParameter)
	require.ErrorIs(t, e.rollup.SetConfirmPeriodBlocks(owner, 0), ErrInvalidParameter)
	require.ErrorIs(t, e.rollup.SetLoserStakeEscrow(owner, common.Address{}), ErrInvalidParameter)
	require.ErrorIs(t, e.rollup.SetOwner(owner, common.Address{}), ErrInvalidParameter)
	require.ErrorIs(t, e.rollup.SetValidators(owner, nil, nil), protocol.ErrEmptyArray)
	require.ErrorIs(t, e.rollup.SetValidators(owner, []common.Address{dave}, nil), protocol.ErrWrongLength)
	require.ErrorIs(t, e.rollup.SetBaseStake(alice, big.NewInt(1)), protocol.ErrNotOwner)
	require.Empty(t, e.rollup.Events(0, 0))

	require.NoError(t, e.rollup.SetBaseStake(owner, big.NewInt(200)))
	require.Equal(t, int64(200), e.rollup.RequiredStake().Int64())
	require.ErrorIs(t, e.rollup.Deposit(alice, big.NewInt(100)), protocol.ErrNotEnoughStake)

	require.NoError(t, e.rollup.SetValidators(owner, []common.Address{dave, alice}, []bool{true, false}))
	require.NoError(t, e.rollup.Deposit(dave, big.NewInt(200)))
	require.ErrorIs(t, e.rollup.Deposit(alice, big.NewInt(200)), protocol.ErrNotValidator)
	require.NoError(t, e.rollup.SetValidatorWhitelistDisabled(owner, true))
	require.NoError(t, e.rollup.Deposit(alice, big.NewInt(200)))

	newRoot := common.HexToHash("0x2222")
	require.NoError(t, e.rollup.SetWasmModuleRoot(owner, newRoot))
	require.NoError(t, e.rollup.SetMinimumAssertionPeriod(owner, 1))
	require.NoError(t, e.rollup.SetConfirmPeriodBlocks(owner, 20))
	require.NoError(t, e.rollup.SetExtraChallengeTimeBlocks(owner, 3))
	require.NoError(t, e.rollup.SetLoserStakeEscrow(owner, carol))
	e.blocks.Set(1)
	e.createNode(e.honest, alice, 0, 0)
	node := e.node(1)
	require.Equal(t, newRoot, node.WasmModuleRoot)
	require.Equal(t, uint64(21), node.DeadlineBlock)

	require.NoError(t, e.rollup.SetOwner(owner, carol))
	require.ErrorIs(t, e.rollup.Pause(owner), protocol.ErrNotOwner)
	require.NoError(t, e.rollup.Pause(carol))

	require.Equal(t, []uint64{
		ownerSetBaseStake,
		ownerSetValidators,
		ownerSetWhitelistDisabled,
		ownerSetWasmModuleRoot,
		ownerSetMinAssertPeriod,
		ownerSetConfirmPeriod,
		ownerSetExtraChallenge,
		ownerSetLoserStakeEscrow,
		ownerSetOwner,
		ownerPause,
	}, ownerCalls(e.rollup.Events(0, 0)))
}

func TestForceResolveChallenge(t *testing.T) {
	e := setupRivals(t, 100)
	id := e.startChallenge()

	require.ErrorIs(t, e.rollup.ForceResolveChallenge(owner, []common.Address{alice}, []common.Address{bob}), protocol.ErrNotPaused)
	require.NoError(t, e.rollup.Pause(owner))
	e.blocks.Set(116)
	require.ErrorIs(t, e.rollup.Timeout(dave, id), protocol.ErrPaused)

	require.ErrorIs(t, e.rollup.ForceResolveChallenge(owner, nil, nil), protocol.ErrEmptyArray)
	require.ErrorIs(t, e.rollup.ForceResolveChallenge(owner, []common.Address{alice}, nil), protocol.ErrWrongLength)
	require.ErrorIs(t, e.rollup.ForceResolveChallenge(owner, []common.Address{alice}, []common.Address{carol}), protocol.ErrNotInChallenge)
	err := e.rollup.ForceResolveChallenge(owner, []common.Address{alice, alice}, []common.Address{bob, bob})
	require.ErrorIs(t, err, protocol.ErrDiffInChallenge)
	require.Equal(t, bob, e.rollup.CurrentResponder(id))

	t.Run("one party twice", func(t *testing.T) {
		err := e.rollup.ForceResolveChallenge(owner, []common.Address{alice}, []common.Address{alice})
		require.ErrorIs(t, err, protocol.ErrDiffInChallenge)
		require.Equal(t, id, e.rollup.StakerInfo(alice).CurrentChallenge)
		require.Equal(t, id, e.rollup.StakerInfo(bob).CurrentChallenge)
		require.Equal(t, bob, e.rollup.CurrentResponder(id))
		halted, _ := e.rollup.AdminHalted()
		require.False(t, halted)
	})

	require.NoError(t, e.rollup.ForceResolveChallenge(owner, []common.Address{alice}, []common.Address{bob}))
	require.Equal(t, common.Address{}, e.rollup.CurrentResponder(id))
	require.Equal(t, uint64(0), e.rollup.StakerInfo(alice).CurrentChallenge)
	require.Equal(t, uint64(0), e.rollup.StakerInfo(bob).CurrentChallenge)
	require.Equal(t, int64(100), e.stake(alice))
	require.Equal(t, int64(100), e.stake(bob))
	_, err = e.rollup.ChallengeNodes(id)
	require.ErrorIs(t, err, protocol.ErrNoChallenge)

	var cleared bool
	for _, rec := range e.rollup.Events(0, 0) {
		if ev, ok := rec.Event.(*protocol.ChallengeEndedEvent); ok {
			cleared = ev.Kind == protocol.TerminationCleared
		}
	}
	require.True(t, cleared)

	require.NoError(t, e.rollup.Resume(owner))
	second, err := e.rollup.CreateChallenge(carol, [2]common.Address{alice, bob}, [2]uint64{1, 2})
	require.NoError(t, err)
	require.Equal(t, uint64(2), second)
}

func TestForceRefundStaker(t *testing.T) {
	e := setupRivals(t, 100)
	require.ErrorIs(t, e.rollup.ForceRefundStaker(owner, []common.Address{bob}), protocol.ErrNotPaused)
	require.NoError(t, e.rollup.Pause(owner))
	require.ErrorIs(t, e.rollup.ForceRefundStaker(owner, nil), protocol.ErrEmptyArray)
	require.ErrorIs(t, e.rollup.ForceRefundStaker(owner, []common.Address{bob, carol}), protocol.ErrNotStaked)
	require.True(t, e.rollup.StakerInfo(bob).IsStaked)

	require.NoError(t, e.rollup.ForceRefundStaker(owner, []common.Address{bob, bob}))
	info := e.rollup.StakerInfo(bob)
	require.True(t, info.IsZombie)
	require.Equal(t, int64(100), info.WithdrawableFunds.Int64())
	require.Equal(t, int64(0), e.rollup.WithdrawableFunds(escrow).Int64())
}

func TestForceRefundChallengedStaker(t *testing.T) {
	e := setupRivals(t, 100)
	e.startChallenge()
	require.NoError(t, e.rollup.Pause(owner))
	require.ErrorIs(t, e.rollup.ForceRefundStaker(owner, []common.Address{alice}), protocol.ErrStakerInChallenge)
}

func TestForceCreateNodeHalts(t *testing.T) {
	e := newTestEnv(t, nil)
	e.blocks.Set(5)
	assertion := e.assertionOn(e.honest, 0)
	candidate, err := e.rollup.prepareNode(0, assertion)
	require.NoError(t, err)

	_, err = e.rollup.ForceCreateNode(owner, 0, assertion, candidate.NodeHash)
	require.ErrorIs(t, err, protocol.ErrNotPaused)
	require.NoError(t, e.rollup.Pause(owner))
	_, err = e.rollup.ForceCreateNode(owner, 1, assertion, candidate.NodeHash)
	require.ErrorIs(t, err, protocol.ErrOnlyLatestConfirmed)

	_, err = e.rollup.ForceCreateNode(owner, 0, assertion, common.Hash{1})
	require.ErrorIs(t, err, protocol.ErrFatal)
	require.ErrorIs(t, err, protocol.ErrUnexpectedNodeHash)
	var crossCheck *protocol.CrossCheckError
	require.ErrorAs(t, err, &crossCheck)
	require.Equal(t, "forceCreateNode", crossCheck.Op)
	halted, reason := e.rollup.AdminHalted()
	require.True(t, halted)
	require.Contains(t, reason, "UNEXPECTED_NODE_HASH")
	recs := e.rollup.Events(0, 0)
	_, ok := recs[len(recs)-1].Event.(*protocol.AdminHaltedEvent)
	require.True(t, ok)
	require.Equal(t, uint64(0), e.rollup.LatestNodeCreated())

	_, err = e.rollup.ForceCreateNode(owner, 0, assertion, candidate.NodeHash)
	require.ErrorIs(t, err, protocol.ErrAdminHalted)
	require.ErrorIs(t, err, protocol.ErrFatal)

	require.ErrorIs(t, e.rollup.ClearAdminHalt(alice), protocol.ErrNotOwner)
	require.NoError(t, e.rollup.ClearAdminHalt(owner))
	halted, _ = e.rollup.AdminHalted()
	require.False(t, halted)

	nodeNum, err := e.rollup.ForceCreateNode(owner, 0, assertion, candidate.NodeHash)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nodeNum)
	require.Equal(t, uint64(0), e.node(1).StakerCount)

	require.NoError(t, e.rollup.Resume(owner))
	require.NoError(t, e.rollup.StakeOnExisting(alice, 1, candidate.NodeHash, big.NewInt(100)))
	e.blocks.Set(105)
	require.NoError(t, e.confirm(bob, 1))
}

func TestForceCreateNodeWithForeignState(t *testing.T) {
	e := newTestEnv(t, nil)
	e.blocks.Set(5)
	require.NoError(t, e.rollup.Pause(owner))
	assertion := e.assertionOn(e.honest, 0)
	assertion.BeforeState.GlobalState.SendRoot = common.Hash{5}
	_, err := e.rollup.ForceCreateNode(owner, 0, assertion, common.Hash{})
	require.ErrorIs(t, err, protocol.ErrPrevStateHash)
	require.ErrorIs(t, err, protocol.ErrFatal)
	halted, _ := e.rollup.AdminHalted()
	require.True(t, halted)
}

func TestForceConfirmNode(t *testing.T) {
	e := setupRivals(t, 100)
	require.NoError(t, e.rollup.Pause(owner))

	require.ErrorIs(t, e.rollup.ForceConfirmNode(owner, 3, common.Hash{}, common.Hash{}), protocol.ErrNodeOutOfRange)
	err := e.rollup.ForceConfirmNode(owner, 2, common.Hash{1}, common.Hash{2})
	require.ErrorIs(t, err, protocol.ErrConfirmData)
	require.ErrorIs(t, err, protocol.ErrFatal)
	require.NoError(t, e.rollup.ClearAdminHalt(owner))

	blockHash, sendRoot := e.confirmArgs(2)
	require.NoError(t, e.rollup.ForceConfirmNode(owner, 2, blockHash, sendRoot))
	require.Equal(t, uint64(2), e.rollup.LatestConfirmed())
	require.Equal(t, uint64(3), e.rollup.FirstUnresolvedNode())
	require.Equal(t, NodeRejected, e.node(1).Status)
	require.True(t, e.rollup.StakerInfo(alice).IsZombie)
	require.Equal(t, int64(100), e.rollup.WithdrawableFunds(escrow).Int64())
	require.Contains(t, ownerCalls(e.rollup.Events(0, 0)), uint64(ownerForceConfirmNode))
}

func TestFastConfirm(t *testing.T) {
	logHandler := testhelpers.InitTestLog(t, log.LvlInfo)
	e := newTestEnv(t, func(c *Config) {
		c.FastConfirmer = dave.Hex()
	})
	require.True(t, logHandler.WasLogged("Fast confirmer is not a validator"))

	e.blocks.Set(5)
	e.createNode(e.honest, alice, 0, 100)
	nodeHash := e.node(1).NodeHash
	blockHash, sendRoot := e.confirmArgs(1)

	err := e.rollup.FastConfirmNextNode(dave, blockHash, sendRoot, nodeHash)
	require.ErrorIs(t, err, protocol.ErrNotValidator)
	err = e.rollup.FastConfirmNextNode(alice, blockHash, sendRoot, nodeHash)
	require.ErrorIs(t, err, protocol.ErrNotFastConfirmer)

	require.NoError(t, e.rollup.SetValidators(owner, []common.Address{dave}, []bool{true}))
	err = e.rollup.FastConfirmNextNode(dave, blockHash, sendRoot, common.Hash{1})
	require.ErrorIs(t, err, protocol.ErrWrongHash)
	err = e.rollup.FastConfirmNextNode(dave, common.Hash{1}, sendRoot, nodeHash)
	require.ErrorIs(t, err, protocol.ErrConfirmData)

	require.NoError(t, e.rollup.FastConfirmNextNode(dave, blockHash, sendRoot, nodeHash))
	require.Equal(t, uint64(1), e.rollup.LatestConfirmed())
	require.ErrorIs(t, e.rollup.FastConfirmNextNode(dave, blockHash, sendRoot, nodeHash), protocol.ErrNoUnresolved)
}

func TestFastConfirmWithRival(t *testing.T) {
	e := setupRivals(t, 100)
	require.NoError(t, e.rollup.SetFastConfirmer(owner, carol))
	blockHash, sendRoot := e.confirmArgs(1)
	err := e.rollup.FastConfirmNextNode(carol, blockHash, sendRoot, e.node(1).NodeHash)
	require.ErrorIs(t, err, protocol.ErrHasRival)

	id := e.startChallenge()
	e.blocks.Set(116)
	require.NoError(t, e.rollup.Timeout(dave, id))
	require.NoError(t, e.rollup.FastConfirmNextNode(carol, blockHash, sendRoot, e.node(1).NodeHash))

	require.NoError(t, e.rollup.SetFastConfirmer(owner, common.Address{}))
	require.ErrorIs(t, e.rollup.FastConfirmNextNode(carol, blockHash, sendRoot, common.Hash{}), protocol.ErrNotFastConfirmer)
}
