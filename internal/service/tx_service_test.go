package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func newTxFixture(deal domain.Deal, chain *fakeChain) (*TxService, *ActionTracker, *fakeDealStore) {
	store := newFakeDealStore(deal)
	tracker := NewActionTracker(newFakeBus(), nil)
	reconciler := NewReconcileService(store, newFakeCache(), newFakeBus(), nil, chain, nil)
	disputes := NewDisputeService(newFakeDisputeStore(), store, chain, nil, nil, nil, nil, nil)
	return NewTxService(chain, tracker, reconciler, disputes, nil), tracker, store
}

func awaitState(t *testing.T, tracker *ActionTracker, id string, want domain.ActionState) domain.Action {
	t.Helper()
	var got domain.Action
	require.Eventually(t, func() bool {
		a, err := tracker.Get(id)
		if err != nil {
			return false
		}
		got = a
		return a.State == want
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestFundDealBindsOnConfirm(t *testing.T) {
	deal := boundDeal(0, domain.DealStatusPending, 2)
	deal.ChainDealID = nil
	ch := &fakeChain{
		submitHash: common.HexToHash("0x11"),
		receipt: &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			TxHash: common.HexToHash("0x11"),
			Logs:   []*types.Log{dealCreatedTestLog(12)},
		},
		status:  domain.ChainStatusFunded,
		mirrors: []domain.MilestoneMirror{{}, {}},
	}
	svc, tracker, store := newTxFixture(deal, ch)

	action, err := svc.FundDeal(context.Background(), deal)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFund, action.Kind)

	// Approval flags must reach the submitter as the contract's uint256
	// words, not a bool slice the ABI packer would reject.
	require.Len(t, ch.lastArgs, 8)
	_, ok := ch.lastArgs[7].([]*big.Int)
	assert.True(t, ok)

	final := awaitState(t, tracker, action.ID, domain.ActionStateConfirmed)
	assert.Equal(t, ch.submitHash.Hex(), final.TxHash)

	require.Eventually(t, func() bool {
		stored, err := store.GetByID(context.Background(), deal.ID.String())
		return err == nil && stored.ChainDealID != nil && *stored.ChainDealID == 12
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFundDealRejectsBoundDeal(t *testing.T) {
	deal := boundDeal(3, domain.DealStatusFunded, 1)
	svc, _, _ := newTxFixture(deal, &fakeChain{})

	_, err := svc.FundDeal(context.Background(), deal)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestBindFromTx(t *testing.T) {
	txHash := common.HexToHash("0x33").Hex()

	t.Run("binds from external creation receipt", func(t *testing.T) {
		deal := boundDeal(0, domain.DealStatusPending, 2)
		deal.ChainDealID = nil
		ch := &fakeChain{
			receipt: &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				TxHash: common.HexToHash(txHash),
				Logs:   []*types.Log{dealCreatedTestLog(7)},
			},
		}
		svc, _, store := newTxFixture(deal, ch)

		id, guessed, err := svc.BindFromTx(context.Background(), deal, txHash)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), id)
		assert.False(t, guessed)

		stored, err := store.GetByID(context.Background(), deal.ID.String())
		require.NoError(t, err)
		require.NotNil(t, stored.ChainDealID)
		assert.Equal(t, uint64(7), *stored.ChainDealID)
	})

	t.Run("already bound returns existing id", func(t *testing.T) {
		deal := boundDeal(9, domain.DealStatusFunded, 1)
		svc, _, _ := newTxFixture(deal, &fakeChain{})

		id, guessed, err := svc.BindFromTx(context.Background(), deal, txHash)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), id)
		assert.False(t, guessed)
	})

	t.Run("rejects malformed hash", func(t *testing.T) {
		deal := boundDeal(0, domain.DealStatusPending, 1)
		deal.ChainDealID = nil
		svc, _, _ := newTxFixture(deal, &fakeChain{})

		_, _, err := svc.BindFromTx(context.Background(), deal, "0x11")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("rejects reverted transaction", func(t *testing.T) {
		deal := boundDeal(0, domain.DealStatusPending, 1)
		deal.ChainDealID = nil
		ch := &fakeChain{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
		svc, _, _ := newTxFixture(deal, ch)

		_, _, err := svc.BindFromTx(context.Background(), deal, txHash)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestFundDealSubmitFailureMarksActionFailed(t *testing.T) {
	deal := boundDeal(0, domain.DealStatusPending, 1)
	deal.ChainDealID = nil
	ch := &fakeChain{submitErr: domain.ErrTxRejected}
	svc, tracker, _ := newTxFixture(deal, ch)

	action, err := svc.FundDeal(context.Background(), deal)
	require.ErrorIs(t, err, domain.ErrTxRejected)
	assert.Equal(t, domain.ActionStateFailed, action.State)

	got, err := tracker.Get(action.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateFailed, got.State)
}

func TestReleaseRevertedTransactionFails(t *testing.T) {
	deal := boundDeal(4, domain.DealStatusActive, 1)
	ch := &fakeChain{
		submitHash: common.HexToHash("0x22"),
		receipt:    &types.Receipt{Status: types.ReceiptStatusFailed, TxHash: common.HexToHash("0x22")},
	}
	svc, tracker, _ := newTxFixture(deal, ch)

	action, err := svc.ReleaseMilestone(context.Background(), deal, 0)
	require.NoError(t, err)

	final := awaitState(t, tracker, action.ID, domain.ActionStateFailed)
	assert.Contains(t, final.Error, "reverted")
}

func TestReleaseUnboundDeal(t *testing.T) {
	deal := boundDeal(0, domain.DealStatusPending, 1)
	deal.ChainDealID = nil
	svc, _, _ := newTxFixture(deal, &fakeChain{})

	_, err := svc.ReleaseMilestone(context.Background(), deal, 0)
	assert.ErrorIs(t, err, domain.ErrNotBound)
}

func TestRaiseDisputeRecordsAfterConfirm(t *testing.T) {
	deal := boundDeal(6, domain.DealStatusActive, 1)
	ch := &fakeChain{
		submitHash: common.HexToHash("0x33"),
		receipt:    &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x33")},
	}
	store := newFakeDealStore(deal)
	disputeStore := newFakeDisputeStore()
	tracker := NewActionTracker(newFakeBus(), nil)
	reconciler := NewReconcileService(store, nil, nil, nil, ch, nil)
	disputes := NewDisputeService(disputeStore, store, ch, nil, nil, nil, nil, nil)
	svc := NewTxService(ch, tracker, reconciler, disputes, nil)

	action, err := svc.RaiseDispute(context.Background(), deal, deal.Client, "scope creep", nil)
	require.NoError(t, err)

	awaitState(t, tracker, action.ID, domain.ActionStateConfirmed)
	require.Eventually(t, func() bool {
		d, err := disputeStore.GetByDealID(context.Background(), deal.ID.String())
		return err == nil && d.Reason == "scope creep"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolveDisputeValidatesShares(t *testing.T) {
	deal := boundDeal(6, domain.DealStatusDisputed, 1)
	svc, _, _ := newTxFixture(deal, &fakeChain{})

	_, err := svc.ResolveDispute(context.Background(), deal, big.NewInt(-1), big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.ResolveDispute(context.Background(), deal, nil, big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestActionTrackerLifecycle(t *testing.T) {
	tracker := NewActionTracker(newFakeBus(), nil)
	ctx := context.Background()

	a := tracker.Begin(ctx, "deal-1", domain.ActionRelease, 2)
	assert.Equal(t, domain.ActionStatePending, a.State)

	tracker.Submitted(ctx, a.ID, "0xbeef")
	got, err := tracker.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateConfirming, got.State)
	assert.Equal(t, "0xbeef", got.TxHash)

	tracker.Failed(ctx, a.ID, errors.New("nonce too low"))
	got, err = tracker.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionStateFailed, got.State)
	assert.Equal(t, "nonce too low", got.Error)

	_, err = tracker.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestActionTrackerListByDeal(t *testing.T) {
	tracker := NewActionTracker(nil, nil)
	ctx := context.Background()

	first := tracker.Begin(ctx, "deal-1", domain.ActionFund, 0)
	time.Sleep(5 * time.Millisecond)
	second := tracker.Begin(ctx, "deal-1", domain.ActionRelease, 0)
	tracker.Begin(ctx, "deal-2", domain.ActionFund, 0)

	got := tracker.ListByDeal("deal-1")
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
}
