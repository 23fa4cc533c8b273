package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/platform/chain"
)

func boundDeal(chainID uint64, status domain.DealStatus, milestones int) domain.Deal {
	d := domain.Deal{
		ID:          uuid.New(),
		Title:       "site build",
		Client:      "0x1111111111111111111111111111111111111111",
		Freelancer:  "0x2222222222222222222222222222222222222222",
		Arbiter:     "0x3333333333333333333333333333333333333333",
		TotalWei:    big.NewInt(1_000_000),
		Status:      status,
		ChainDealID: uint64Ptr(chainID),
		CreatedAt:   time.Now().UTC(),
	}
	for i := 0; i < milestones; i++ {
		d.Milestones = append(d.Milestones, domain.Milestone{
			Index:      i,
			Percentage: 100 / milestones,
			AmountWei:  big.NewInt(int64(1_000_000 / milestones)),
		})
	}
	return d
}

func TestViewChainStatusWins(t *testing.T) {
	deal := boundDeal(3, domain.DealStatusFunded, 1)
	store := newFakeDealStore(deal)
	reader := &fakeChain{status: domain.ChainStatusDisputed, mirrors: []domain.MilestoneMirror{{}}}
	svc := NewReconcileService(store, nil, nil, nil, reader, nil)

	view := svc.View(context.Background(), deal)

	assert.Equal(t, domain.DealStatusDisputed, view.Status)
	require.NotNil(t, view.ChainStatus)
	assert.Equal(t, domain.ChainStatusDisputed, *view.ChainStatus)
}

func TestViewFallsBackWhenChainUnavailable(t *testing.T) {
	deal := boundDeal(3, domain.DealStatusFunded, 1)
	store := newFakeDealStore(deal)
	reader := &fakeChain{statusErr: domain.ErrChainUnavailable, mirrorsErr: domain.ErrChainUnavailable}
	svc := NewReconcileService(store, nil, nil, nil, reader, nil)

	view := svc.View(context.Background(), deal)

	assert.Equal(t, domain.DealStatusFunded, view.Status)
	assert.Nil(t, view.ChainStatus)
}

func TestViewUnboundSkipsChain(t *testing.T) {
	deal := boundDeal(0, domain.DealStatusPending, 1)
	deal.ChainDealID = nil
	reader := &fakeChain{statusErr: errors.New("must not be called")}
	svc := NewReconcileService(newFakeDealStore(deal), nil, nil, nil, reader, nil)

	view := svc.View(context.Background(), deal)

	assert.Equal(t, domain.DealStatusPending, view.Status)
	assert.Nil(t, view.ChainStatus)
}

func TestReconcileDealWritesBackDivergence(t *testing.T) {
	deal := boundDeal(7, domain.DealStatusFunded, 2)
	store := newFakeDealStore(deal)
	cache := newFakeCache()
	bus := newFakeBus()
	reader := &fakeChain{
		status: domain.ChainStatusActive,
		mirrors: []domain.MilestoneMirror{
			{AmountWei: big.NewInt(500_000), Released: true},
			{AmountWei: big.NewInt(500_000)},
		},
	}
	svc := NewReconcileService(store, cache, bus, nil, reader, nil)

	view, err := svc.ReconcileDeal(context.Background(), deal)
	require.NoError(t, err)

	assert.Equal(t, domain.DealStatusActive, view.Status)
	assert.True(t, view.Milestones[0].Released)
	assert.False(t, view.Milestones[1].Released)

	stored, err := store.GetByID(context.Background(), deal.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusActive, stored.Status)
	assert.True(t, stored.Milestones[0].Released)

	got, err := cache.GetStatus(context.Background(), deal.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusActive, got)
	assert.Equal(t, 1, bus.count("deals"))
	assert.Equal(t, 1, bus.count("ch:deal:"+deal.ID.String()))
}

func TestReconcileDealOffchainWriteFailureIsNonFatal(t *testing.T) {
	deal := boundDeal(7, domain.DealStatusFunded, 1)
	store := newFakeDealStore(deal)
	store.updateErr = errors.New("pg down")
	reader := &fakeChain{status: domain.ChainStatusCompleted, mirrors: []domain.MilestoneMirror{{Released: true}}}
	svc := NewReconcileService(store, nil, nil, nil, reader, nil)

	view, err := svc.ReconcileDeal(context.Background(), deal)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusCompleted, view.Status)
}

func TestReconcileDealChainErrorPropagates(t *testing.T) {
	deal := boundDeal(7, domain.DealStatusFunded, 1)
	reader := &fakeChain{statusErr: domain.ErrChainUnavailable}
	svc := NewReconcileService(newFakeDealStore(deal), nil, nil, nil, reader, nil)

	_, err := svc.ReconcileDeal(context.Background(), deal)
	assert.ErrorIs(t, err, domain.ErrChainUnavailable)
}

func TestBindCreationFromReceipt(t *testing.T) {
	deal := boundDeal(0, domain.DealStatusPending, 1)
	deal.ChainDealID = nil
	store := newFakeDealStore(deal)
	cache := newFakeCache()
	svc := NewReconcileService(store, cache, newFakeBus(), nil, &fakeChain{}, nil)

	receipt := &types.Receipt{
		TxHash: common.HexToHash("0xabc"),
		Logs:   []*types.Log{dealCreatedTestLog(42)},
	}
	id, guessed, err := svc.BindCreation(context.Background(), deal.ID.String(), receipt)
	require.NoError(t, err)
	assert.False(t, guessed)
	assert.Equal(t, uint64(42), id)

	stored, err := store.GetByID(context.Background(), deal.ID.String())
	require.NoError(t, err)
	require.NotNil(t, stored.ChainDealID)
	assert.Equal(t, uint64(42), *stored.ChainDealID)
	assert.Equal(t, domain.DealStatusFunded, stored.Status)
}

func TestBindCreationGuessesWhenLogMissing(t *testing.T) {
	existing := boundDeal(4, domain.DealStatusActive, 1)
	pending := boundDeal(0, domain.DealStatusPending, 1)
	pending.ChainDealID = nil
	store := newFakeDealStore(existing, pending)
	svc := NewReconcileService(store, nil, nil, nil, &fakeChain{}, nil)

	receipt := &types.Receipt{TxHash: common.HexToHash("0xdef")}
	id, guessed, err := svc.BindCreation(context.Background(), pending.ID.String(), receipt)
	require.NoError(t, err)
	assert.True(t, guessed)
	assert.Equal(t, uint64(5), id)

	stored, err := store.GetByID(context.Background(), pending.ID.String())
	require.NoError(t, err)
	assert.Nil(t, stored.ChainDealID, "a guessed id must never be bound")
}

func TestMilestoneEligibilityUsesLiveState(t *testing.T) {
	deal := boundDeal(9, domain.DealStatusActive, 2)
	deal.Milestones[1].Conditions = []domain.Condition{{Type: domain.ConditionManual}}
	reader := &fakeChain{
		status: domain.ChainStatusActive,
		mirrors: []domain.MilestoneMirror{
			{Released: true},
			{},
		},
	}
	svc := NewReconcileService(newFakeDealStore(deal), nil, nil, nil, reader, nil)

	el, err := svc.MilestoneEligibility(context.Background(), deal, 1, domain.RoleFreelancer)
	require.NoError(t, err)
	assert.False(t, el.Eligible)

	el, err = svc.MilestoneEligibility(context.Background(), deal, 1, domain.RoleClient)
	require.NoError(t, err)
	assert.True(t, el.Eligible)
}

// dealCreatedTestLog builds a minimal DealCreated log for the given deal id.
func dealCreatedTestLog(dealID uint64) *types.Log {
	var idTopic common.Hash
	new(big.Int).SetUint64(dealID).FillBytes(idTopic[:])

	data := make([]byte, 128)
	copy(data[12:32], common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes())
	copy(data[44:64], common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes())
	big.NewInt(1_000_000).FillBytes(data[64:96])

	return &types.Log{
		Topics: []common.Hash{chain.DealCreatedEvent.Topic, idTopic},
		Data:   data,
	}
}
