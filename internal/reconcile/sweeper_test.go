package reconcile

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/service"
)

type memDealStore struct {
	mu    sync.Mutex
	deals map[string]domain.Deal
}

func newMemDealStore(deals ...domain.Deal) *memDealStore {
	s := &memDealStore{deals: make(map[string]domain.Deal)}
	for _, d := range deals {
		s.deals[d.ID.String()] = d
	}
	return s
}

func (s *memDealStore) Create(_ context.Context, d domain.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.ID.String()] = d
	return nil
}

func (s *memDealStore) GetByID(_ context.Context, id string) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return domain.Deal{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *memDealStore) GetByChainID(_ context.Context, chainDealID uint64) (domain.Deal, error) {
	return domain.Deal{}, domain.ErrNotFound
}

func (s *memDealStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Deal
	for _, d := range s.deals {
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *memDealStore) ListBound(_ context.Context, opts domain.ListOpts) ([]domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Deal
	for _, d := range s.deals {
		if d.ChainDealID != nil && !d.Status.Terminal() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ChainDealID < *out[j].ChainDealID })
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *memDealStore) UpdateStatus(_ context.Context, id string, status domain.DealStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	s.deals[id] = d
	return nil
}

func (s *memDealStore) BindChainID(_ context.Context, id string, chainDealID uint64) error {
	return nil
}

func (s *memDealStore) SetMilestoneReleased(_ context.Context, id string, index int) error {
	return nil
}

func (s *memDealStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.deals)), nil
}

type memChain struct {
	status    domain.ChainStatus
	statusErr error
}

func (c *memChain) DealStatus(context.Context, uint64) (domain.ChainStatus, error) {
	return c.status, c.statusErr
}

func (c *memChain) Milestones(context.Context, uint64, int) ([]domain.MilestoneMirror, error) {
	return nil, nil
}

func (c *memChain) ResolutionEvents(context.Context, uint64, uint64) ([]domain.ResolutionEvent, error) {
	return nil, nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func testDeal(chainID uint64, status domain.DealStatus) domain.Deal {
	id := chainID
	return domain.Deal{
		ID:          uuid.New(),
		Status:      status,
		ChainDealID: &id,
	}
}

func TestSweepWritesBackChainState(t *testing.T) {
	deal := testDeal(1, domain.DealStatusFunded)
	store := newMemDealStore(deal)
	reconciler := service.NewReconcileService(store, nil, nil, nil, &memChain{status: domain.ChainStatusActive}, nil)
	sweeper := NewSweeper(store, reconciler, nil, 10, nil)

	require.NoError(t, sweeper.Sweep(context.Background()))

	got, err := store.GetByID(context.Background(), deal.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusActive, got.Status)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	deal := testDeal(1, domain.DealStatusFunded)
	store := newMemDealStore(deal)
	reconciler := service.NewReconcileService(store, nil, nil, nil, &memChain{status: domain.ChainStatusActive}, nil)
	sweeper := NewSweeper(store, reconciler, heldLock{}, 10, nil)

	require.NoError(t, sweeper.Sweep(context.Background()))

	got, err := store.GetByID(context.Background(), deal.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusFunded, got.Status, "a held lock must skip the sweep")
}

func TestSweepVisitsEveryDealAcrossPages(t *testing.T) {
	store := newMemDealStore(
		testDeal(1, domain.DealStatusActive),
		testDeal(2, domain.DealStatusActive),
		testDeal(3, domain.DealStatusActive),
		testDeal(4, domain.DealStatusActive),
		testDeal(5, domain.DealStatusActive),
	)
	reconciler := service.NewReconcileService(store, nil, nil, nil, &memChain{status: domain.ChainStatusCompleted}, nil)
	sweeper := NewSweeper(store, reconciler, nil, 2, nil)

	require.NoError(t, sweeper.Sweep(context.Background()))

	// Each transition drops the deal out of the bound set while the pass
	// is still paging; none of the later deals may be skipped for it.
	deals, err := store.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, deals, 5)
	for _, d := range deals {
		assert.Equal(t, domain.DealStatusCompleted, d.Status)
	}
}

func TestSweepContinuesPastFailedDeal(t *testing.T) {
	broken := testDeal(1, domain.DealStatusFunded)
	store := newMemDealStore(broken)
	reconciler := service.NewReconcileService(store, nil, nil, nil, &memChain{statusErr: domain.ErrChainUnavailable}, nil)
	sweeper := NewSweeper(store, reconciler, nil, 10, nil)

	assert.NoError(t, sweeper.Sweep(context.Background()))
}
