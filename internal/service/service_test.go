package service

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// fakeDealStore is a map-backed DealStore for service tests.
type fakeDealStore struct {
	mu    sync.Mutex
	deals map[string]domain.Deal

	updateErr error
	bindErr   error
}

func newFakeDealStore(deals ...domain.Deal) *fakeDealStore {
	s := &fakeDealStore{deals: make(map[string]domain.Deal)}
	for _, d := range deals {
		s.deals[d.ID.String()] = d
	}
	return s
}

func (s *fakeDealStore) Create(_ context.Context, d domain.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deals[d.ID.String()]; ok {
		return domain.ErrAlreadyExists
	}
	s.deals[d.ID.String()] = d
	return nil
}

func (s *fakeDealStore) GetByID(_ context.Context, id string) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return domain.Deal{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *fakeDealStore) GetByChainID(_ context.Context, chainDealID uint64) (domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deals {
		if d.ChainDealID != nil && *d.ChainDealID == chainDealID {
			return d, nil
		}
	}
	return domain.Deal{}, domain.ErrNotFound
}

func (s *fakeDealStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeDealStore) ListBound(_ context.Context, _ domain.ListOpts) ([]domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Deal
	for _, d := range s.deals {
		if d.ChainDealID != nil && !d.Status.Terminal() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDealStore) UpdateStatus(_ context.Context, id string, status domain.DealStatus) error {
	if s.updateErr != nil {
		return s.updateErr
	}
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

func (s *fakeDealStore) BindChainID(_ context.Context, id string, chainDealID uint64) error {
	if s.bindErr != nil {
		return s.bindErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.ChainDealID != nil && *d.ChainDealID != chainDealID {
		return domain.ErrAlreadyExists
	}
	d.ChainDealID = &chainDealID
	s.deals[id] = d
	return nil
}

func (s *fakeDealStore) SetMilestoneReleased(_ context.Context, id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if index >= 0 && index < len(d.Milestones) {
		d.Milestones[index].Released = true
	}
	s.deals[id] = d
	return nil
}

func (s *fakeDealStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.deals)), nil
}

// fakeChain implements ChainReader and ChainSubmitter with scripted answers.
type fakeChain struct {
	mu         sync.Mutex
	status     domain.ChainStatus
	statusErr  error
	mirrors    []domain.MilestoneMirror
	mirrorsErr error
	events     []domain.ResolutionEvent
	eventsErr  error

	submitHash common.Hash
	submitErr  error
	receipt    *types.Receipt
	receiptErr error
	submitted  []string
	lastArgs   []any
}

func (c *fakeChain) DealStatus(context.Context, uint64) (domain.ChainStatus, error) {
	return c.status, c.statusErr
}

func (c *fakeChain) Milestones(context.Context, uint64, int) ([]domain.MilestoneMirror, error) {
	return c.mirrors, c.mirrorsErr
}

func (c *fakeChain) ResolutionEvents(context.Context, uint64, uint64) ([]domain.ResolutionEvent, error) {
	return c.events, c.eventsErr
}

func (c *fakeChain) SubmitTransaction(_ context.Context, method string, _ *big.Int, args ...any) (common.Hash, error) {
	c.mu.Lock()
	c.submitted = append(c.submitted, method)
	c.lastArgs = args
	c.mu.Unlock()
	return c.submitHash, c.submitErr
}

func (c *fakeChain) WaitForReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return c.receipt, c.receiptErr
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{messages: make(map[string][][]byte)}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

// fakeCache records status writes.
type fakeCache struct {
	mu       sync.Mutex
	statuses map[string]domain.DealStatus
	setErr   error
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: make(map[string]domain.DealStatus)}
}

func (c *fakeCache) SetStatus(_ context.Context, dealID string, status domain.DealStatus) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[dealID] = status
	return nil
}

func (c *fakeCache) GetStatus(_ context.Context, dealID string) (domain.DealStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[dealID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return st, nil
}

func (c *fakeCache) Invalidate(_ context.Context, dealID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, dealID)
	return nil
}

func uint64Ptr(v uint64) *uint64 { return &v }
