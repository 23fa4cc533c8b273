package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func validCreateInput() CreateDealInput {
	return CreateDealInput{
		Title:      "landing page",
		Client:     "0x1111111111111111111111111111111111111111",
		Freelancer: "0x2222222222222222222222222222222222222222",
		Arbiter:    "0x3333333333333333333333333333333333333333",
		TotalWei:   big.NewInt(100_000_000_000_000), // 0.0001 ETH
		Milestones: []MilestoneInput{
			{Title: "design", Percentage: 30},
			{Title: "build", Percentage: 50},
			{Title: "launch", Percentage: 20},
		},
	}
}

func TestCreateDealSplitsAmountsExactly(t *testing.T) {
	store := newFakeDealStore()
	bus := newFakeBus()
	svc := NewDealService(store, nil, bus, nil, "https://escrowd.example", nil)

	deal, link, err := svc.CreateDeal(context.Background(), validCreateInput())
	require.NoError(t, err)

	require.Len(t, deal.Milestones, 3)
	assert.Equal(t, "30000000000000", deal.Milestones[0].AmountWei.String())
	assert.Equal(t, "50000000000000", deal.Milestones[1].AmountWei.String())
	assert.Equal(t, "20000000000000", deal.Milestones[2].AmountWei.String())

	sum := new(big.Int)
	for _, m := range deal.Milestones {
		sum.Add(sum, m.AmountWei)
	}
	assert.Zero(t, sum.Cmp(deal.TotalWei))

	assert.Equal(t, domain.DealStatusPending, deal.Status)
	assert.False(t, deal.Bound())
	assert.Equal(t, "https://escrowd.example/deal/"+deal.ID.String(), link)
	assert.Equal(t, 1, bus.count("deals"))
}

func TestCreateDealRejectsBadInput(t *testing.T) {
	svc := NewDealService(newFakeDealStore(), nil, nil, nil, "https://escrowd.example", nil)

	tests := []struct {
		name   string
		mutate func(*CreateDealInput)
	}{
		{"missing title", func(in *CreateDealInput) { in.Title = "" }},
		{"missing client", func(in *CreateDealInput) { in.Client = "" }},
		{"client is freelancer", func(in *CreateDealInput) { in.Freelancer = in.Client }},
		{"zero total", func(in *CreateDealInput) { in.TotalWei = big.NewInt(0) }},
		{"nil total", func(in *CreateDealInput) { in.TotalWei = nil }},
		{"no milestones", func(in *CreateDealInput) { in.Milestones = nil }},
		{"percentages under 100", func(in *CreateDealInput) {
			in.Milestones = []MilestoneInput{{Percentage: 40}, {Percentage: 40}}
		}},
		{"zero percentage", func(in *CreateDealInput) {
			in.Milestones = []MilestoneInput{{Percentage: 0}, {Percentage: 100}}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validCreateInput()
			tc.mutate(&in)
			_, _, err := svc.CreateDeal(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	deal := boundDeal(1, domain.DealStatusFunded, 1)
	svc := NewDealService(newFakeDealStore(deal), nil, nil, nil, "", nil)

	err := svc.UpdateStatus(context.Background(), deal.ID.String(), domain.DealStatus("arbitrated"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateStatusInvalidatesCache(t *testing.T) {
	deal := boundDeal(1, domain.DealStatusFunded, 1)
	cache := newFakeCache()
	require.NoError(t, cache.SetStatus(context.Background(), deal.ID.String(), domain.DealStatusFunded))
	svc := NewDealService(newFakeDealStore(deal), cache, nil, nil, "", nil)

	require.NoError(t, svc.UpdateStatus(context.Background(), deal.ID.String(), domain.DealStatusActive))

	_, err := cache.GetStatus(context.Background(), deal.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStatusRepeatIsNoop(t *testing.T) {
	deal := boundDeal(1, domain.DealStatusActive, 1)
	store := newFakeDealStore(deal)
	svc := NewDealService(store, nil, nil, nil, "", nil)

	require.NoError(t, svc.UpdateStatus(context.Background(), deal.ID.String(), domain.DealStatusActive))
	require.NoError(t, svc.UpdateStatus(context.Background(), deal.ID.String(), domain.DealStatusActive))

	stored, err := store.GetByID(context.Background(), deal.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusActive, stored.Status)
}

func TestTemplatesSumToHundred(t *testing.T) {
	svc := NewDealService(newFakeDealStore(), nil, nil, nil, "", nil)
	for _, tpl := range svc.Templates() {
		sum := 0
		for _, p := range tpl.Percentages {
			sum += p
		}
		assert.Equal(t, 100, sum, tpl.Name)
	}
}
