package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func resolution(client, freelancer int64) domain.ResolutionEvent {
	return domain.ResolutionEvent{
		ChainDealID:      7,
		ClientAmount:     big.NewInt(client),
		FreelancerAmount: big.NewInt(freelancer),
		ArbiterFee:       big.NewInt(5),
	}
}

func TestDeriveRuling(t *testing.T) {
	tests := []struct {
		name       string
		client     int64
		freelancer int64
		want       domain.Ruling
	}{
		{"full refund favors client", 1000, 0, domain.RulingClient},
		{"full payout favors freelancer", 0, 1000, domain.RulingFreelancer},
		{"larger client share favors client", 600, 400, domain.RulingClient},
		{"larger freelancer share favors freelancer", 400, 600, domain.RulingFreelancer},
		{"equal amounts split", 500, 500, domain.RulingSplit},
		{"both zero split", 0, 0, domain.RulingSplit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ruling, ev, err := DeriveRuling([]domain.ResolutionEvent{resolution(tt.client, tt.freelancer)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ruling)
			assert.Equal(t, uint64(7), ev.ChainDealID)
		})
	}
}

func TestDeriveRulingNoEvents(t *testing.T) {
	_, _, err := DeriveRuling(nil)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDeriveRulingAmbiguous(t *testing.T) {
	events := []domain.ResolutionEvent{resolution(1000, 0), resolution(0, 1000)}
	_, _, err := DeriveRuling(events)
	assert.True(t, errors.Is(err, domain.ErrAmbiguousRuling))
}
