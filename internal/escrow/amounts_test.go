package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilestoneAmountsSumExactly(t *testing.T) {
	tests := []struct {
		name        string
		total       string
		percentages []int
	}{
		{"even split", "1000000000000000000", []int{50, 50}},
		{"three phase small total", "100000000000000", []int{30, 50, 20}},
		{"non divisible", "1000000000000000001", []int{33, 33, 34}},
		{"prime total", "7919", []int{33, 33, 34}},
		{"single milestone", "12345", []int{100}},
		{"quarterly", "999999999999999999", []int{25, 25, 25, 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, ok := new(big.Int).SetString(tt.total, 10)
			require.True(t, ok)

			amounts, err := MilestoneAmounts(total, tt.percentages)
			require.NoError(t, err)
			require.Len(t, amounts, len(tt.percentages))

			sum := new(big.Int)
			for _, a := range amounts {
				assert.True(t, a.Sign() >= 0)
				sum.Add(sum, a)
			}
			assert.Zero(t, sum.Cmp(total), "amounts must sum to the total with no drift")
		})
	}
}

func TestMilestoneAmountsThreePhase(t *testing.T) {
	// 0.0001 native units split 30/50/20.
	total := big.NewInt(100_000_000_000_000)
	amounts, err := MilestoneAmounts(total, []int{30, 50, 20})
	require.NoError(t, err)

	assert.Equal(t, "30000000000000", amounts[0].String())
	assert.Equal(t, "50000000000000", amounts[1].String())
	assert.Equal(t, "20000000000000", amounts[2].String())
}

func TestValidatePercentages(t *testing.T) {
	tests := []struct {
		name        string
		percentages []int
		wantErr     bool
	}{
		{"valid", []int{30, 50, 20}, false},
		{"full single", []int{100}, false},
		{"empty", nil, true},
		{"sum below", []int{30, 30}, true},
		{"sum above", []int{60, 60}, true},
		{"zero entry", []int{0, 100}, true},
		{"negative entry", []int{-10, 110}, true},
		{"entry above 100", []int{150}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePercentages(tt.percentages)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMilestoneAmountsRejectsBadTotal(t *testing.T) {
	_, err := MilestoneAmounts(big.NewInt(0), []int{100})
	assert.Error(t, err)

	_, err = MilestoneAmounts(nil, []int{100})
	assert.Error(t, err)
}
