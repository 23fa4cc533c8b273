// Package escrow holds the pure decision logic of the deal lifecycle:
// milestone amount splitting, condition evaluation, release eligibility,
// and dispute ruling derivation. Nothing here touches the network or a
// store, so every function is unit-testable in isolation.
package escrow

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

var oneHundred = big.NewInt(100)

// ValidatePercentages checks a milestone percentage split: at least one
// milestone, each percentage in (0,100], and an exact sum of 100.
func ValidatePercentages(percentages []int) error {
	if len(percentages) == 0 {
		return fmt.Errorf("escrow: no milestones: %w", domain.ErrInvalidInput)
	}
	sum := 0
	for i, p := range percentages {
		if p <= 0 || p > 100 {
			return fmt.Errorf("escrow: milestone %d percentage %d out of range: %w", i, p, domain.ErrInvalidInput)
		}
		sum += p
	}
	if sum != 100 {
		return fmt.Errorf("escrow: percentages sum to %d, want 100: %w", sum, domain.ErrInvalidInput)
	}
	return nil
}

// MilestoneAmounts splits total wei across the given percentages. Integer
// division truncates, so the last milestone absorbs the remainder; the
// returned amounts always sum to exactly total.
func MilestoneAmounts(total *big.Int, percentages []int) ([]*big.Int, error) {
	if err := ValidatePercentages(percentages); err != nil {
		return nil, err
	}
	if total == nil || total.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total must be positive: %w", domain.ErrInvalidInput)
	}

	amounts := make([]*big.Int, len(percentages))
	assigned := new(big.Int)
	for i, p := range percentages {
		if i == len(percentages)-1 {
			amounts[i] = new(big.Int).Sub(total, assigned)
			break
		}
		amt := new(big.Int).Mul(total, big.NewInt(int64(p)))
		amt.Quo(amt, oneHundred)
		amounts[i] = amt
		assigned.Add(assigned, amt)
	}
	return amounts, nil
}
