package escrow

import (
	"fmt"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// DeriveRuling classifies a deal's dispute outcome from its resolution
// events. Exactly one event is expected; zero means the dispute is still
// open (ErrNotFound) and more than one is a data anomaly surfaced as
// ErrAmbiguousRuling, never silently collapsed to the first match.
//
// A strictly greater client amount means a client-favored ruling, a strictly
// greater freelancer amount a freelancer-favored one, and equality a split.
// The result is permanent: resolution events are immutable history.
func DeriveRuling(events []domain.ResolutionEvent) (domain.Ruling, domain.ResolutionEvent, error) {
	switch len(events) {
	case 0:
		return "", domain.ResolutionEvent{}, fmt.Errorf("escrow: no resolution event: %w", domain.ErrNotFound)
	case 1:
	default:
		return "", domain.ResolutionEvent{}, fmt.Errorf("escrow: %d resolution events: %w", len(events), domain.ErrAmbiguousRuling)
	}

	ev := events[0]
	switch ev.ClientAmount.Cmp(ev.FreelancerAmount) {
	case 1:
		return domain.RulingClient, ev, nil
	case -1:
		return domain.RulingFreelancer, ev, nil
	}
	return domain.RulingSplit, ev, nil
}
