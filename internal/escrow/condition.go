package escrow

import (
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Verdict is the evaluated release intent for one milestone.
type Verdict struct {
	// RequiresManualApproval means only the client may release.
	RequiresManualApproval bool
	// AutoReleaseEligible means a pure automatic release is allowed right
	// now (no manual requirement, no pending time lock).
	AutoReleaseEligible bool
	// TimeLockedUntil is set when the only thing blocking an automatic
	// release is the chain mirror's end timestamp.
	TimeLockedUntil *time.Time
}

// EvaluateConditions resolves a milestone's off-chain condition set against
// the chain mirror and the current time.
//
// Rules:
//   - an empty condition list defaults to manual approval; automation is
//     opt-in only
//   - a manual condition anywhere in the set wins over everything else
//   - an oracle condition cannot be verified here and is treated as manual
//   - hybrid combines its subconditions with AND, or OR when AnyConditionMet
//
// The result overrides the mirror's requires_approval flag; callers fall
// back to that flag only when no off-chain condition set exists at all.
func EvaluateConditions(conds []domain.Condition, mirror domain.MilestoneMirror, now time.Time) Verdict {
	manual := len(conds) == 0
	for _, c := range conds {
		if conditionRequiresManual(c) {
			manual = true
			break
		}
	}

	v := Verdict{RequiresManualApproval: manual}
	if manual {
		return v
	}

	if mirror.EndTimestamp > 0 && now.Unix() < mirror.EndTimestamp {
		until := time.Unix(mirror.EndTimestamp, 0).UTC()
		v.TimeLockedUntil = &until
		return v
	}

	v.AutoReleaseEligible = true
	return v
}

// conditionRequiresManual reports whether a single condition blocks
// automatic release.
func conditionRequiresManual(c domain.Condition) bool {
	switch c.Type {
	case domain.ConditionTime:
		return false
	case domain.ConditionManual, domain.ConditionOracle:
		return true
	case domain.ConditionHybrid:
		if len(c.Subconditions) == 0 {
			return true
		}
		if c.AnyConditionMet {
			// OR: one automatic path is enough.
			for _, sub := range c.Subconditions {
				if !conditionRequiresManual(sub) {
					return false
				}
			}
			return true
		}
		// AND: every subcondition must allow automation.
		for _, sub := range c.Subconditions {
			if conditionRequiresManual(sub) {
				return true
			}
		}
		return false
	}
	// Unknown condition types block automation.
	return true
}

// MirrorVerdict derives a Verdict from the chain mirror alone, for deals
// whose off-chain condition record is unavailable.
func MirrorVerdict(mirror domain.MilestoneMirror, now time.Time) Verdict {
	v := Verdict{RequiresManualApproval: mirror.RequiresApproval}
	if mirror.RequiresApproval {
		return v
	}
	if mirror.EndTimestamp > 0 && now.Unix() < mirror.EndTimestamp {
		until := time.Unix(mirror.EndTimestamp, 0).UTC()
		v.TimeLockedUntil = &until
		return v
	}
	v.AutoReleaseEligible = true
	return v
}
