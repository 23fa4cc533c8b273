package escrow

import (
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ReleaseLabel tells the operator what kind of release they are triggering.
// The underlying contract call is identical in all three cases.
type ReleaseLabel string

const (
	// LabelApproveEarly is a client override of a still-running time lock.
	LabelApproveEarly ReleaseLabel = "Approve Early"
	// LabelApproveRelease is an ordinary manual approval.
	LabelApproveRelease ReleaseLabel = "Approve & Release"
	// LabelExecuteRelease is a pure automatic release whose conditions hold.
	LabelExecuteRelease ReleaseLabel = "Execute Release"
)

// Eligibility is the evaluator's answer for one (role, milestone) pair.
type Eligibility struct {
	Eligible   bool
	ActingRole domain.Role
	Label      ReleaseLabel
	Reason     string // set when ineligible
}

// ReleaseInput bundles everything the evaluator needs. Mirrors must cover
// every milestone of the deal in index order; HaveConditions distinguishes
// "off-chain record present with an empty condition list" (manual) from
// "off-chain record unavailable" (fall back to the chain mirror flag).
type ReleaseInput struct {
	Role           domain.Role
	Index          int
	Bound          bool
	ChainStatus    domain.ChainStatus
	Mirrors        []domain.MilestoneMirror
	Conditions     []domain.Condition
	HaveConditions bool
	Now            time.Time
}

// EvaluateRelease decides whether a release action is currently permitted
// for the given role and milestone index.
//
// Preconditions for any role: the deal is bound, the milestone is not yet
// released, the chain status is Funded or Active, and every earlier
// milestone is already released. The client may then always release; the
// freelancer only when the evaluated intent is pure auto-release and the
// time lock (if any) has passed. Off-chain intent beats the mirror's
// requires_approval flag when both exist.
func EvaluateRelease(in ReleaseInput) Eligibility {
	out := Eligibility{ActingRole: in.Role}

	if !in.Bound {
		out.Reason = "deal has no on-chain id yet"
		return out
	}
	if in.Index < 0 || in.Index >= len(in.Mirrors) {
		out.Reason = "milestone index out of range"
		return out
	}
	m := in.Mirrors[in.Index]
	if m.Released {
		out.Reason = "milestone already released"
		return out
	}
	if in.ChainStatus != domain.ChainStatusFunded && in.ChainStatus != domain.ChainStatusActive {
		out.Reason = "deal is not in a releasable state"
		return out
	}
	if in.Index > 0 && !in.Mirrors[in.Index-1].Released {
		out.Reason = "previous milestone not released"
		return out
	}

	var v Verdict
	if in.HaveConditions {
		v = EvaluateConditions(in.Conditions, m, in.Now)
	} else {
		v = MirrorVerdict(m, in.Now)
	}

	switch in.Role {
	case domain.RoleClient:
		out.Eligible = true
		switch {
		case v.TimeLockedUntil != nil:
			out.Label = LabelApproveEarly
		case v.RequiresManualApproval:
			out.Label = LabelApproveRelease
		default:
			out.Label = LabelExecuteRelease
		}
		return out
	case domain.RoleFreelancer:
		if v.RequiresManualApproval {
			out.Reason = "milestone requires client approval"
			return out
		}
		if !v.AutoReleaseEligible {
			out.Reason = "time lock has not elapsed"
			return out
		}
		out.Eligible = true
		out.Label = LabelExecuteRelease
		return out
	}

	out.Reason = "role may not release milestones"
	return out
}
