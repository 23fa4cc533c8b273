package escrow

import (
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// MilestoneEndTimes turns relative time conditions into the absolute unix
// timestamps the contract stores. Each deadline is counted from the previous
// milestone's deadline (or start for the first). A milestone with no time
// condition gets 0, meaning no time lock.
func MilestoneEndTimes(milestones []domain.Milestone, start time.Time) []int64 {
	out := make([]int64, len(milestones))
	prev := start
	for i, m := range milestones {
		days := maxDays(m.Conditions)
		if days == 0 {
			out[i] = 0
			continue
		}
		end := prev.Add(time.Duration(days) * 24 * time.Hour)
		out[i] = end.Unix()
		prev = end
	}
	return out
}

// maxDays finds the longest time lock among the conditions, descending into
// hybrid groups.
func maxDays(conds []domain.Condition) int {
	days := 0
	for _, c := range conds {
		switch c.Type {
		case domain.ConditionTime:
			if c.DaysAfterPrevious > days {
				days = c.DaysAfterPrevious
			}
		case domain.ConditionHybrid:
			if d := maxDays(c.Subconditions); d > days {
				days = d
			}
		}
	}
	return days
}

// MilestoneApprovals computes the requires_approval flag written on-chain
// for each milestone, from the off-chain condition intent.
func MilestoneApprovals(milestones []domain.Milestone, now time.Time) []bool {
	out := make([]bool, len(milestones))
	for i, m := range milestones {
		out[i] = EvaluateConditions(m.Conditions, domain.MilestoneMirror{}, now).RequiresManualApproval
	}
	return out
}
