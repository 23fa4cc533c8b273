package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func TestMilestoneEndTimes(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("deadlines chain from the previous milestone", func(t *testing.T) {
		ms := []domain.Milestone{
			{Conditions: []domain.Condition{{Type: domain.ConditionTime, DaysAfterPrevious: 7}}},
			{Conditions: []domain.Condition{{Type: domain.ConditionTime, DaysAfterPrevious: 3}}},
		}
		got := MilestoneEndTimes(ms, start)
		assert.Equal(t, start.AddDate(0, 0, 7).Unix(), got[0])
		assert.Equal(t, start.AddDate(0, 0, 10).Unix(), got[1])
	})

	t.Run("no time condition means no time lock", func(t *testing.T) {
		ms := []domain.Milestone{
			{Conditions: []domain.Condition{{Type: domain.ConditionManual}}},
			{Conditions: []domain.Condition{{Type: domain.ConditionTime, DaysAfterPrevious: 2}}},
		}
		got := MilestoneEndTimes(ms, start)
		assert.EqualValues(t, 0, got[0])
		// The untimed milestone does not advance the chain's baseline.
		assert.Equal(t, start.AddDate(0, 0, 2).Unix(), got[1])
	})

	t.Run("hybrid takes the longest nested time lock", func(t *testing.T) {
		ms := []domain.Milestone{
			{Conditions: []domain.Condition{{
				Type: domain.ConditionHybrid,
				Subconditions: []domain.Condition{
					{Type: domain.ConditionTime, DaysAfterPrevious: 5},
					{Type: domain.ConditionTime, DaysAfterPrevious: 14},
					{Type: domain.ConditionManual},
				},
			}}},
		}
		got := MilestoneEndTimes(ms, start)
		assert.Equal(t, start.AddDate(0, 0, 14).Unix(), got[0])
	})
}

func TestMilestoneApprovals(t *testing.T) {
	ms := []domain.Milestone{
		{Conditions: []domain.Condition{{Type: domain.ConditionManual}}},
		{Conditions: []domain.Condition{{Type: domain.ConditionTime, DaysAfterPrevious: 7}}},
		{Conditions: nil},
	}
	got := MilestoneApprovals(ms, now)
	assert.Equal(t, []bool{true, false, true}, got)
}
