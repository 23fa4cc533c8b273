package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestEvaluateConditionsEmptyDefaultsToManual(t *testing.T) {
	v := EvaluateConditions(nil, domain.MilestoneMirror{}, now)
	assert.True(t, v.RequiresManualApproval)
	assert.False(t, v.AutoReleaseEligible)
	assert.Nil(t, v.TimeLockedUntil)
}

func TestEvaluateConditionsManualAlwaysWins(t *testing.T) {
	conds := []domain.Condition{
		{Type: domain.ConditionTime, DaysAfterPrevious: 7},
		{Type: domain.ConditionManual},
	}
	// End timestamp long past; manual still blocks automation.
	mirror := domain.MilestoneMirror{EndTimestamp: now.Add(-48 * time.Hour).Unix()}

	v := EvaluateConditions(conds, mirror, now)
	assert.True(t, v.RequiresManualApproval)
	assert.False(t, v.AutoReleaseEligible)
}

func TestEvaluateConditionsPureTime(t *testing.T) {
	conds := []domain.Condition{{Type: domain.ConditionTime, DaysAfterPrevious: 7}}

	t.Run("lock still running", func(t *testing.T) {
		end := now.Add(24 * time.Hour)
		v := EvaluateConditions(conds, domain.MilestoneMirror{EndTimestamp: end.Unix()}, now)
		assert.False(t, v.RequiresManualApproval)
		assert.False(t, v.AutoReleaseEligible)
		require.NotNil(t, v.TimeLockedUntil)
		assert.Equal(t, end.Unix(), v.TimeLockedUntil.Unix())
	})

	t.Run("lock elapsed", func(t *testing.T) {
		v := EvaluateConditions(conds, domain.MilestoneMirror{EndTimestamp: now.Add(-time.Minute).Unix()}, now)
		assert.False(t, v.RequiresManualApproval)
		assert.True(t, v.AutoReleaseEligible)
		assert.Nil(t, v.TimeLockedUntil)
	})

	t.Run("zero end timestamp means immediately eligible", func(t *testing.T) {
		v := EvaluateConditions(conds, domain.MilestoneMirror{EndTimestamp: 0}, now)
		assert.False(t, v.RequiresManualApproval)
		assert.True(t, v.AutoReleaseEligible)
	})
}

func TestEvaluateConditionsOracleTreatedAsManual(t *testing.T) {
	conds := []domain.Condition{{Type: domain.ConditionOracle, OracleType: "http", OracleURL: "https://example.com/done"}}
	v := EvaluateConditions(conds, domain.MilestoneMirror{}, now)
	assert.True(t, v.RequiresManualApproval)
}

func TestEvaluateConditionsHybrid(t *testing.T) {
	timeCond := domain.Condition{Type: domain.ConditionTime, DaysAfterPrevious: 3}
	manualCond := domain.Condition{Type: domain.ConditionManual}

	tests := []struct {
		name       string
		cond       domain.Condition
		wantManual bool
	}{
		{
			"AND with manual subcondition blocks automation",
			domain.Condition{Type: domain.ConditionHybrid, Subconditions: []domain.Condition{timeCond, manualCond}},
			true,
		},
		{
			"AND with only time subconditions allows automation",
			domain.Condition{Type: domain.ConditionHybrid, Subconditions: []domain.Condition{timeCond, timeCond}},
			false,
		},
		{
			"OR with one automatic path allows automation",
			domain.Condition{Type: domain.ConditionHybrid, AnyConditionMet: true, Subconditions: []domain.Condition{manualCond, timeCond}},
			false,
		},
		{
			"OR with only manual paths blocks automation",
			domain.Condition{Type: domain.ConditionHybrid, AnyConditionMet: true, Subconditions: []domain.Condition{manualCond, manualCond}},
			true,
		},
		{
			"hybrid without subconditions blocks automation",
			domain.Condition{Type: domain.ConditionHybrid},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateConditions([]domain.Condition{tt.cond}, domain.MilestoneMirror{}, now)
			assert.Equal(t, tt.wantManual, v.RequiresManualApproval)
		})
	}
}

func TestMirrorVerdictFallback(t *testing.T) {
	t.Run("approval flag respected when no conditions exist", func(t *testing.T) {
		v := MirrorVerdict(domain.MilestoneMirror{RequiresApproval: true}, now)
		assert.True(t, v.RequiresManualApproval)
	})

	t.Run("no approval and elapsed lock is eligible", func(t *testing.T) {
		v := MirrorVerdict(domain.MilestoneMirror{EndTimestamp: now.Add(-time.Hour).Unix()}, now)
		assert.True(t, v.AutoReleaseEligible)
	})

	t.Run("running lock reported", func(t *testing.T) {
		v := MirrorVerdict(domain.MilestoneMirror{EndTimestamp: now.Add(time.Hour).Unix()}, now)
		assert.False(t, v.AutoReleaseEligible)
		require.NotNil(t, v.TimeLockedUntil)
	})
}
