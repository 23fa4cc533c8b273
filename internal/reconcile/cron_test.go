package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 10, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 10, 14, 31, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"0,30 * * * *", time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := nextCronTime(tc.expr, after)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextCronTimeRejectsMalformed(t *testing.T) {
	for _, expr := range []string{"", "* * *", "x * * * *", "1-5 * * * *"} {
		_, err := nextCronTime(expr, time.Now())
		assert.Error(t, err, expr)
	}
}
