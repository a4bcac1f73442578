package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCronTime(t *testing.T) {
	// Mid-month reference point: 2025-06-15 12:30 UTC, a Sunday.
	after := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 6, 15, 12, 31, 0, 0, time.UTC)},
		{"0 * * * *", time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 6, 16, 3, 0, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)},
		{"0 0 * * 1", time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)}, // next Monday
		{"0,30 14 * * *", time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got, err := nextCronTime(c.expr, after)
		require.NoError(t, err, c.expr)
		assert.Equal(t, c.want, got, c.expr)
	}
}

func TestNextCronTimeSkipsCurrentMinute(t *testing.T) {
	after := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	got, err := nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC), got,
		"a trigger at exactly 'after' must not fire again immediately")
}

func TestParseCronRejectsMalformedExpressions(t *testing.T) {
	for _, expr := range []string{"", "0 3 1 *", "0 3 1 * * *", "x 3 1 * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, "%q", expr)
	}
}

func TestParseCronFieldLists(t *testing.T) {
	f, err := parseCronField("1,15")
	require.NoError(t, err)
	assert.True(t, f.matches(1))
	assert.True(t, f.matches(15))
	assert.False(t, f.matches(2))

	wild, err := parseCronField("*")
	require.NoError(t, err)
	assert.True(t, wild.matches(59))
}
