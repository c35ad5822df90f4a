package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, runAt, exitAt string) *Scheduler {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s, err := New(loc, runAt, exitAt, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadTimes(t *testing.T) {
	loc := time.UTC
	for _, bad := range []string{"", "10", "10:28:00", "25:00", "10:61", "ten:28"} {
		_, err := New(loc, bad, "17:00", zerolog.Nop())
		assert.Error(t, err, bad)
	}
}

func TestNextRunSameDay(t *testing.T) {
	s := newScheduler(t, "10:28", "17:00")
	// Wednesday 2024-09-18 09:00 ET
	now := time.Date(2024, 9, 18, 9, 0, 0, 0, s.loc)

	next := s.NextRun(now)
	assert.Equal(t, time.Date(2024, 9, 18, 10, 28, 0, 0, s.loc), next)
}

func TestNextRunRollsToNextDay(t *testing.T) {
	s := newScheduler(t, "10:28", "17:00")
	// Wednesday after the trigger has passed
	now := time.Date(2024, 9, 18, 10, 28, 0, 0, s.loc)

	next := s.NextRun(now)
	assert.Equal(t, time.Date(2024, 9, 19, 10, 28, 0, 0, s.loc), next)
}

func TestNextRunSkipsWeekend(t *testing.T) {
	s := newScheduler(t, "10:28", "17:00")
	// Friday 2024-09-20 16:00 ET
	now := time.Date(2024, 9, 20, 16, 0, 0, 0, s.loc)

	next := s.NextRun(now)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2024, 9, 23, 10, 28, 0, 0, s.loc), next)
}

func TestNextRunOnSaturday(t *testing.T) {
	s := newScheduler(t, "10:28", "17:00")
	now := time.Date(2024, 9, 21, 8, 0, 0, 0, s.loc) // Saturday

	next := s.NextRun(now)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestNextExit(t *testing.T) {
	s := newScheduler(t, "10:28", "17:00")
	now := time.Date(2024, 9, 18, 12, 0, 0, 0, s.loc)

	exit := s.NextExit(now)
	assert.Equal(t, time.Date(2024, 9, 18, 17, 0, 0, 0, s.loc), exit)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newScheduler(t, "10:28", "17:00")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context) { t.Error("task must not fire") })
	require.ErrorIs(t, err, context.Canceled)
}
