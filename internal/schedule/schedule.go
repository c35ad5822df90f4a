// Package schedule drives the daily cadence: one strategy run at a fixed
// local wall-clock time on trading weekdays, and an unconditional hard
// exit later the same day. Instants are recomputed from the current date
// so DST transitions resolve through the configured zone.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrHardExit is returned by Run when the hard-exit instant arrives. The
// caller is expected to terminate the process; bracket children stay
// working at the broker.
var ErrHardExit = errors.New("schedule: hard exit time reached")

type clock struct {
	hour, minute int
}

func parseClock(s string) (clock, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return clock{}, fmt.Errorf("schedule: time %q must be HH:MM", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return clock{}, fmt.Errorf("schedule: time %q must be HH:MM", s)
	}
	return clock{hour: h, minute: m}, nil
}

// Scheduler fires a task daily on weekdays.
type Scheduler struct {
	loc    *time.Location
	runAt  clock
	exitAt clock
	logger zerolog.Logger
}

// New builds a scheduler from "HH:MM" trigger times in loc.
func New(loc *time.Location, runAt, exitAt string, logger zerolog.Logger) (*Scheduler, error) {
	r, err := parseClock(runAt)
	if err != nil {
		return nil, err
	}
	e, err := parseClock(exitAt)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		loc:    loc,
		runAt:  r,
		exitAt: e,
		logger: logger.With().Str("component", "schedule").Logger(),
	}, nil
}

// NextRun returns the first run instant strictly after now, skipping
// Saturdays and Sundays.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	return s.nextAfter(now, s.runAt)
}

// NextExit returns the first hard-exit instant strictly after now.
func (s *Scheduler) NextExit(now time.Time) time.Time {
	return s.nextAfter(now, s.exitAt)
}

func (s *Scheduler) nextAfter(now time.Time, c clock) time.Time {
	now = now.In(s.loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), c.hour, c.minute, 0, 0, s.loc)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// Run blocks, invoking task at each run instant, until the hard-exit
// instant (ErrHardExit) or context cancellation. A task in flight is
// never interrupted by the next trigger; only the hard exit or ctx ends
// it early.
func (s *Scheduler) Run(ctx context.Context, task func(context.Context)) error {
	exit := s.NextExit(time.Now())
	exitTimer := time.NewTimer(time.Until(exit))
	defer exitTimer.Stop()
	s.logger.Info().Time("exit_at", exit).Msg("hard exit scheduled")

	for {
		next := s.NextRun(time.Now())
		runTimer := time.NewTimer(time.Until(next))
		s.logger.Info().Time("run_at", next).Msg("next run scheduled")

		select {
		case <-ctx.Done():
			runTimer.Stop()
			return ctx.Err()
		case <-exitTimer.C:
			runTimer.Stop()
			return ErrHardExit
		case <-runTimer.C:
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			task(ctx)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		case <-exitTimer.C:
			return ErrHardExit
		}
	}
}
