package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/weather-station/internal/civil"
)

// TimeOfDay is a local wall clock time
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// NextDailyRun returns the first instant strictly after now at which the
// local clock reads at
func NextDailyRun(clock civil.Clock, now time.Time, at TimeOfDay) time.Time {
	today := clock.Today(now)
	start, _ := clock.UTCRange(today)
	offset := time.Duration(at.Hour)*time.Hour + time.Duration(at.Minute)*time.Minute

	next := start.Add(offset)
	if !next.After(now) {
		start, _ = clock.UTCRange(today.AddDays(1))
		next = start.Add(offset)
	}
	return next
}

// ScheduleDaily runs fn every day at the local time at. The next run is
// armed only after fn returns, so runs never overlap.
func (s *Scheduler) ScheduleDaily(id string, clock civil.Clock, at TimeOfDay, now func() time.Time, fn func(ctx context.Context)) error {
	if now == nil {
		now = time.Now
	}
	var arm func() error
	arm = func() error {
		return s.Schedule(id, NextDailyRun(clock, now(), at), func(ctx context.Context) {
			fn(ctx)
			if ctx.Err() != nil {
				return
			}
			if err := arm(); err != nil {
				s.logger.Warn("failed to re-arm daily task", "task", id, "error", err)
			}
		})
	}
	return arm()
}
