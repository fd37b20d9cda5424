package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/harvest-scheduler/internal/domain"
)

// NextRun returns the first event of schedule strictly after now. Events
// that fell in the past while the scheduler was busy or down are skipped.
// Schedules use the standard 5-field format or a descriptor such as
// "@daily" or "@every 6h".
func NextRun(schedule string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q has no future event", schedule)
	}
	return next, nil
}

// advance returns where a definition goes after a successful pass: snapshot
// harvests run once, focused harvests wait for their next event.
func advance(def *domain.HarvestDefinition, now time.Time) (*time.Time, bool, error) {
	if def.IsSnapshot() || def.Schedule == "" {
		return nil, false, nil
	}
	next, err := NextRun(def.Schedule, now)
	if err != nil {
		return nil, false, err
	}
	return &next, true, nil
}
