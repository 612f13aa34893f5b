// Package cron parses the 5-field cron expressions that drive scheduled
// sync jobs.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Fields accepted: minute hour day-of-month month day-of-week.
var fieldSpec = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule computes firing times for a parsed expression.
type Schedule interface {
	// Next returns the first firing time strictly after the given instant.
	Next(after time.Time) time.Time
}

// Parse validates expr and returns its schedule. Firing times are
// evaluated in server-local time.
func Parse(expr string) (Schedule, error) {
	sched, err := fieldSpec.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return localSchedule{sched}, nil
}

type localSchedule struct {
	sched cron.Schedule
}

func (s localSchedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(time.Local))
}
