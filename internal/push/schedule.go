package push

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a subscription's resolved polling cadence: either a fixed
// interval or a cron spec.
type Schedule struct {
	Every time.Duration
	Cron  cron.Schedule
}

// Next returns the next fire time after now.
func (s Schedule) Next(now time.Time) time.Time {
	if s.Cron != nil {
		return s.Cron.Next(now)
	}
	return now.Add(s.Every)
}

// ParseSchedule accepts a Go duration ("5m", "1h30m") or a standard 5-field
// cron spec ("*/10 * * * *", "@hourly"). Empty input is an error; callers
// fall back to the global poll interval instead.
func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, fmt.Errorf("empty schedule")
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < time.Minute {
			return Schedule{}, fmt.Errorf("schedule %q: interval must be at least 1m", raw)
		}
		return Schedule{Every: d}, nil
	}
	sched, err := cron.ParseStandard(raw)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %q: not a duration or cron spec: %w", raw, err)
	}
	return Schedule{Cron: sched}, nil
}
