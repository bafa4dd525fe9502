package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate rejects invalid configuration at write time so the push core
// never observes out-of-range values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		return err
	}

	p := &cfg.Push
	if d, err := ParseDurationField("push.poll_interval", p.PollInterval); err != nil {
		return err
	} else if p.PollInterval != "" && d < time.Minute {
		return fmt.Errorf("push.poll_interval: must be at least 1m, got %q", p.PollInterval)
	}
	if p.DefaultMaxItems != 0 && (p.DefaultMaxItems < 1 || p.DefaultMaxItems > 10) {
		return fmt.Errorf("push.default_max_items: must be in 1..10, got %d", p.DefaultMaxItems)
	}
	for _, field := range []struct{ path, raw string }{
		{"push.batch_interval", p.BatchInterval},
		{"push.fetch_timeout", p.FetchTimeout},
		{"push.delay_horizon", p.DelayHorizon},
		{"push.rate_limit.per", p.RateLimit.Per},
		{"push.retry.base", p.Retry.Base},
		{"push.retry.max_delay", p.Retry.MaxDelay},
		{"push.dedup.retention", p.Dedup.Retention},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	if p.RateLimit.MaxPushes < 0 {
		return fmt.Errorf("push.rate_limit.max_pushes: must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(p.RateLimit.Scope)) {
	case "", "subscription", "global":
	default:
		return fmt.Errorf("push.rate_limit.scope: must be \"subscription\" or \"global\", got %q", p.RateLimit.Scope)
	}
	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("push.timezone: unknown zone %q", p.Timezone)
		}
	}
	for _, w := range p.QuietHours {
		if _, err := ParseWindow(w); err != nil {
			return fmt.Errorf("push.quiet_hours: %w", err)
		}
	}
	if p.Dedup.MaxPerSubscription < 0 {
		return fmt.Errorf("push.dedup.max_per_subscription: must be >= 0")
	}
	return nil
}

// Window is a quiet-hours time range in minutes since local midnight.
// Start > End denotes wraparound through midnight.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window %q, expected HH:MM-HH:MM", s)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return Window{}, err
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return Window{}, err
	}
	if start == end {
		return Window{}, fmt.Errorf("invalid window %q: start equals end", s)
	}
	return Window{Start: start, End: end}, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
