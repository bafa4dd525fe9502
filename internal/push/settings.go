package push

import (
	"strings"
	"time"

	"feedpush/internal/config"
	"feedpush/internal/storage"
)

// Settings is an immutable snapshot of the global push configuration.
// The service swaps the active snapshot atomically on reload; a poll cycle
// keeps the snapshot it started with, so a mid-cycle reload can never be
// observed half-applied.
type Settings struct {
	Enabled         bool
	PollInterval    time.Duration
	DefaultMaxItems int
	BatchInterval   time.Duration
	FetchTimeout    time.Duration
	RSSHubInstance  string

	QuietWindows []config.Window
	Location     *time.Location

	RateMax    int
	RatePer    time.Duration
	RateGlobal bool

	DelayHorizon time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	Retention storage.RetentionPolicy
}

// SettingsFromConfig resolves the raw config into a snapshot. The config is
// assumed to have passed config.Validate; parse errors here still fail
// loudly rather than half-applying.
func SettingsFromConfig(pc config.PushConfig) (*Settings, error) {
	s := &Settings{Enabled: pc.Enabled}

	var err error
	if s.PollInterval, err = config.ParseDurationOrDefault("push.poll_interval", pc.PollInterval, 30*time.Minute); err != nil {
		return nil, err
	}
	if s.BatchInterval, err = config.ParseDurationOrDefault("push.batch_interval", pc.BatchInterval, 3*time.Second); err != nil {
		return nil, err
	}
	if s.FetchTimeout, err = config.ParseDurationOrDefault("push.fetch_timeout", pc.FetchTimeout, 30*time.Second); err != nil {
		return nil, err
	}
	if s.DelayHorizon, err = config.ParseDurationOrDefault("push.delay_horizon", pc.DelayHorizon, 12*time.Hour); err != nil {
		return nil, err
	}
	if s.RatePer, err = config.ParseDurationOrDefault("push.rate_limit.per", pc.RateLimit.Per, 60*time.Second); err != nil {
		return nil, err
	}
	if s.RetryBase, err = config.ParseDurationOrDefault("push.retry.base", pc.Retry.Base, 500*time.Millisecond); err != nil {
		return nil, err
	}
	if s.RetryMaxDelay, err = config.ParseDurationOrDefault("push.retry.max_delay", pc.Retry.MaxDelay, 15*time.Second); err != nil {
		return nil, err
	}
	retention, err := config.ParseDurationOrDefault("push.dedup.retention", pc.Dedup.Retention, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	s.Retention = storage.RetentionPolicy{MaxAge: retention, MaxCount: pc.Dedup.MaxPerSubscription}
	if s.Retention.MaxCount <= 0 {
		s.Retention.MaxCount = 1000
	}

	s.DefaultMaxItems = pc.DefaultMaxItems
	if s.DefaultMaxItems <= 0 {
		s.DefaultMaxItems = 3
	}

	s.RSSHubInstance = strings.TrimRight(strings.TrimSpace(pc.RSSHub.DefaultInstance), "/")
	if s.RSSHubInstance == "" {
		s.RSSHubInstance = "https://rsshub.app"
	}

	s.RateMax = pc.RateLimit.MaxPushes
	s.RateGlobal = strings.EqualFold(strings.TrimSpace(pc.RateLimit.Scope), "global")

	s.RetryMax = pc.Retry.Max
	if s.RetryMax <= 0 {
		s.RetryMax = 3
	}

	s.Location = time.Local
	if tz := strings.TrimSpace(pc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		s.Location = loc
	}
	for _, raw := range pc.QuietHours {
		w, err := config.ParseWindow(raw)
		if err != nil {
			return nil, err
		}
		s.QuietWindows = append(s.QuietWindows, w)
	}
	return s, nil
}
