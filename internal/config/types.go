package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Server   ServerConfig   `json:"server,omitempty"`
	Push     PushConfig     `json:"push"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// RatePerSec caps outgoing sends across all subscriptions to stay under
	// platform flood limits. 0 means the adapter default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// SendTimeout is a Go duration string (e.g. "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer backing subscriptions,
// dedup records and stats.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ServerConfig controls the optional read-only status HTTP server.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8175"
}

// PushConfig is the global push configuration. It is hot-reloadable: the
// push service converts it into an immutable snapshot that in-flight poll
// cycles keep until they finish.
//
// All durations are Go duration strings (e.g. "30s", "5m", "1h").
type PushConfig struct {
	Enabled bool `json:"enabled"`

	// PollInterval is the default polling cadence for subscriptions without
	// a schedule override.
	PollInterval string `json:"poll_interval,omitempty"` // default: "30m"

	// DefaultMaxItems bounds entries pushed per cycle for subscriptions that
	// don't set their own limit. Valid range 1-10.
	DefaultMaxItems int `json:"default_max_items,omitempty"` // default: 3

	// BatchInterval is the spacing between consecutive messages sent to the
	// same target within one batch.
	BatchInterval string `json:"batch_interval,omitempty"` // default: "3s"

	// FetchTimeout bounds a single feed fetch.
	FetchTimeout string `json:"fetch_timeout,omitempty"` // default: "30s"

	RSSHub RSSHubConfig `json:"rsshub,omitempty"`

	// QuietHours lists local-time windows during which pushes are postponed,
	// as "HH:MM-HH:MM". A window with start > end wraps through midnight.
	QuietHours []string `json:"quiet_hours,omitempty"`
	// Timezone is the IANA zone quiet hours are evaluated in (default: local).
	Timezone string `json:"timezone,omitempty"`

	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`

	// DelayHorizon is the maximum total postponement for a gated batch before
	// it is dropped (and counted in stats).
	DelayHorizon string `json:"delay_horizon,omitempty"` // default: "12h"

	Retry RetryConfig `json:"retry,omitempty"`
	Dedup DedupConfig `json:"dedup,omitempty"`
}

type RSSHubConfig struct {
	// DefaultInstance expands "/route" style subscription URLs into full
	// RSSHub URLs, e.g. "/bilibili/user/video/2".
	DefaultInstance string `json:"default_instance,omitempty"` // default: "https://rsshub.app"
}

// RateLimitConfig caps successful pushes over a sliding window.
type RateLimitConfig struct {
	// MaxPushes per Per window; 0 disables rate limiting.
	MaxPushes int    `json:"max_pushes,omitempty"`
	Per       string `json:"per,omitempty"` // default: "60s"
	// Scope is "subscription" (default) or "global".
	Scope string `json:"scope,omitempty"`
}

type RetryConfig struct {
	Max      int    `json:"max,omitempty"`       // default: 3
	Base     string `json:"base,omitempty"`      // default: "500ms"
	MaxDelay string `json:"max_delay,omitempty"` // default: "15s"
}

type DedupConfig struct {
	// Retention is how long delivered identities are kept.
	Retention string `json:"retention,omitempty"` // default: "168h"
	// MaxPerSubscription caps records per subscription; oldest pruned first.
	MaxPerSubscription int `json:"max_per_subscription,omitempty"` // default: 1000
}
