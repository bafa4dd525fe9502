package storage

import (
	"context"
	"time"

	"feedpush/internal/feed"
	"feedpush/internal/transport"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Subscription is one named feed with its own cadence, template and targets.
type Subscription struct {
	ID      string
	Name    string
	URL     string
	Enabled bool
	// MaxItems bounds entries pushed per cycle (1-10); 0 means the global
	// default applies.
	MaxItems int
	// Template overrides the global message template when non-empty.
	Template string
	// Schedule overrides the global poll interval: a Go duration ("5m") or
	// a 5-field cron spec. Empty means the global interval.
	Schedule  string
	Filters   feed.FilterRules
	Targets   []transport.ChatTarget
	CreatedAt time.Time
}

// Stats are cumulative per-subscription counters. Drops are split by reason
// so gate-induced losses are visible, never silent.
type Stats struct {
	SubscriptionID string
	FetchOK        int64
	FetchFail      int64
	Delivered      int64
	DeliveryFailed int64
	DroppedHorizon int64
	FilteredOut    int64
	LastError      string
	LastCheck      time.Time
	LastPush       time.Time
}

// StatsDelta is applied atomically to a subscription's counters.
type StatsDelta struct {
	FetchOK        int
	FetchFail      int
	Delivered      int
	DeliveryFailed int
	DroppedHorizon int
	FilteredOut    int
	LastError      string // empty means keep
	ClearError     bool
	LastCheck      time.Time // zero means keep
	LastPush       time.Time // zero means keep
}

// RetentionPolicy bounds dedup history per subscription.
type RetentionPolicy struct {
	MaxAge   time.Duration // 0 disables age pruning
	MaxCount int           // 0 disables count pruning
}

// Store is the persistence API used by the push engine.
type Store interface {
	UpsertSubscription(ctx context.Context, s Subscription) error
	// DeleteSubscription cascades targets, dedup history and stats.
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscription(ctx context.Context, id string) (Subscription, bool, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)

	AddTarget(ctx context.Context, subID string, t transport.ChatTarget) error
	RemoveTarget(ctx context.Context, subID string, t transport.ChatTarget) error

	// Seen reports which of the given identities already have a dedup
	// record for the subscription.
	Seen(ctx context.Context, subID string, identities []string) (map[string]bool, error)
	// RecordDelivered is idempotent; re-recording an identity is a no-op.
	RecordDelivered(ctx context.Context, subID, identity string, at time.Time) error
	// HasHistory reports whether the subscription has any dedup records
	// (false on the first-ever poll).
	HasHistory(ctx context.Context, subID string) (bool, error)
	// PruneDedup removes records beyond retention, oldest first.
	PruneDedup(ctx context.Context, subID string, policy RetentionPolicy) (int, error)

	BumpStats(ctx context.Context, subID string, d StatsDelta) error
	GetStats(ctx context.Context, subID string) (Stats, error)
	ListStats(ctx context.Context) ([]Stats, error)

	Close() error
}
