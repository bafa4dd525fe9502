package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"feedpush/internal/feed"
	"feedpush/internal/transport"
	logx "feedpush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Subscriptions ----

func (s *sqliteStore) UpsertSubscription(ctx context.Context, sub Subscription) error {
	if sub.ID == "" {
		return errors.New("subscription id is empty")
	}
	filters := ""
	if !sub.Filters.Empty() {
		b, err := json.Marshal(sub.Filters)
		if err != nil {
			return fmt.Errorf("marshal filters: %w", err)
		}
		filters = string(b)
	}
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions(id, name, url, enabled, max_items, template, schedule, filters, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, url=excluded.url, enabled=excluded.enabled,
		   max_items=excluded.max_items, template=excluded.template,
		   schedule=excluded.schedule, filters=excluded.filters`,
		sub.ID, sub.Name, sub.URL, sub.Enabled, sub.MaxItems,
		sub.Template, sub.Schedule, filters, createdAt.UnixMilli(),
	)
	if err != nil {
		return err
	}

	// Targets are replaced wholesale so the row set always mirrors the
	// Subscription value being written.
	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE subscription_id = ?`, sub.ID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, t := range sub.Targets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO targets(subscription_id, chat_id, thread_id, added_at) VALUES(?,?,?,?)`,
			sub.ID, t.ChatID, t.ThreadID, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM targets WHERE subscription_id = ?`,
		`DELETE FROM dedup WHERE subscription_id = ?`,
		`DELETE FROM stats WHERE subscription_id = ?`,
		`DELETE FROM subscriptions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetSubscription(ctx context.Context, id string) (Subscription, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, enabled, max_items, template, schedule, filters, created_at
		 FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, err
	}
	if err := s.loadTargets(ctx, &sub); err != nil {
		return Subscription{}, false, err
	}
	return sub, true, nil
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, enabled, max_items, template, schedule, filters, created_at
		 FROM subscriptions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range subs {
		if err := s.loadTargets(ctx, &subs[i]); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var (
		sub       Subscription
		filters   string
		createdAt int64
	)
	err := r.Scan(&sub.ID, &sub.Name, &sub.URL, &sub.Enabled, &sub.MaxItems,
		&sub.Template, &sub.Schedule, &filters, &createdAt)
	if err != nil {
		return Subscription{}, err
	}
	if filters != "" {
		var rules feed.FilterRules
		if err := json.Unmarshal([]byte(filters), &rules); err == nil {
			sub.Filters = rules
		}
	}
	sub.CreatedAt = time.UnixMilli(createdAt)
	return sub, nil
}

func (s *sqliteStore) loadTargets(ctx context.Context, sub *Subscription) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, thread_id FROM targets WHERE subscription_id = ? ORDER BY added_at`, sub.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t transport.ChatTarget
		if err := rows.Scan(&t.ChatID, &t.ThreadID); err != nil {
			return err
		}
		sub.Targets = append(sub.Targets, t)
	}
	return rows.Err()
}

func (s *sqliteStore) AddTarget(ctx context.Context, subID string, t transport.ChatTarget) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets(subscription_id, chat_id, thread_id, added_at) VALUES(?,?,?,?)
		 ON CONFLICT(subscription_id, chat_id, thread_id) DO NOTHING`,
		subID, t.ChatID, t.ThreadID, time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) RemoveTarget(ctx context.Context, subID string, t transport.ChatTarget) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM targets WHERE subscription_id = ? AND chat_id = ? AND thread_id = ?`,
		subID, t.ChatID, t.ThreadID)
	return err
}

// ---- Dedup ----

func (s *sqliteStore) Seen(ctx context.Context, subID string, identities []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(identities))
	if len(identities) == 0 {
		return seen, nil
	}
	placeholders := strings.Repeat(",?", len(identities))[1:]
	args := make([]any, 0, len(identities)+1)
	args = append(args, subID)
	for _, id := range identities {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity FROM dedup WHERE subscription_id = ? AND identity IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

func (s *sqliteStore) RecordDelivered(ctx context.Context, subID, identity string, at time.Time) error {
	if identity == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(subscription_id, identity, delivered_at) VALUES(?,?,?)
		 ON CONFLICT(subscription_id, identity) DO NOTHING`,
		subID, identity, at.UnixMilli())
	return err
}

func (s *sqliteStore) HasHistory(ctx context.Context, subID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dedup WHERE subscription_id = ? LIMIT 1`, subID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) PruneDedup(ctx context.Context, subID string, policy RetentionPolicy) (int, error) {
	removed := 0
	if policy.MaxAge > 0 {
		cutoff := time.Now().Add(-policy.MaxAge).UnixMilli()
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM dedup WHERE subscription_id = ? AND delivered_at < ?`, subID, cutoff)
		if err != nil {
			return removed, err
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	if policy.MaxCount > 0 {
		var count int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM dedup WHERE subscription_id = ?`, subID).Scan(&count); err != nil {
			return removed, err
		}
		if overflow := count - policy.MaxCount; overflow > 0 {
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM dedup WHERE subscription_id = ? AND identity IN (
				   SELECT identity FROM dedup WHERE subscription_id = ?
				   ORDER BY delivered_at ASC LIMIT ?)`,
				subID, subID, overflow)
			if err != nil {
				return removed, err
			}
			if n, err := res.RowsAffected(); err == nil {
				removed += int(n)
			}
		}
	}
	return removed, nil
}

// ---- Stats ----

func (s *sqliteStore) BumpStats(ctx context.Context, subID string, d StatsDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stats(subscription_id) VALUES(?) ON CONFLICT(subscription_id) DO NOTHING`,
		subID); err != nil {
		return err
	}

	sets := []string{
		"fetch_ok = fetch_ok + ?",
		"fetch_fail = fetch_fail + ?",
		"delivered = delivered + ?",
		"delivery_failed = delivery_failed + ?",
		"dropped_horizon = dropped_horizon + ?",
		"filtered_out = filtered_out + ?",
	}
	args := []any{d.FetchOK, d.FetchFail, d.Delivered, d.DeliveryFailed, d.DroppedHorizon, d.FilteredOut}

	if d.ClearError {
		sets = append(sets, "last_error = ''")
	} else if d.LastError != "" {
		sets = append(sets, "last_error = ?")
		args = append(args, d.LastError)
	}
	if !d.LastCheck.IsZero() {
		sets = append(sets, "last_check = ?")
		args = append(args, d.LastCheck.UnixMilli())
	}
	if !d.LastPush.IsZero() {
		sets = append(sets, "last_push = ?")
		args = append(args, d.LastPush.UnixMilli())
	}
	args = append(args, subID)

	if _, err := tx.ExecContext(ctx,
		`UPDATE stats SET `+strings.Join(sets, ", ")+` WHERE subscription_id = ?`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetStats(ctx context.Context, subID string) (Stats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subscription_id, fetch_ok, fetch_fail, delivered, delivery_failed,
		        dropped_horizon, filtered_out, last_error, last_check, last_push
		 FROM stats WHERE subscription_id = ?`, subID)
	st, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{SubscriptionID: subID}, nil
	}
	return st, err
}

func (s *sqliteStore) ListStats(ctx context.Context) ([]Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscription_id, fetch_ok, fetch_fail, delivered, delivery_failed,
		        dropped_horizon, filtered_out, last_error, last_check, last_push
		 FROM stats ORDER BY subscription_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanStats(r rowScanner) (Stats, error) {
	var (
		st                  Stats
		lastCheck, lastPush int64
	)
	err := r.Scan(&st.SubscriptionID, &st.FetchOK, &st.FetchFail, &st.Delivered,
		&st.DeliveryFailed, &st.DroppedHorizon, &st.FilteredOut, &st.LastError,
		&lastCheck, &lastPush)
	if err != nil {
		return Stats{}, err
	}
	if lastCheck > 0 {
		st.LastCheck = time.UnixMilli(lastCheck)
	}
	if lastPush > 0 {
		st.LastPush = time.UnixMilli(lastPush)
	}
	return st, nil
}
