package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"feedpush/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	validatorTimeout = 5 * time.Second
	watchRetryBase   = 250 * time.Millisecond
	watchRetryCeil   = 5 * time.Second
)

// Validator checks a parsed config before it is committed. Load and
// reloads both run it; a non-nil error keeps the previous config live.
type Validator func(ctx context.Context, cfg *Config) error

// Manager owns the config file: it parses and validates it, keeps the
// last good copy, and re-reads the file when it changes on disk.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	subMu sync.Mutex
	subs  map[chan *Config]struct{}

	log       logx.Logger
	validator Validator
}

func NewManager(path string) *Manager {
	return &Manager{
		path: path,
		subs: make(map[chan *Config]struct{}),
		log:  logx.Nop(),
		validator: func(_ context.Context, cfg *Config) error {
			return Validate(cfg)
		},
	}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator replaces the default Validate check. Pass nil to accept
// any syntactically valid config.
func (m *Manager) SetValidator(v Validator) { m.validator = v }

// Parse reads and decodes the file without committing the result.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	jsonBytes, err := toStrictJSON(m.path, raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode config: trailing data after document")
	}
	return cfg, nil
}

// Load parses, validates, and commits the config. Call once at startup;
// Watch handles subsequent changes.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if m.validator != nil {
		if err := m.validator(ctx, cfg); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the last committed config, or nil before the first Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// Subscribe registers a channel that receives every newly committed
// config. Slow readers lose the oldest update, never the newest.
func (m *Manager) Subscribe(buffer int) <-chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for sub := range m.subs {
		if sub == ch {
			delete(m.subs, sub)
			close(sub)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for sub := range m.subs {
		select {
		case sub <- cfg:
			continue
		default:
		}
		// Buffer full: evict the stale update so the latest one lands.
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- cfg:
		default:
		}
	}
}

// Watch re-reads the config whenever the file changes, until ctx is
// cancelled. Editors that replace the file (rename + create) are
// handled by watching the parent directory. A broken watcher is
// re-created with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	retries := 0
	for {
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retries++
		wait := watchRetryBase << uint(retries-1)
		if wait > watchRetryCeil || wait <= 0 {
			wait = watchRetryCeil
		}
		wait += time.Duration(rand.Int63n(int64(watchRetryBase)))
		m.log.Warn("config watcher restarting",
			logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(m.path)

	// The debounce timer starts stopped; each relevant event re-arms it
	// so a burst of writes triggers a single reload.
	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watch events channel closed")
			}
			if ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) &&
				filepath.Base(ev.Name) == base {
				debounce.Reset(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watch errors channel closed")
			}
			if err == fsnotify.ErrEventOverflow {
				// Events were dropped; the file may have changed unseen.
				debounce.Reset(reloadDebounce)
				continue
			}
			return fmt.Errorf("watch: %w", err)

		case <-debounce.C:
			m.reload(ctx)
		}
	}
}

// reload parses the file and, when its content actually changed and
// validates, commits and publishes the new config. Any failure keeps
// the previous config in place.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload skipped", logx.Err(err))
		return
	}

	next := hashConfig(cfg)
	m.mu.RLock()
	same := next == m.lastHash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged, reload suppressed")
		return
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validatorTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("reloaded config rejected, keeping previous",
				logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}
