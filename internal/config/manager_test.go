package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleYAML = `
telegram:
  token: "123:abc"
storage:
  path: /tmp/feedpush-test.db
push:
  enabled: true
  poll_interval: 15m
  default_max_items: 5
  quiet_hours:
    - "23:00-07:00"
  rate_limit:
    max_pushes: 2
    per: 60s
`

func TestManagerLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.Push.Enabled || cfg.Push.PollInterval != "15m" || cfg.Push.DefaultMaxItems != 5 {
		t.Errorf("push config = %+v", cfg.Push)
	}
	if len(cfg.Push.QuietHours) != 1 || cfg.Push.QuietHours[0] != "23:00-07:00" {
		t.Errorf("quiet hours = %v", cfg.Push.QuietHours)
	}
	if cfg.Push.RateLimit.MaxPushes != 2 || cfg.Push.RateLimit.Per != "60s" {
		t.Errorf("rate limit = %+v", cfg.Push.RateLimit)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get should return the committed config")
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML+"\nmystery_knob: 7\n"))
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestManagerRunsValidator(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, `
telegram:
  token: "123:abc"
storage:
  path: ""
`))
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("validator should reject an empty storage path")
	}
}

func TestManagerLoadMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("missing file accepted")
	}
}
