package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Storage:  StorageConfig{Path: "/var/lib/feedpush/feedpush.db"},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	t.Parallel()
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing storage path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "storage.path",
		},
		{
			name:    "poll interval too short",
			mutate:  func(c *Config) { c.Push.PollInterval = "30s" },
			wantErr: "poll_interval",
		},
		{
			name:    "poll interval not a duration",
			mutate:  func(c *Config) { c.Push.PollInterval = "soon" },
			wantErr: "poll_interval",
		},
		{
			name:    "max items out of range",
			mutate:  func(c *Config) { c.Push.DefaultMaxItems = 11 },
			wantErr: "default_max_items",
		},
		{
			name:    "bad rate scope",
			mutate:  func(c *Config) { c.Push.RateLimit.Scope = "chat" },
			wantErr: "scope",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Push.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name:    "malformed quiet window",
			mutate:  func(c *Config) { c.Push.QuietHours = []string{"23:00"} },
			wantErr: "quiet_hours",
		},
		{
			name:    "quiet window bad minute",
			mutate:  func(c *Config) { c.Push.QuietHours = []string{"23:99-07:00"} },
			wantErr: "quiet_hours",
		},
		{
			name:    "negative max pushes",
			mutate:  func(c *Config) { c.Push.RateLimit.MaxPushes = -1 },
			wantErr: "max_pushes",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	t.Parallel()
	w, err := ParseWindow("23:00-07:30")
	if err != nil {
		t.Fatal(err)
	}
	if w.Start != 23*60 || w.End != 7*60+30 {
		t.Fatalf("window = %+v", w)
	}

	for _, bad := range []string{"", "23:00", "24:00-01:00", "23:00-23:00", "aa:bb-cc:dd"} {
		if _, err := ParseWindow(bad); err == nil {
			t.Errorf("ParseWindow(%q) accepted", bad)
		}
	}
}
