package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseJSONC = `{
  // bot credentials
  "telegram": { "token": "123:abc", "admin_chat": "-1001" },
  "logging": { "level": "info", "console": true, "file": {"enabled": false, "path": ""}, "admin": {"enabled": false, "min_level": "warn", "rate_per_sec": 1} },
  "remote": {},
  "poll": {},
  "dispatch": {},
  "storage": { "driver": "file", "path": "./data/subs.json", },
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadJSONCAndPersistDefaultInterval(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", baseJSONC)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poll.IntervalSeconds != nil {
		t.Fatalf("expected interval to be absent before defaults")
	}
	if got := cfg.Interval(); got != DefaultIntervalSeconds {
		t.Fatalf("Interval() = %d, want %d", got, DefaultIntervalSeconds)
	}

	changed, err := m.EnsureDefaults()
	if err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	if !changed {
		t.Fatalf("expected EnsureDefaults to rewrite the file")
	}

	reread, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if reread.Poll.IntervalSeconds == nil || *reread.Poll.IntervalSeconds != DefaultIntervalSeconds {
		t.Fatalf("interval not persisted: %+v", reread.Poll)
	}
	if reread.Telegram.Token != "123:abc" {
		t.Fatalf("rewrite lost fields: %+v", reread.Telegram)
	}
	if b, _ := os.ReadFile(path); !strings.Contains(string(b), "// bot credentials") {
		t.Fatalf("rewrite dropped comments:\n%s", b)
	}

	changed, err = m.EnsureDefaults()
	if err != nil || changed {
		t.Fatalf("second EnsureDefaults should be a no-op, changed=%v err=%v", changed, err)
	}
}

func TestLoadYAML(t *testing.T) {
	body := `
telegram:
  token: "t"
poll:
  interval_seconds: 45
storage:
  driver: sqlite
  path: ./x.db
`
	path := writeFile(t, t.TempDir(), "config.yaml", body)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Interval() != 45 {
		t.Fatalf("Interval() = %d, want 45", cfg.Interval())
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"x"},"bogus":1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestValidate(t *testing.T) {
	zero := 0
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, wantErr: "telegram.token"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: "storage.driver"},
		{name: "bad interval", mutate: func(c *Config) { c.Poll.IntervalSeconds = &zero }, wantErr: "interval_seconds"},
		{name: "bad duration", mutate: func(c *Config) { c.Remote.Timeout = "soon" }, wantErr: "remote.timeout"},
		{name: "bad admin chat", mutate: func(c *Config) { c.Telegram.AdminChat = "general" }, wantErr: "admin_chat"},
		{name: "bad cron", mutate: func(c *Config) { c.Report = ReportConfig{Enabled: true, Cron: "every day"} }, wantErr: "report.cron"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Telegram: TelegramConfig{Token: "x"},
				Storage:  StorageConfig{Driver: "sqlite", Path: "./db"},
			}
			tt.mutate(c)
			err := Validate(c)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestWatchPublishesChangedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"telegram":{"token":"x"},"poll":{"interval_seconds":10},"storage":{"driver":"file","path":"s"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"telegram":{"token":"x"},"poll":{"interval_seconds":20},"storage":{"driver":"file","path":"s"}}`)

	select {
	case cfg := <-sub:
		if cfg.Interval() != 20 {
			t.Fatalf("published interval = %d, want 20", cfg.Interval())
		}
	case <-ctx.Done():
		t.Fatalf("no config published")
	}
	if m.Get().Interval() != 20 {
		t.Fatalf("Get() not updated")
	}
}
