package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"livewatch/internal/config"
	"livewatch/internal/dispatch"
	"livewatch/internal/poll"
	kit "livewatch/internal/transport"
	logx "livewatch/pkg/logx"
)

func baseConfig() *config.Config {
	interval := 45
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "1:x", AdminChat: "-1001", AdminThread: 9, MediaChat: "-1002"},
		Poll:     config.PollConfig{IntervalSeconds: &interval, ItemTimeout: "30s"},
		Dispatch: config.DispatchConfig{SendInterval: "2s", SendAttempts: 4},
		Storage:  config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"},
	}
}

func TestMappers(t *testing.T) {
	cfg := baseConfig()

	if got := adminTarget(cfg); got != (kit.ChatTarget{ChatID: -1001, ThreadID: 9}) {
		t.Fatalf("adminTarget = %+v", got)
	}
	if got := mediaChat(cfg); got != -1002 {
		t.Fatalf("mediaChat = %d", got)
	}
	if got := pollInterval(cfg); got != 45*time.Second {
		t.Fatalf("pollInterval = %v", got)
	}
	if got := itemTimeout(cfg); got != 30*time.Second {
		t.Fatalf("itemTimeout = %v", got)
	}
	if got := mapStorageConfig(cfg); got.BusyTimeout != 3*time.Second || got.Driver != "sqlite" {
		t.Fatalf("storage = %+v", got)
	}

	dc := mapDispatchConfig(cfg)
	if dc.SendInterval != 2*time.Second || dc.SendAttempts != 4 || dc.RetryDelay != dispatch.DefaultRetryDelay {
		t.Fatalf("dispatch = %+v", dc)
	}

	empty := &config.Config{}
	if got := adminTarget(empty); got.ChatID != 0 {
		t.Fatalf("empty admin target = %+v", got)
	}
	if got := itemTimeout(empty); got != poll.DefaultItemTimeout {
		t.Fatalf("default item timeout = %v", got)
	}
	if got := pollInterval(empty); got != config.DefaultIntervalSeconds*time.Second {
		t.Fatalf("default interval = %v", got)
	}
}

func TestRestartOnly(t *testing.T) {
	prev := baseConfig()
	next := baseConfig()
	if got := restartOnly(prev, next); len(got) != 0 {
		t.Fatalf("identical configs reported %v", got)
	}
	next.Storage.Path = "y.db"
	next.Remote.UserAgents = []string{"ua"}
	next.Dispatch.SendAttempts = 1
	got := strings.Join(restartOnly(prev, next), ",")
	if got != "storage,remote" {
		t.Fatalf("restartOnly = %q", got)
	}
}

type recordSender struct {
	mu   sync.Mutex
	sent []kit.ChatTarget
	text []string
}

func (r *recordSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to)
	r.text = append(r.text, text)
	return kit.MessageRef{}, nil
}

func TestReporterRunSendsToAdmin(t *testing.T) {
	rs := &recordSender{}
	target := kit.ChatTarget{ChatID: -5, ThreadID: 2}
	r := newReporter(func(context.Context) (string, error) { return "stats", nil }, rs,
		func() kit.ChatTarget { return target }, logx.Nop())

	r.run()
	if len(rs.sent) != 1 || rs.sent[0] != target || rs.text[0] != "stats" {
		t.Fatalf("sent = %+v %q", rs.sent, rs.text)
	}

	target = kit.ChatTarget{}
	r.run()
	if len(rs.sent) != 1 {
		t.Fatalf("report without admin chat must only be logged")
	}
}

func TestReporterApply(t *testing.T) {
	r := newReporter(func(context.Context) (string, error) { return "", nil }, &recordSender{},
		func() kit.ChatTarget { return kit.ChatTarget{} }, logx.Nop())
	r.Start()
	defer func() { _ = r.Stop(context.Background()) }()

	r.Apply(config.ReportConfig{Enabled: true})
	if r.entry == 0 || r.spec != defaultReportSpec || len(r.c.Entries()) != 1 {
		t.Fatalf("enabled report not scheduled: entry=%d spec=%q", r.entry, r.spec)
	}

	r.Apply(config.ReportConfig{Enabled: true, Cron: "0 9 * * *"})
	if len(r.c.Entries()) != 1 || r.spec != "0 9 * * *" {
		t.Fatalf("reschedule left %d entries, spec %q", len(r.c.Entries()), r.spec)
	}

	r.Apply(config.ReportConfig{Enabled: false})
	if r.entry != 0 || len(r.c.Entries()) != 0 {
		t.Fatalf("disabled report still scheduled")
	}
}

func TestKVFields(t *testing.T) {
	if got := kvFields([]any{"a", 1, 2, "b", "dangling"}); len(got) != 1 {
		t.Fatalf("kvFields = %d fields, want 1", len(got))
	}
}
