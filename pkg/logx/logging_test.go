package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "livewatch/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (c *captureSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(c.sent)}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestFormatAdminLineSortsFields(t *testing.T) {
	got := formatAdminLine([]byte(`{"level":"error","message":"cycle failed","uid":"42","comp":"poll","time":"x"}`))
	want := "[ERROR] cycle failed\n- comp=poll\n- uid=42"
	if got != want {
		t.Fatalf("unexpected admin line:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatAdminLineNonJSON(t *testing.T) {
	if got := formatAdminLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestAdminSinkRespectsMinLevel(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Admin: AdminConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, sender)
	svc.SetAdminTarget(kit.ChatTarget{ChatID: -100, ThreadID: 7})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("ignored")
	log.Warn("remote failed", String("uid", "1"))

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// give a possible stray info line a chance to show up
	time.Sleep(50 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 admin message, got %d: %v", len(sender.sent), sender.sent)
	}
	if !strings.HasPrefix(sender.sent[0], "[WARN] remote failed") {
		t.Fatalf("unexpected admin message %q", sender.sent[0])
	}
	if sender.to[0] != (kit.ChatTarget{ChatID: -100, ThreadID: 7}) {
		t.Fatalf("unexpected admin target %+v", sender.to[0])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatalf("derived logger with fields should not be zero")
	}
}
