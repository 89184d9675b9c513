package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"livewatch/internal/config"
	kit "livewatch/internal/transport"
	logx "livewatch/pkg/logx"
)

const defaultReportSpec = "@daily"

// reportFunc renders the statistics report (HTML).
type reportFunc func(ctx context.Context) (string, error)

// reporter posts the statistics report to the admin chat on a cron schedule.
// Apply may be called on every config reload.
type reporter struct {
	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	spec    string
	enabled bool

	render reportFunc
	sender logx.Sender
	target func() kit.ChatTarget
	log    logx.Logger
}

func newReporter(render reportFunc, sender logx.Sender, target func() kit.ChatTarget, log logx.Logger) *reporter {
	log = log.With(logx.String("comp", "report"))
	return &reporter{
		c: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithLocation(time.Local),
			cron.WithLogger(cronLogger{log}),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
		),
		render: render,
		sender: sender,
		target: target,
		log:    log,
	}
}

func (r *reporter) Start() { r.c.Start() }

// Stop halts the scheduler and waits for a running report, bounded by ctx.
func (r *reporter) Stop(ctx context.Context) error {
	select {
	case <-r.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *reporter) Apply(rc config.ReportConfig) {
	spec := strings.TrimSpace(rc.Cron)
	if spec == "" {
		spec = defaultReportSpec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rc.Enabled == r.enabled && spec == r.spec {
		return
	}
	if r.entry != 0 {
		r.c.Remove(r.entry)
		r.entry = 0
	}
	r.enabled, r.spec = rc.Enabled, spec
	if !rc.Enabled {
		r.log.Info("statistics report disabled")
		return
	}
	id, err := r.c.AddFunc(spec, r.run)
	if err != nil {
		r.log.Warn("invalid report schedule", logx.String("cron", spec), logx.Err(err))
		return
	}
	r.entry = id
	r.log.Info("statistics report scheduled", logx.String("cron", spec), logx.Time("next", r.c.Entry(id).Next))
}

func (r *reporter) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text, err := r.render(ctx)
	if err != nil {
		r.log.Warn("statistics report failed", logx.Err(err))
		return
	}
	to := r.target()
	if to.ChatID == 0 {
		r.log.Info("statistics report", logx.String("text", text))
		return
	}
	if _, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		r.log.Warn("statistics report send failed", logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
