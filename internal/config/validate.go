package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// CronParser is the parser used for report.cron (5 fields or a descriptor).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a parsed config. It is used both at startup and to reject a
// bad hot reload before it is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseChatID("telegram.admin_chat", cfg.Telegram.AdminChat); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseChatID("telegram.media_chat", cfg.Telegram.MediaChat); err != nil {
		errs = append(errs, err)
	}

	for _, d := range durationFields(cfg) {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if p := cfg.Poll.IntervalSeconds; p != nil && *p < 1 {
		errs = append(errs, fmt.Errorf("poll.interval_seconds must be >= 1, got %d", *p))
	}
	if cfg.Remote.RatePerSec < 0 {
		errs = append(errs, errors.New("remote.rate_per_sec must be >= 0"))
	}
	if cfg.Dispatch.SendAttempts < 0 || cfg.Dispatch.UploadAttempts < 0 {
		errs = append(errs, errors.New("dispatch attempts must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver: %q", cfg.Storage.Driver))
	}

	if cfg.Report.Enabled && strings.TrimSpace(cfg.Report.Cron) != "" {
		if _, err := CronParser.Parse(cfg.Report.Cron); err != nil {
			errs = append(errs, fmt.Errorf("report.cron: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ParseChatID parses an optional chat id. Empty means "not configured" (0).
func ParseChatID(path, raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid chat id %q", path, raw)
	}
	return id, nil
}
