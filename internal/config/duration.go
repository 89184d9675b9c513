package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// durationField is one duration-valued config key, named by its dotted path
// so errors point at the offending line.
type durationField struct {
	path, raw string
}

func durationFields(cfg *Config) []durationField {
	return []durationField{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"remote.timeout", cfg.Remote.Timeout},
		{"poll.item_timeout", cfg.Poll.ItemTimeout},
		{"dispatch.send_interval", cfg.Dispatch.SendInterval},
		{"dispatch.retry_delay", cfg.Dispatch.RetryDelay},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
}

// ParseDurationField reads a duration written either as a Go duration
// ("1500ms", "2m") or as a bare number of seconds ("15", "0.5"), the same
// unit as poll.interval_seconds. Empty means unset and yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (want e.g. \"30s\" or a number of seconds)", path, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
