package app

import (
	"slices"
	"time"

	"livewatch/internal/config"
	"livewatch/internal/dispatch"
	"livewatch/internal/poll"
	"livewatch/internal/remote"
	"livewatch/internal/storage"
	kit "livewatch/internal/transport"
	logx "livewatch/pkg/logx"
)

// The mappers below assume a config that passed config.Validate, so parse
// errors fall back to defaults instead of being returned.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Admin: logx.AdminConfig{
			Enabled:    cfg.Logging.Admin.Enabled,
			MinLevel:   cfg.Logging.Admin.MinLevel,
			RatePerSec: cfg.Logging.Admin.RatePerSec,
		},
	}
}

func adminTarget(cfg *config.Config) kit.ChatTarget {
	id, _ := config.ParseChatID("telegram.admin_chat", cfg.Telegram.AdminChat)
	if id == 0 {
		return kit.ChatTarget{}
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.AdminThread}
}

func mediaChat(cfg *config.Config) int64 {
	id, _ := config.ParseChatID("telegram.media_chat", cfg.Telegram.MediaChat)
	return id
}

func duration(path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0),
	}
}

func mapRemoteOptions(cfg *config.Config, log logx.Logger) remote.Options {
	return remote.Options{
		BaseURL:    cfg.Remote.LiveBaseURL,
		Timeout:    duration("remote.timeout", cfg.Remote.Timeout, remote.DefaultTimeout),
		RatePerSec: cfg.Remote.RatePerSec,
		UserAgents: cfg.Remote.UserAgents,
		Logger:     log,
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		SendInterval:   duration("dispatch.send_interval", cfg.Dispatch.SendInterval, dispatch.DefaultSendInterval),
		SendAttempts:   cfg.Dispatch.SendAttempts,
		UploadAttempts: cfg.Dispatch.UploadAttempts,
		RetryDelay:     duration("dispatch.retry_delay", cfg.Dispatch.RetryDelay, dispatch.DefaultRetryDelay),
	}
}

func pollInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Interval()) * time.Second
}

func itemTimeout(cfg *config.Config) time.Duration {
	return duration("poll.item_timeout", cfg.Poll.ItemTimeout, poll.DefaultItemTimeout)
}

// restartOnly lists changed sections that only take effect after a restart.
func restartOnly(prev, next *config.Config) []string {
	var out []string
	if prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		out = append(out, "telegram.token/poll_timeout")
	}
	if prev.Storage != next.Storage {
		out = append(out, "storage")
	}
	if prev.Remote.LiveBaseURL != next.Remote.LiveBaseURL ||
		prev.Remote.Timeout != next.Remote.Timeout ||
		prev.Remote.RatePerSec != next.Remote.RatePerSec ||
		!slices.Equal(prev.Remote.UserAgents, next.Remote.UserAgents) {
		out = append(out, "remote")
	}
	return out
}
