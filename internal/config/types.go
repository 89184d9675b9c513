package config

// Config is the on-disk configuration. Unknown fields are rejected.
//
// Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Remote   RemoteConfig   `json:"remote"`
	Poll     PollConfig     `json:"poll"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	Report   ReportConfig   `json:"report,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// AdminChat receives operational reports (errors, stats). Empty disables it.
	AdminChat   string `json:"admin_chat,omitempty"`
	AdminThread int    `json:"admin_thread,omitempty"`
	// MediaChat is where cover images are uploaded to obtain reusable file ids.
	MediaChat   string `json:"media_chat,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Admin   LoggingAdmin `json:"admin"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingAdmin struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemoteConfig controls the live-status client.
//
// Defaults (when omitted):
//   - live_base_url: https://api.live.bilibili.com
//   - timeout: 10s
//   - rate_per_sec: 2
//   - user_agents: built-in desktop browser pool
type RemoteConfig struct {
	LiveBaseURL string   `json:"live_base_url,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	RatePerSec  float64  `json:"rate_per_sec,omitempty"`
	UserAgents  []string `json:"user_agents,omitempty"`
}

// PollConfig controls the polling loop.
//
// IntervalSeconds is a pointer so a missing value can be told apart from an
// explicit one; a missing value is defaulted and written back to the file.
type PollConfig struct {
	IntervalSeconds *int   `json:"interval_seconds,omitempty"`
	ItemTimeout     string `json:"item_timeout,omitempty"`
}

// DispatchConfig controls notification delivery.
//
// Defaults (when omitted):
//   - send_interval: 1s (fixed pause between consecutive sends)
//   - send_attempts: 2
//   - upload_attempts: 3
//   - retry_delay: 1s
type DispatchConfig struct {
	SendInterval   string `json:"send_interval,omitempty"`
	SendAttempts   int    `json:"send_attempts,omitempty"`
	UploadAttempts int    `json:"upload_attempts,omitempty"`
	RetryDelay     string `json:"retry_delay,omitempty"`
}

// StorageConfig selects the subscription store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/livewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ReportConfig schedules a periodic client statistics report to the admin log.
type ReportConfig struct {
	Enabled bool   `json:"enabled"`
	Cron    string `json:"cron,omitempty"` // standard 5-field spec or descriptor, default "@daily"
}

const DefaultIntervalSeconds = 30

// Interval returns the configured inter-cycle delay in seconds, falling back to
// DefaultIntervalSeconds when unset or non-positive.
func (c *Config) Interval() int {
	if c == nil || c.Poll.IntervalSeconds == nil || *c.Poll.IntervalSeconds <= 0 {
		return DefaultIntervalSeconds
	}
	return *c.Poll.IntervalSeconds
}
