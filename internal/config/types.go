package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m") and are resolved where they are used.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Router     RouterConfig     `json:"router,omitempty"`
	Chores     ChoresConfig     `json:"chores"`
	Ops        OpsConfig        `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty when CHOREBOT_TOKEN is set.
	Token          string  `json:"token"`
	PollTimeout    string  `json:"poll_timeout,omitempty"`
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
	AdminsCacheTTL string  `json:"admins_cache_ttl,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warnings and errors into an operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./chorebot.db" }
//	"storage": { "driver": "mysql", "dsn": "user:pass@tcp(db:3306)/chores" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // mysql; may come from CHOREBOT_STORAGE_DSN
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name used for schedule computation and display.
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
	// SweepInterval is how often overdue reminders are rehydrated.
	// "0s" disables the sweep.
	SweepInterval string `json:"sweep_interval,omitempty"`
	FireTimeout   string `json:"fire_timeout,omitempty"`
}

// TaskEngineConfig controls the keyed executor jobs and chat work run on.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

type RouterConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// ChoresConfig holds the reminder lifecycle settings. These apply live on
// reload.
type ChoresConfig struct {
	PeerRole        string  `json:"peer_role,omitempty"`
	PeerUserIDs     []int64 `json:"peer_user_ids,omitempty"`
	AdminsArePeers  bool    `json:"admins_are_peers,omitempty"`
	PeerMention     string  `json:"peer_mention,omitempty"`
	PostponeDelay   string  `json:"postpone_delay,omitempty"`
	RetryDelay      string  `json:"retry_delay,omitempty"`
	PauseDefault    string  `json:"pause_default,omitempty"`
	PauseMin        string  `json:"pause_min,omitempty"`
	AllowSelfVerify bool    `json:"allow_self_verify,omitempty"`
}

// OpsConfig controls the operator HTTP endpoints (/healthz, /status, pprof).
//
// Prefer a loopback addr. A non-loopback addr needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
