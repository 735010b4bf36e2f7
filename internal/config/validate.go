package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvToken      = "CHOREBOT_TOKEN"
	EnvStorageDSN = "CHOREBOT_STORAGE_DSN"
)

// ApplyEnv overlays credentials from the environment. Non-empty variables win
// over the file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if c == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvStorageDSN)); v != "" {
		c.Storage.DSN = v
	}
}

// Validate reports every problem in one joined error.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	if c.Telegram.SendRatePerSec < 0 {
		add(errors.New("telegram.send_rate_per_sec must be >= 0"))
	}

	add(checkLevel("logging.level", c.Logging.Level))
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when logging.file.enabled"))
	}
	if c.Logging.Chat.Enabled {
		if c.Logging.Chat.ChatID == 0 {
			add(errors.New("logging.chat.chat_id is required when logging.chat.enabled"))
		}
		add(checkLevel("logging.chat.min_level", c.Logging.Chat.MinLevel))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add(errors.New("storage.path is required for sqlite"))
		}
	case "mysql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required for mysql (or set %s)", EnvStorageDSN))
		}
	default:
		add(fmt.Errorf("unknown storage.driver: %s", c.Storage.Driver))
	}

	if _, err := c.Scheduler.Location(); err != nil {
		add(err)
	}
	if c.TaskEngine.Workers < 0 || c.TaskEngine.QueueSize < 0 {
		add(errors.New("task_engine.workers and task_engine.queue_size must be >= 0"))
	}

	for path, raw := range c.durationFields() {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	for _, id := range c.Chores.PeerUserIDs {
		if id <= 0 {
			add(fmt.Errorf("chores.peer_user_ids: invalid user id %d", id))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) durationFields() map[string]string {
	return map[string]string{
		"telegram.poll_timeout":       c.Telegram.PollTimeout,
		"telegram.admins_cache_ttl":   c.Telegram.AdminsCacheTTL,
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"scheduler.sweep_interval":    c.Scheduler.SweepInterval,
		"scheduler.fire_timeout":      c.Scheduler.FireTimeout,
		"task_engine.default_timeout": c.TaskEngine.DefaultTimeout,
		"router.command_timeout":      c.Router.CommandTimeout,
		"chores.postpone_delay":       c.Chores.PostponeDelay,
		"chores.retry_delay":          c.Chores.RetryDelay,
		"chores.pause_default":        c.Chores.PauseDefault,
		"chores.pause_min":            c.Chores.PauseMin,
		"ops.read_timeout":            c.Ops.ReadTimeout,
		"ops.idle_timeout":            c.Ops.IdleTimeout,
	}
}

func checkLevel(path, lvl string) error {
	if strings.TrimSpace(lvl) == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(lvl))); err != nil {
		return fmt.Errorf("%s: unknown level %q", path, lvl)
	}
	return nil
}

// Location resolves the scheduler timezone. Empty means time.Local.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
