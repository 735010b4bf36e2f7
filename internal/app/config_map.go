package app

import (
	"strings"
	"time"

	"chorebot/internal/chore"
	"chorebot/internal/config"
	"chorebot/internal/observability/ops"
	"chorebot/internal/router"
	"chorebot/internal/storage"
	"chorebot/internal/task/engine"
	"chorebot/internal/task/scheduler"
	telegram "chorebot/internal/transport/telegram/adapter"
	logx "chorebot/pkg/logx"
)

// runtimeConfig is a Config with every duration resolved.
type runtimeConfig struct {
	telegram  telegram.Config
	logging   logx.Config
	storage   storage.Config
	scheduler scheduler.Config
	engine    engine.Config
	router    router.Config
	chores    chore.Config
	ops       ops.Config
	location  *time.Location
	sweep     time.Duration
}

const defaultSweep = 5 * time.Minute

func resolve(cfg *config.Config) (runtimeConfig, error) {
	var (
		rc  runtimeConfig
		err error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		if err != nil {
			return 0
		}
		var d time.Duration
		d, err = config.ParseDurationOrDefault(path, raw, def)
		return d
	}

	rc.telegram = telegram.Config{
		Token:          strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout:    dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
		SendBurst:      cfg.Telegram.SendBurst,
		PeerRole:       cfg.Chores.PeerRole,
		PeerUserIDs:    cfg.Chores.PeerUserIDs,
		AdminsArePeers: cfg.Chores.AdminsArePeers,
		AdminsCacheTTL: dur("telegram.admins_cache_ttl", cfg.Telegram.AdminsCacheTTL, 10*time.Minute),
	}
	rc.logging = mapLogging(cfg.Logging)

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	rc.storage = storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: dur("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second),
	}

	rc.scheduler = scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		FireTimeout: dur("scheduler.fire_timeout", cfg.Scheduler.FireTimeout, 0),
	}
	rc.sweep = defaultSweep
	if s := strings.TrimSpace(cfg.Scheduler.SweepInterval); s != "" {
		// An explicit "0s" turns the sweep off.
		rc.sweep = dur("scheduler.sweep_interval", s, 0)
	}

	rc.engine = engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: dur("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout, 0),
		HistorySize:    cfg.TaskEngine.HistorySize,
		RetryMax:       cfg.TaskEngine.RetryMax,
	}
	rc.router = router.Config{
		Workers:        cfg.Router.Workers,
		QueueSize:      cfg.Router.QueueSize,
		CommandTimeout: dur("router.command_timeout", cfg.Router.CommandTimeout, 30*time.Second),
	}
	rc.chores = mapChores(cfg.Chores, dur)
	rc.ops = ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		ReadTimeout:   dur("ops.read_timeout", cfg.Ops.ReadTimeout, 5*time.Second),
		IdleTimeout:   dur("ops.idle_timeout", cfg.Ops.IdleTimeout, 2*time.Minute),
	}
	if rc.ops.Addr == "" {
		rc.ops.Addr = "127.0.0.1:6060"
	}
	if err != nil {
		return runtimeConfig{}, err
	}
	if err = ops.Validate(rc.ops); err != nil {
		return runtimeConfig{}, err
	}

	rc.location, err = cfg.Scheduler.Location()
	if err != nil {
		return runtimeConfig{}, err
	}
	return rc, nil
}

func mapLogging(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

// Zero durations fall back to the engine defaults.
func mapChores(c config.ChoresConfig, dur func(path, raw string, def time.Duration) time.Duration) chore.Config {
	return chore.Config{
		PeerRole:        c.PeerRole,
		PeerMention:     strings.TrimSpace(c.PeerMention),
		PeerUserIDs:     c.PeerUserIDs,
		AllowSelfVerify: c.AllowSelfVerify,
		PostponeDelay:   dur("chores.postpone_delay", c.PostponeDelay, 0),
		RetryDelay:      dur("chores.retry_delay", c.RetryDelay, 0),
		PauseDefault:    dur("chores.pause_default", c.PauseDefault, 0),
		PauseMin:        dur("chores.pause_min", c.PauseMin, 0),
	}
}
