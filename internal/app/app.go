package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chorebot/internal/chore"
	"chorebot/internal/config"
	"chorebot/internal/eventbus"
	"chorebot/internal/observability/ops"
	"chorebot/internal/router"
	rtsup "chorebot/internal/runtime/supervisor"
	"chorebot/internal/storage"
	"chorebot/internal/task/engine"
	"chorebot/internal/task/scheduler"
	kit "chorebot/internal/transport"
	telegram "chorebot/internal/transport/telegram/adapter"
	logx "chorebot/pkg/logx"
)

const sweepInterval = "chores.sweep"

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	engine  *engine.Service
	sched   *scheduler.Service
	chores  *chore.Engine
	router  *router.Router
	ops     *ops.Server

	sweep   time.Duration
	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rc, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	// The chat sink gets its sender once the adapter exists.
	logSvc, log := logx.New(rc.logging, nil)
	appLog := log.With(logx.String("comp", "app"))

	ad, err := telegram.New(rc.telegram, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	store, err := storage.Open(rc.storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", rc.storage.Driver))

	bus := eventbus.New()
	eng := engine.New(rc.engine, log.With(logx.String("comp", "taskengine")), bus)
	sched := scheduler.New(rc.scheduler, eng, log.With(logx.String("comp", "scheduler")))

	chores, err := chore.New(chore.Deps{
		Store:     store,
		Scheduler: sched,
		Gateway:   ad,
		Runner:    eng,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "chores")),
		Location:  rc.location,
		Config:    rc.chores,
	})
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sched.SetHandler(chores.Dispatch)

	rt := router.New(rc.router, log.With(logx.String("comp", "router")), ad)
	rt.UseChores(chores)
	rt.SetReactionHandler(router.ReactionFunc(func(ctx context.Context, re *kit.Reaction) error {
		return chores.HandleReaction(ctx, chore.EventFromReaction(re))
	}))

	opsSrv := ops.New(rc.ops, func() any {
		return map[string]any{
			"scheduler":       sched.Snapshot(),
			"dropped_updates": ad.DroppedUpdates(),
		}
	}, log.With(logx.String("comp", "ops")))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		_, err := resolve(c)
		return err
	})

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		sched:   sched,
		chores:  chores,
		router:  rt,
		ops:     opsSrv,
		sweep:   rc.sweep,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the executor, restores the job table, connects the transport and
// launches the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.engine.Start(run)

	// Jobs are restored before the scheduler arms them; the transport connects
	// meanwhile.
	g, gctx := errgroup.WithContext(run)
	g.Go(func() error {
		_, err := a.chores.Rehydrate(gctx)
		return err
	})
	g.Go(func() error {
		return a.adapter.Start(run, a.updates)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	a.sched.Start(run)
	a.applySweep(a.sweep)

	a.ops.Start(run)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(256, chore.EventTransition)
	a.sup.Go0("chores.audit", func(c context.Context) {
		defer unsub()
		auditor{store: a.store, log: a.log.With(logx.String("comp", "audit"))}.run(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applySweep(every time.Duration) {
	if every <= 0 {
		a.sched.RemoveInterval(sweepInterval)
		return
	}
	err := a.sched.AddInterval(sweepInterval, every, time.Minute, func(c context.Context) error {
		_, err := a.chores.Sweep(c)
		return err
	})
	if err != nil {
		a.log.Warn("sweep not registered", logx.Err(err))
	}
}

// applyConfig pushes the live-reloadable sections into running components.
func (a *App) applyConfig(prev, next *config.Config) {
	rc, err := resolve(next)
	if err != nil {
		a.log.Warn("config not applied", logx.Err(err))
		return
	}
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(rc.logging)
	a.chores.Apply(rc.chores)
	a.chores.SetLocation(rc.location)
	a.adapter.ApplyPeers(rc.telegram.PeerRole, rc.telegram.PeerUserIDs, rc.telegram.AdminsArePeers)
	a.sched.Apply(rc.scheduler)
	a.ops.Reconfigure(a.sup.Context(), rc.ops)
	if rc.sweep != a.sweep {
		a.sweep = rc.sweep
		a.applySweep(rc.sweep)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("some config changes need a restart", logx.String("sections", strings.Join(pending, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Stop order: intake first, then timers and executor, then loops that
	// may still touch storage, then storage.
	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
