package chore

import (
	"context"
	"errors"
	"sync"
	"time"

	"chorebot/internal/eventbus"
	"chorebot/internal/storage"
	"chorebot/internal/task/engine"
	"chorebot/internal/task/scheduler"
	"chorebot/internal/transport"
	logx "chorebot/pkg/logx"
)

// Scheduler is the job table the engine programs.
type Scheduler interface {
	Schedule(key scheduler.Key, at time.Time) error
	Cancel(key scheduler.Key) bool
	Exists(key scheduler.Key) bool
	Pending() []scheduler.JobInfo
}

// Runner executes tasks serialized by key.
type Runner interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Deps are the collaborators of an Engine. Store, Scheduler, Gateway and
// Runner are required.
type Deps struct {
	Store     storage.Store
	Scheduler Scheduler
	Gateway   transport.Gateway
	Runner    Runner
	Bus       eventbus.Bus
	Log       logx.Logger
	Clock     func() time.Time
	Location  *time.Location
	Config    Config
}

type Engine struct {
	store  storage.Store
	sched  Scheduler
	gw     transport.Gateway
	runner Runner
	bus    eventbus.Bus
	log    logx.Logger
	clock  func() time.Time

	mu  sync.RWMutex
	loc *time.Location
	cfg Config
}

func New(d Deps) (*Engine, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("chore: store is required")
	case d.Scheduler == nil:
		return nil, errors.New("chore: scheduler is required")
	case d.Gateway == nil:
		return nil, errors.New("chore: gateway is required")
	case d.Runner == nil:
		return nil, errors.New("chore: runner is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Engine{
		store:  d.Store,
		sched:  d.Scheduler,
		gw:     d.Gateway,
		runner: d.Runner,
		bus:    d.Bus,
		log:    d.Log,
		clock:  d.Clock,
		loc:    d.Location,
		cfg:    d.Config.withDefaults(),
	}, nil
}

// Apply swaps the engine configuration at runtime.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// SetLocation changes the timezone schedules are computed in.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	e.mu.Lock()
	e.loc = loc
	e.mu.Unlock()
}

func (e *Engine) Location() *time.Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loc
}

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) now() time.Time {
	return e.clock().In(e.Location())
}

func reminderKey(id int64) scheduler.Key {
	return scheduler.Key{Kind: scheduler.JobReminder, ReminderID: id}
}
func followupKey(id int64) scheduler.Key {
	return scheduler.Key{Kind: scheduler.JobFollowup, ReminderID: id}
}

// submit queues fn on the reminder's lane without waiting for it.
func (e *Engine) submit(ctx context.Context, id int64, name string, fn func(ctx context.Context) error) error {
	return e.runner.Submit(ctx, engine.Task{Key: scheduler.Lane(id), Name: name, Run: fn})
}

// do runs fn on the reminder's lane and waits for its result.
func (e *Engine) do(ctx context.Context, id int64, name string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := e.submit(ctx, id, name, func(c context.Context) error {
		err := fn(c)
		done <- err
		if isUserError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isUserError(err error) bool {
	var ve *ValidationError
	var nf *NotFoundError
	return errors.As(err, &ve) || errors.As(err, &nf)
}

// sendWithMarkers posts text and attaches markers. A marker failure is
// logged; the message itself still counts as sent.
func (e *Engine) sendWithMarkers(ctx context.Context, chatID int64, text string, markers ...transport.Marker) (transport.MessageRef, error) {
	ref, err := e.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		return transport.MessageRef{}, err
	}
	if len(markers) > 0 {
		if err := e.gw.AddMarkers(ctx, ref, markers...); err != nil {
			e.log.Warn("add markers failed", logx.Int64("chat_id", chatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
	}
	return ref, nil
}

func (e *Engine) send(ctx context.Context, chatID int64, text string) error {
	_, err := e.sendWithMarkers(ctx, chatID, text)
	return err
}

// fail logs a handler failure and posts a generic notice to chatID.
func (e *Engine) fail(ctx context.Context, chatID int64, notice string, r *storage.Reminder, op string, actor int64, started time.Time, err error) {
	ref := ErrorRef(err)
	e.log.Error("chore operation failed",
		logx.Int64("reminder_id", r.ID),
		logx.String("op", op),
		logx.String("ref", ref),
		logx.Err(err),
	)
	if sendErr := e.send(ctx, chatID, failureNotice(notice, ref)); sendErr != nil {
		e.log.Warn("failure notice not delivered", logx.Int64("chat_id", chatID), logx.Err(sendErr))
	}
	e.emit(Transition{ReminderID: r.ID, ActorID: actor, ChatID: chatID, Action: op, Err: err.Error(), Ref: ref, Took: time.Since(started)})
}
