package chore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chorebot/internal/schedule"
	"chorebot/internal/storage"
	"chorebot/internal/task/scheduler"
	logx "chorebot/pkg/logx"
)

// CreateRequest carries the arguments of /schedule.
type CreateRequest struct {
	OwnerID int64
	ChatID  int64
	Chore   string
	Kind    string
	Time    string
	// Day is the weekday (0=Monday) or day of month; HasDay is false when omitted.
	Day    int
	HasDay bool
	// VerifyChatID overrides where verification prompts go; 0 means the home chat.
	VerifyChatID int64
}

// PauseRequest carries the arguments of /pause. A zero Duration with
// HasDuration false means the configured default.
type PauseRequest struct {
	OwnerID     int64
	Chore       string
	Duration    time.Duration
	HasDuration bool
}

func (e *Engine) Create(ctx context.Context, req CreateRequest) (*storage.Reminder, error) {
	started := time.Now()
	s, err := buildSchedule(req)
	if err != nil {
		return nil, err
	}
	chore := strings.TrimSpace(req.Chore)
	next, err := schedule.NextSkipping(s, e.now())
	if err != nil {
		return nil, &ValidationError{Msg: "Error scheduling reminder: that day never occurs.", Err: err}
	}

	r := &storage.Reminder{
		OwnerUserID:    req.OwnerID,
		HomeChannelID:  req.ChatID,
		ChoreName:      chore,
		ScheduleKind:   s.Kind(),
		ScheduleParams: s.Params(),
		NextFireAt:     next,
		CreatedAt:      e.clock(),
	}
	if req.VerifyChatID != 0 {
		r.VerificationChannelID = sql.NullInt64{Int64: req.VerifyChatID, Valid: true}
	}
	if _, err := e.store.Create(ctx, r); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, &ValidationError{Msg: fmt.Sprintf("You already have a reminder named '%s'.", esc(chore)), Err: err}
		}
		return nil, storageErr("create", err)
	}
	e.reschedule(r.ID, next)

	e.log.Info("reminder created", logx.Int64("reminder_id", r.ID), logx.Int64("owner", r.OwnerUserID), logx.String("schedule", s.Describe()), logx.Time("next", next))
	e.emit(Transition{ReminderID: r.ID, ActorID: req.OwnerID, ChatID: req.ChatID, Action: "create", Took: time.Since(started),
		Meta: map[string]any{"kind": string(s.Kind()), "params": s.Params()}})
	return r, nil
}

func buildSchedule(req CreateRequest) (schedule.Schedule, error) {
	if strings.TrimSpace(req.Chore) == "" {
		return nil, &ValidationError{Msg: "Please provide a chore name."}
	}
	kind, err := schedule.ParseKind(req.Kind)
	if err != nil {
		return nil, &ValidationError{Msg: "Schedule type must be daily, weekly or monthly.", Err: err}
	}
	if _, _, err := schedule.ParseHHMM(req.Time); err != nil {
		return nil, &ValidationError{Msg: "Invalid time format. Please use 24-hour format (e.g., 14:30 for 2:30 PM)", Err: err}
	}
	switch kind {
	case schedule.KindWeekly:
		if !req.HasDay {
			return nil, &ValidationError{Msg: "Please provide a day number (0-6) for weekly reminders:\n" + WeekdayHelp()}
		}
		if req.Day < 0 || req.Day > 6 {
			return nil, &ValidationError{Msg: "Invalid day number. Please use:\n" + WeekdayHelp()}
		}
	case schedule.KindMonthly:
		if !req.HasDay || req.Day < 1 || req.Day > 31 {
			return nil, &ValidationError{Msg: "Please provide a valid day of month (1-31) for monthly reminders."}
		}
	}
	s, err := schedule.Build(kind, req.Time, req.Day)
	if err != nil {
		return nil, &ValidationError{Msg: "Error scheduling reminder: " + esc(err.Error()), Err: err}
	}
	return s, nil
}

func (e *Engine) List(ctx context.Context, ownerID int64) ([]storage.Reminder, error) {
	rs, err := e.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storageErr("list", err)
	}
	return rs, nil
}

// Delete removes the owner's chore and cancels both of its jobs.
func (e *Engine) Delete(ctx context.Context, ownerID int64, chore string) error {
	started := time.Now()
	r, err := e.findOwned(ctx, ownerID, chore)
	if err != nil {
		return err
	}
	return e.do(ctx, r.ID, "command.delete", func(c context.Context) error {
		if err := e.store.Delete(c, r.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &NotFoundError{Chore: chore}
			}
			return storageErr("delete", err)
		}
		e.sched.Cancel(reminderKey(r.ID))
		e.sched.Cancel(followupKey(r.ID))
		e.log.Info("reminder deleted", logx.Int64("reminder_id", r.ID), logx.Int64("owner", ownerID))
		e.emit(Transition{ReminderID: r.ID, ActorID: ownerID, ChatID: r.HomeChannelID, Action: "delete", Took: time.Since(started)})
		return nil
	})
}

// Pause shifts the stored NextFireAt forward and re-arms the job.
func (e *Engine) Pause(ctx context.Context, req PauseRequest) (*storage.Reminder, time.Duration, error) {
	started := time.Now()
	r, err := e.findOwned(ctx, req.OwnerID, req.Chore)
	if err != nil {
		return nil, 0, err
	}
	cfg := e.config()
	d := req.Duration
	if !req.HasDuration {
		d = cfg.PauseDefault
	}
	if d < cfg.PauseMin {
		return nil, 0, &ValidationError{Msg: "Please specify a positive number of hours to pause."}
	}

	var out *storage.Reminder
	err = e.do(ctx, r.ID, "command.pause", func(c context.Context) error {
		cur, err := e.store.Get(c, r.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return &NotFoundError{Chore: req.Chore}
		}
		if err != nil {
			return storageErr("get", err)
		}
		next := cur.NextFireAt.Add(d)
		if err := e.store.Update(c, cur.ID, storage.Patch{NextFireAt: &next}); err != nil {
			return storageErr("pause", err)
		}
		e.reschedule(cur.ID, next)
		cur.NextFireAt = next
		out = cur
		e.emit(Transition{ReminderID: cur.ID, ActorID: req.OwnerID, ChatID: cur.HomeChannelID, Action: "pause", Took: time.Since(started),
			Meta: map[string]any{"duration": d.String()}})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, d, nil
}

func (e *Engine) findOwned(ctx context.Context, ownerID int64, chore string) (*storage.Reminder, error) {
	chore = strings.TrimSpace(chore)
	if chore == "" {
		return nil, &ValidationError{Msg: "Please provide a chore name."}
	}
	r, err := e.store.FindByOwnerChore(ctx, ownerID, chore)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &NotFoundError{Chore: chore}
	}
	if err != nil {
		return nil, storageErr("find", err)
	}
	return r, nil
}

// Rehydrate schedules jobs for every stored reminder. Reminder jobs whose
// NextFireAt already fired are skipped; past-due ones fire immediately.
func (e *Engine) Rehydrate(ctx context.Context) (int, error) {
	rs, err := e.store.ListAll(ctx)
	if err != nil {
		return 0, storageErr("list all", err)
	}
	n := 0
	for i := range rs {
		n += e.ensureJobs(&rs[i], false)
	}
	e.log.Info("jobs rehydrated", logx.Int("reminders", len(rs)), logx.Int("jobs", n))
	return n, nil
}

// SweepResult counts the repairs of one Sweep.
type SweepResult struct {
	Added   int
	Removed int
}

// Sweep reconciles the job table against storage: missing jobs are
// re-added and jobs of deleted reminders cancelled.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	rs, err := e.store.ListAll(ctx)
	if err != nil {
		return SweepResult{}, storageErr("list all", err)
	}
	var res SweepResult
	live := make(map[int64]struct{}, len(rs))
	for i := range rs {
		live[rs[i].ID] = struct{}{}
		res.Added += e.ensureJobs(&rs[i], true)
	}
	for _, j := range e.sched.Pending() {
		if _, ok := live[j.Key.ReminderID]; !ok {
			if e.sched.Cancel(j.Key) {
				res.Removed++
			}
		}
	}
	if res.Added > 0 || res.Removed > 0 {
		e.log.Info("sweep repaired job table", logx.Int("added", res.Added), logx.Int("removed", res.Removed))
	}
	return res, nil
}

// ensureJobs schedules the jobs r should own. With onlyMissing, existing
// jobs are left untouched.
func (e *Engine) ensureJobs(r *storage.Reminder, onlyMissing bool) int {
	n := 0
	add := func(key scheduler.Key, at time.Time) {
		if onlyMissing && e.sched.Exists(key) {
			return
		}
		if err := e.sched.Schedule(key, at); err != nil {
			e.log.Warn("job not scheduled", logx.String("key", key.String()), logx.Err(err))
			return
		}
		n++
	}
	if needsReminderJob(r) {
		add(reminderKey(r.ID), r.NextFireAt)
	}
	if r.FollowupAt.Valid {
		add(followupKey(r.ID), r.FollowupAt.Time)
	}
	return n
}
