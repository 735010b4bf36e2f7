package chore

import (
	"context"
	"errors"
	"strings"
	"time"

	"chorebot/internal/schedule"
	"chorebot/internal/storage"
	"chorebot/internal/task/scheduler"
	"chorebot/internal/transport"
	logx "chorebot/pkg/logx"
)

// Dispatch is the scheduler handler. It already runs on the reminder's lane.
func (e *Engine) Dispatch(ctx context.Context, key scheduler.Key, at time.Time) error {
	switch key.Kind {
	case scheduler.JobReminder:
		return e.fire(ctx, key.ReminderID, at)
	case scheduler.JobFollowup:
		return e.followup(ctx, key.ReminderID, at)
	default:
		e.log.Warn("unknown job kind", logx.String("key", key.String()))
		return nil
	}
}

func (e *Engine) fire(ctx context.Context, id int64, at time.Time) error {
	started := time.Now()
	r, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		e.log.Debug("reminder gone; job ignored", logx.Int64("reminder_id", id))
		return nil
	}
	if err != nil {
		return storageErr("get", err)
	}
	if r.NextFireAt.Unix() != at.Unix() {
		e.log.Debug("stale reminder job", logx.Int64("reminder_id", id), logx.Time("at", at), logx.Time("next", r.NextFireAt))
		return nil
	}
	if !needsReminderJob(r) {
		e.log.Debug("reminder already fired", logx.Int64("reminder_id", id))
		return nil
	}

	ref, err := e.sendWithMarkers(ctx, r.HomeChannelID, reminderText(e.gw.Mention(r.OwnerUserID), r.ChoreName),
		transport.MarkerUp, transport.MarkerDown)
	if err != nil {
		e.fail(ctx, r.HomeChannelID, reminderFailedText, r, "fire", 0, started, transportErr("send reminder", err))
		return nil
	}
	// LastFiredAt never precedes NextFireAt, so a rehydrated past-due job is
	// recognised as delivered.
	fired := e.now()
	if fired.Before(r.NextFireAt) {
		fired = r.NextFireAt
	}
	if err := e.store.Update(ctx, id, storage.Patch{
		PendingReminderMessageID:     storage.MessageID(ref.MessageID),
		PendingVerificationMessageID: storage.NoMessage(),
		LastFiredAt:                  storage.At(fired),
	}); err != nil {
		// The message is out but unrecorded, so markers on it match nothing.
		e.fail(ctx, r.HomeChannelID, reminderFailedText, r, "fire", 0, started, storageErr("record reminder message", err))
		return nil
	}
	e.log.Info("reminder fired", logx.Int64("reminder_id", id), logx.Int("message_id", ref.MessageID))
	e.emit(Transition{ReminderID: id, ChatID: r.HomeChannelID, Action: "fire", Took: time.Since(started)})
	return nil
}

func (e *Engine) followup(ctx context.Context, id int64, at time.Time) error {
	started := time.Now()
	r, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageErr("get", err)
	}
	if !r.FollowupAt.Valid || r.FollowupAt.Time.Unix() != at.Unix() {
		e.log.Debug("stale follow-up job", logx.Int64("reminder_id", id))
		return nil
	}

	ref, err := e.sendWithMarkers(ctx, r.HomeChannelID, followupText(e.gw.Mention(r.OwnerUserID), r.ChoreName), transport.MarkerUp)
	if err != nil {
		e.fail(ctx, r.HomeChannelID, reminderFailedText, r, "followup", 0, started, transportErr("send follow-up", err))
		return nil
	}
	if err := e.store.Update(ctx, id, storage.Patch{
		PendingReminderMessageID: storage.MessageID(ref.MessageID),
		FollowupAt:               storage.NoTime(),
	}); err != nil {
		e.fail(ctx, r.HomeChannelID, reminderFailedText, r, "followup", 0, started, storageErr("record follow-up message", err))
		return nil
	}
	e.emit(Transition{ReminderID: id, ChatID: r.HomeChannelID, Action: "followup", Took: time.Since(started)})
	return nil
}

// HandleReaction resolves the reminder a marker press belongs to and queues
// the matching transition on its lane. Presses that match nothing are
// dropped without touching storage.
func (e *Engine) HandleReaction(ctx context.Context, ev ReactionEvent) error {
	if ev.ReactorIsBot {
		return nil
	}
	if ev.Marker != transport.MarkerUp && ev.Marker != transport.MarkerDown {
		return nil
	}

	r, err := e.store.FindByReminderMessage(ctx, ev.ChatID, ev.MessageID)
	switch {
	case err == nil:
		return e.submit(ctx, r.ID, "reaction.self_report", func(c context.Context) error {
			return e.selfReport(c, r.ID, ev)
		})
	case !errors.Is(err, storage.ErrNotFound):
		return storageErr("find reminder message", err)
	}

	r, err = e.store.FindByVerificationMessage(ctx, ev.ChatID, ev.MessageID)
	switch {
	case err == nil:
		return e.submit(ctx, r.ID, "reaction.peer", func(c context.Context) error {
			return e.peerVerify(c, r.ID, ev)
		})
	case !errors.Is(err, storage.ErrNotFound):
		return storageErr("find verification message", err)
	}
	return nil
}

func (e *Engine) selfReport(ctx context.Context, id int64, ev ReactionEvent) error {
	r, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageErr("get", err)
	}
	ignore := func(reason string) error {
		e.log.Debug("self-report ignored", logx.Int64("reminder_id", id), logx.Int64("reactor", ev.ReactorID), logx.String("reason", reason))
		return nil
	}
	switch {
	case !ev.AuthorIsSystem:
		return ignore("foreign message")
	case ev.ReactorID != r.OwnerUserID || !ev.mentions(ev.ReactorID):
		return ignore("not the assignee")
	case ev.ChatID != r.HomeChannelID || !r.PendingReminderMessageID.Valid || r.PendingReminderMessageID.Int64 != int64(ev.MessageID):
		return ignore("stale message")
	case StateOf(r) != AwaitingSelfReport:
		return ignore("verification already pending")
	}

	started := time.Now()
	op := "done"
	if ev.Marker == transport.MarkerUp {
		err = e.markDone(ctx, r)
	} else {
		op = "postpone"
		err = e.postpone(ctx, r)
	}
	if err != nil {
		e.fail(ctx, r.HomeChannelID, completionFailedText, r, op, ev.ReactorID, started, err)
		return nil
	}
	e.emit(Transition{ReminderID: r.ID, ActorID: ev.ReactorID, ChatID: ev.ChatID, Action: op, Took: time.Since(started)})
	return nil
}

func (e *Engine) markDone(ctx context.Context, r *storage.Reminder) error {
	text := verificationText(e.peerMention(), e.gw.Mention(r.OwnerUserID), r.ChoreName)
	ref, err := e.sendWithMarkers(ctx, r.VerificationChat(), text, transport.MarkerUp, transport.MarkerDown)
	if err != nil {
		return transportErr("send verification prompt", err)
	}
	if err := e.store.Update(ctx, r.ID, storage.Patch{PendingVerificationMessageID: storage.MessageID(ref.MessageID)}); err != nil {
		return storageErr("record verification message", err)
	}
	return nil
}

func (e *Engine) postpone(ctx context.Context, r *storage.Reminder) error {
	delay := e.config().PostponeDelay
	next := e.now().Add(delay)
	retries := r.RetryCount + 1
	if err := e.store.Update(ctx, r.ID, storage.Patch{NextFireAt: &next, RetryCount: &retries}); err != nil {
		return storageErr("postpone", err)
	}
	e.reschedule(r.ID, next)
	if err := e.send(ctx, r.HomeChannelID, postponeText(e.gw.Mention(r.OwnerUserID), delay, next)); err != nil {
		return transportErr("send postpone confirmation", err)
	}
	return nil
}

func (e *Engine) peerVerify(ctx context.Context, id int64, ev ReactionEvent) error {
	r, err := e.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storageErr("get", err)
	}
	cfg := e.config()
	ignore := func(reason string) error {
		e.log.Debug("verification ignored", logx.Int64("reminder_id", id), logx.Int64("reactor", ev.ReactorID), logx.String("reason", reason))
		return nil
	}
	switch {
	case !r.PendingVerificationMessageID.Valid || r.PendingVerificationMessageID.Int64 != int64(ev.MessageID) || ev.ChatID != r.VerificationChat():
		return ignore("stale message")
	case !ev.hasRole(cfg.PeerRole):
		return ignore("not a peer")
	case ev.ReactorID == r.OwnerUserID && !cfg.AllowSelfVerify:
		return ignore("self verification")
	}

	started := time.Now()
	op := "confirm"
	if ev.Marker == transport.MarkerUp {
		err = e.confirm(ctx, r, ev.ReactorID)
	} else {
		op = "reject"
		err = e.reject(ctx, r, ev.ReactorID)
	}
	if err != nil {
		e.fail(ctx, r.VerificationChat(), verificationFailedText, r, op, ev.ReactorID, started, err)
		return nil
	}
	e.emit(Transition{ReminderID: r.ID, ActorID: ev.ReactorID, ChatID: ev.ChatID, Action: op, Took: time.Since(started)})
	return nil
}

func (e *Engine) confirm(ctx context.Context, r *storage.Reminder, peer int64) error {
	s, err := schedule.Parse(r.ScheduleKind, r.ScheduleParams)
	if err != nil {
		return storageErr("decode schedule", err)
	}
	next, err := schedule.NextSkipping(s, e.now())
	if err != nil {
		return storageErr("compute next", err)
	}
	zero := 0
	if err := e.store.Update(ctx, r.ID, storage.Patch{
		NextFireAt:                   &next,
		RetryCount:                   &zero,
		PendingReminderMessageID:     storage.NoMessage(),
		PendingVerificationMessageID: storage.NoMessage(),
		FollowupAt:                   storage.NoTime(),
	}); err != nil {
		return storageErr("confirm", err)
	}
	e.sched.Cancel(followupKey(r.ID))
	e.reschedule(r.ID, next)

	text := verifiedText(e.gw.Mention(r.OwnerUserID), e.gw.Mention(peer), next)
	if err := e.send(ctx, r.VerificationChat(), text); err != nil {
		return transportErr("send verified notice", err)
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, r *storage.Reminder, peer int64) error {
	text := rejectionText(e.gw.Mention(r.OwnerUserID), e.gw.Mention(peer))
	ref, err := e.sendWithMarkers(ctx, r.HomeChannelID, text, transport.MarkerUp)
	if err != nil {
		return transportErr("send rejection", err)
	}
	next := e.now().Add(e.config().RetryDelay)
	if err := e.store.Update(ctx, r.ID, storage.Patch{
		NextFireAt:                   &next,
		PendingReminderMessageID:     storage.MessageID(ref.MessageID),
		PendingVerificationMessageID: storage.NoMessage(),
		FollowupAt:                   storage.At(next),
	}); err != nil {
		return storageErr("reject", err)
	}
	e.reschedule(r.ID, next)
	if err := e.sched.Schedule(followupKey(r.ID), next); err != nil {
		e.log.Warn("follow-up not scheduled", logx.Int64("reminder_id", r.ID), logx.Err(err))
	}
	return nil
}

// reschedule re-arms the reminder job. Storage already holds next, so a
// failure here is repaired by the next sweep.
func (e *Engine) reschedule(id int64, next time.Time) {
	if err := e.sched.Schedule(reminderKey(id), next); err != nil {
		e.log.Warn("reminder not rescheduled", logx.Int64("reminder_id", id), logx.Time("next", next), logx.Err(err))
	}
}

func (e *Engine) peerMention() string {
	cfg := e.config()
	if cfg.PeerMention != "" {
		return cfg.PeerMention
	}
	if len(cfg.PeerUserIDs) == 0 {
		return "Peers"
	}
	mentions := make([]string, 0, len(cfg.PeerUserIDs))
	for _, id := range cfg.PeerUserIDs {
		mentions = append(mentions, e.gw.Mention(id))
	}
	return strings.Join(mentions, " ")
}

// needsReminderJob reports whether the reminder's NextFireAt has not been
// delivered yet.
func needsReminderJob(r *storage.Reminder) bool {
	return !r.LastFiredAt.Valid || r.LastFiredAt.Time.Before(r.NextFireAt)
}
