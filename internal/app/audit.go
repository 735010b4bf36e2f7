package app

import (
	"context"
	"encoding/json"
	"time"

	"chorebot/internal/chore"
	"chorebot/internal/eventbus"
	"chorebot/internal/storage"
	logx "chorebot/pkg/logx"
)

// auditor persists lifecycle transitions published on the bus.
type auditor struct {
	store storage.Store
	log   logx.Logger
}

func (a auditor) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t, ok := ev.Data.(chore.Transition)
			if !ok {
				continue
			}
			a.record(ctx, ev.Time, t)
		}
	}
}

func (a auditor) record(ctx context.Context, at time.Time, t chore.Transition) {
	if at.IsZero() {
		at = time.Now()
	}
	entry := storage.AuditEntry{
		At:         at,
		ReminderID: t.ReminderID,
		ActorID:    t.ActorID,
		ChatID:     t.ChatID,
		Action:     t.Action,
		OK:         t.OK(),
		Error:      t.Err,
		TookMS:     t.Took.Milliseconds(),
	}
	meta := map[string]any{}
	for k, v := range t.Meta {
		meta[k] = v
	}
	if t.Ref != "" {
		meta["ref"] = t.Ref
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			entry.MetaJSON = string(b)
		}
	}

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(wctx, entry); err != nil {
		a.log.Warn("audit append failed", logx.String("action", t.Action), logx.Int64("reminder_id", t.ReminderID), logx.Err(err))
	}
}
