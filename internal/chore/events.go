package chore

import (
	"slices"
	"strings"
	"time"

	"chorebot/internal/eventbus"
	"chorebot/internal/transport"
)

// ReactionEvent is a marker press on a message, as the engine sees it.
type ReactionEvent struct {
	ChatID    int64
	MessageID int
	Marker    transport.Marker

	ReactorID    int64
	ReactorIsBot bool
	ReactorRoles []string

	// Facts about the message the marker was pressed on.
	MentionedUserIDs []int64
	AuthorIsSystem   bool
}

// EventFromReaction converts a normalized transport reaction.
func EventFromReaction(r *transport.Reaction) ReactionEvent {
	return ReactionEvent{
		ChatID:           r.ChatID,
		MessageID:        r.MessageID,
		Marker:           r.Marker,
		ReactorID:        r.ReactorID,
		ReactorIsBot:     r.ReactorIsBot,
		ReactorRoles:     r.ReactorRoles,
		MentionedUserIDs: r.MentionedUserIDs,
		AuthorIsSystem:   r.AuthorIsSystem,
	}
}

func (ev ReactionEvent) hasRole(role string) bool {
	return slices.ContainsFunc(ev.ReactorRoles, func(r string) bool { return strings.EqualFold(r, role) })
}

func (ev ReactionEvent) mentions(id int64) bool {
	return slices.Contains(ev.MentionedUserIDs, id)
}

// EventTransition is published on the bus after every lifecycle step.
const EventTransition = "chore.transition"

// Transition describes one lifecycle step or command outcome.
type Transition struct {
	ReminderID int64          `json:"reminder_id"`
	ActorID    int64          `json:"actor_id"`
	ChatID     int64          `json:"chat_id"`
	Action     string         `json:"action"`
	Err        string         `json:"error,omitempty"`
	Ref        string         `json:"ref,omitempty"`
	Took       time.Duration  `json:"took"`
	Meta       map[string]any `json:"meta,omitempty"`
}

func (t Transition) OK() bool { return t.Err == "" }

func (e *Engine) emit(t Transition) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: EventTransition, Data: t})
}
