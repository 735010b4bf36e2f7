package chore

import "chorebot/internal/storage"

type State int

const (
	Idle State = iota
	AwaitingSelfReport
	AwaitingPeerVerification
)

func (s State) String() string {
	switch s {
	case AwaitingSelfReport:
		return "awaiting_self_report"
	case AwaitingPeerVerification:
		return "awaiting_peer_verification"
	default:
		return "idle"
	}
}

// StateOf derives the lifecycle state from the stored fields.
func StateOf(r *storage.Reminder) State {
	switch {
	case r == nil:
		return Idle
	case r.PendingVerificationMessageID.Valid:
		return AwaitingPeerVerification
	case r.PendingReminderMessageID.Valid:
		return AwaitingSelfReport
	default:
		return Idle
	}
}
