package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateReaction UpdateKind = "reaction"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Reaction *Reaction
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

// Reaction is a marker pressed on a message, normalized by the adapter.
//
// MentionedUserIDs and AuthorIsSystem describe the message the marker sits on,
// not the reactor.
type Reaction struct {
	ID               string // adapter acknowledgement handle (Telegram callback id)
	ChatID           int64
	MessageID        int
	Marker           Marker
	ReactorID        int64
	ReactorName      string
	ReactorIsBot     bool
	MentionedUserIDs []int64
	AuthorIsSystem   bool
	ReactorRoles     []string
}

// Marker is a reaction token attached to a message.
type Marker string

const (
	MarkerUp   Marker = "👍"
	MarkerDown Marker = "👎"
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers plain text. The log chat sink only needs this.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Gateway is the outbound side consumed by the lifecycle engine.
type Gateway interface {
	Sender
	AddMarkers(ctx context.Context, ref MessageRef, markers ...Marker) error
	// Mention renders a reference that notifies the user, in the gateway's
	// markup.
	Mention(userID int64) string
}

type Adapter interface {
	Gateway

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	Acknowledge(ctx context.Context, reactionID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
