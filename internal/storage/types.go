package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chorebot/internal/schedule"
)

var (
	ErrNotFound      = errors.New("reminder not found")
	ErrAlreadyExists = errors.New("reminder already exists")
	ErrDisabled      = errors.New("storage disabled")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver); Path is the file, ":memory:" for tests
//   - "mysql": MySQL / MariaDB; DSN is a go-sql-driver DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reminder is one registered chore and its lifecycle fields.
type Reminder struct {
	ID                    int64
	OwnerUserID           int64
	HomeChannelID         int64
	ChoreName             string
	ScheduleKind          schedule.Kind
	ScheduleParams        string
	NextFireAt            time.Time
	VerificationChannelID sql.NullInt64
	RetryCount            int

	PendingReminderMessageID     sql.NullInt64
	PendingVerificationMessageID sql.NullInt64

	// FollowupAt is set while a follow-up after a peer rejection is pending.
	FollowupAt sql.NullTime
	// LastFiredAt is when the reminder job last produced a message.
	LastFiredAt sql.NullTime

	CreatedAt time.Time
}

// VerificationChat is where peer-verification prompts go.
func (r *Reminder) VerificationChat() int64 {
	if r.VerificationChannelID.Valid && r.VerificationChannelID.Int64 != 0 {
		return r.VerificationChannelID.Int64
	}
	return r.HomeChannelID
}

// Patch lists the columns an Update touches. Nil fields are left alone;
// an invalid sql.Null* value clears the column.
type Patch struct {
	NextFireAt                   *time.Time
	RetryCount                   *int
	PendingReminderMessageID     *sql.NullInt64
	PendingVerificationMessageID *sql.NullInt64
	FollowupAt                   *sql.NullTime
	LastFiredAt                  *sql.NullTime
}

func (p Patch) IsEmpty() bool {
	return p.NextFireAt == nil && p.RetryCount == nil && p.PendingReminderMessageID == nil &&
		p.PendingVerificationMessageID == nil && p.FollowupAt == nil && p.LastFiredAt == nil
}

// MessageID is a Patch helper that sets a message id column.
func MessageID(id int) *sql.NullInt64 { return &sql.NullInt64{Int64: int64(id), Valid: true} }

// NoMessage is a Patch helper that clears a message id column.
func NoMessage() *sql.NullInt64 { return &sql.NullInt64{} }

// At is a Patch helper that sets a nullable time column.
func At(t time.Time) *sql.NullTime { return &sql.NullTime{Time: t, Valid: true} }

// NoTime is a Patch helper that clears a nullable time column.
func NoTime() *sql.NullTime { return &sql.NullTime{} }

// AuditEntry records a lifecycle transition or command.
type AuditEntry struct {
	At         time.Time
	ReminderID int64
	ActorID    int64
	ChatID     int64
	Action     string
	OK         bool
	Error      string
	TookMS     int64
	MetaJSON   string
}

// Store is the persistence API used by the lifecycle engine.
type Store interface {
	Create(ctx context.Context, r *Reminder) (int64, error)
	Get(ctx context.Context, id int64) (*Reminder, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]Reminder, error)
	ListAll(ctx context.Context) ([]Reminder, error)
	FindByOwnerChore(ctx context.Context, ownerID int64, chore string) (*Reminder, error)
	FindByReminderMessage(ctx context.Context, chatID int64, messageID int) (*Reminder, error)
	FindByVerificationMessage(ctx context.Context, chatID int64, messageID int) (*Reminder, error)
	Update(ctx context.Context, id int64, p Patch) error
	Delete(ctx context.Context, id int64) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
