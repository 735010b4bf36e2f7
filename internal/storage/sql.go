package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"chorebot/internal/schedule"
	logx "chorebot/pkg/logx"
)

type sqlStore struct {
	db      *sqlx.DB
	log     logx.Logger
	dialect dialect
}

// reminderRow is the on-disk shape of a Reminder.
type reminderRow struct {
	ID                           int64         `db:"id"`
	OwnerUserID                  int64         `db:"owner_user_id"`
	HomeChannelID                int64         `db:"home_channel_id"`
	ChoreName                    string        `db:"chore_name"`
	ScheduleKind                 string        `db:"schedule_kind"`
	ScheduleParams               string        `db:"schedule_params"`
	NextFireAt                   int64         `db:"next_fire_at"`
	VerificationChannelID        sql.NullInt64 `db:"verification_channel_id"`
	RetryCount                   int           `db:"retry_count"`
	PendingReminderMessageID     sql.NullInt64 `db:"pending_reminder_message_id"`
	PendingVerificationMessageID sql.NullInt64 `db:"pending_verification_message_id"`
	FollowupAt                   sql.NullInt64 `db:"followup_at"`
	LastFiredAt                  sql.NullInt64 `db:"last_fired_at"`
	CreatedAt                    int64         `db:"created_at"`
}

const reminderColumns = `id, owner_user_id, home_channel_id, chore_name, schedule_kind, schedule_params,
	next_fire_at, verification_channel_id, retry_count, pending_reminder_message_id,
	pending_verification_message_id, followup_at, last_fired_at, created_at`

func (r reminderRow) toReminder() Reminder {
	return Reminder{
		ID:                           r.ID,
		OwnerUserID:                  r.OwnerUserID,
		HomeChannelID:                r.HomeChannelID,
		ChoreName:                    r.ChoreName,
		ScheduleKind:                 schedule.Kind(r.ScheduleKind),
		ScheduleParams:               r.ScheduleParams,
		NextFireAt:                   time.Unix(r.NextFireAt, 0),
		VerificationChannelID:        r.VerificationChannelID,
		RetryCount:                   r.RetryCount,
		PendingReminderMessageID:     r.PendingReminderMessageID,
		PendingVerificationMessageID: r.PendingVerificationMessageID,
		FollowupAt:                   fromUnix(r.FollowupAt),
		LastFiredAt:                  fromUnix(r.LastFiredAt),
		CreatedAt:                    time.Unix(r.CreatedAt, 0),
	}
}

func fromUnix(v sql.NullInt64) sql.NullTime {
	if !v.Valid {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Unix(v.Int64, 0), Valid: true}
}

func toUnix(v sql.NullTime) sql.NullInt64 {
	if !v.Valid {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v.Time.Unix(), Valid: true}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Create(ctx context.Context, r *Reminder) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	const query = `INSERT INTO reminders
		(owner_user_id, home_channel_id, chore_name, schedule_kind, schedule_params, next_fire_at,
		 verification_channel_id, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		r.OwnerUserID, r.HomeChannelID, r.ChoreName, string(r.ScheduleKind), r.ScheduleParams,
		r.NextFireAt.Unix(), r.VerificationChannelID, r.RetryCount, r.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %q", ErrAlreadyExists, r.ChoreName)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

func (s *sqlStore) Get(ctx context.Context, id int64) (*Reminder, error) {
	return s.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
}

func (s *sqlStore) FindByOwnerChore(ctx context.Context, ownerID int64, chore string) (*Reminder, error) {
	return s.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE owner_user_id = ? AND chore_name = ?`, ownerID, chore)
}

func (s *sqlStore) FindByReminderMessage(ctx context.Context, chatID int64, messageID int) (*Reminder, error) {
	return s.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders
		WHERE home_channel_id = ? AND pending_reminder_message_id = ?`, chatID, messageID)
}

func (s *sqlStore) FindByVerificationMessage(ctx context.Context, chatID int64, messageID int) (*Reminder, error) {
	return s.getOne(ctx, `SELECT `+reminderColumns+` FROM reminders
		WHERE pending_verification_message_id = ? AND COALESCE(verification_channel_id, home_channel_id) = ?`, messageID, chatID)
}

func (s *sqlStore) ListByOwner(ctx context.Context, ownerID int64) ([]Reminder, error) {
	return s.list(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE owner_user_id = ? ORDER BY next_fire_at, id`, ownerID)
}

func (s *sqlStore) ListAll(ctx context.Context) ([]Reminder, error) {
	return s.list(ctx, `SELECT `+reminderColumns+` FROM reminders ORDER BY next_fire_at, id`)
}

func (s *sqlStore) Update(ctx context.Context, id int64, p Patch) error {
	if p.IsEmpty() {
		return nil
	}
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if p.NextFireAt != nil {
		sets = append(sets, "next_fire_at = ?")
		args = append(args, p.NextFireAt.Unix())
	}
	if p.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *p.RetryCount)
	}
	if p.PendingReminderMessageID != nil {
		sets = append(sets, "pending_reminder_message_id = ?")
		args = append(args, *p.PendingReminderMessageID)
	}
	if p.PendingVerificationMessageID != nil {
		sets = append(sets, "pending_verification_message_id = ?")
		args = append(args, *p.PendingVerificationMessageID)
	}
	if p.FollowupAt != nil {
		sets = append(sets, "followup_at = ?")
		args = append(args, toUnix(*p.FollowupAt))
	}
	if p.LastFiredAt != nil {
		sets = append(sets, "last_fired_at = ?")
		args = append(args, toUnix(*p.LastFiredAt))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	// MySQL reports 0 affected rows when values are unchanged; confirm the row exists.
	var one int
	err = s.db.GetContext(ctx, &one, `SELECT 1 FROM reminders WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *sqlStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (at, reminder_id, actor_id, chat_id, action, ok, err, took_ms, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.Unix(), e.ReminderID, e.ActorID, e.ChatID, e.Action, e.OK, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqlStore) getOne(ctx context.Context, query string, args ...any) (*Reminder, error) {
	var row reminderRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r := row.toReminder()
	return &r, nil
}

func (s *sqlStore) list(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	var rows []reminderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReminder())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
