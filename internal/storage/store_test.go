package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorebot/internal/schedule"
	logx "chorebot/pkg/logx"
)

func openMem(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newReminder(owner int64, chore string, next time.Time) *Reminder {
	return &Reminder{
		OwnerUserID:    owner,
		HomeChannelID:  -100,
		ChoreName:      chore,
		ScheduleKind:   schedule.KindDaily,
		ScheduleParams: "18:00",
		NextFireAt:     next,
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMem(t)

	next := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)
	r := newReminder(7, "dishes", next)
	r.VerificationChannelID.Int64, r.VerificationChannelID.Valid = -200, true

	id, err := st.Create(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.NotZero(t, id)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.OwnerUserID)
	assert.Equal(t, "dishes", got.ChoreName)
	assert.Equal(t, schedule.KindDaily, got.ScheduleKind)
	assert.Equal(t, "18:00", got.ScheduleParams)
	assert.True(t, got.NextFireAt.Equal(next))
	assert.Equal(t, int64(-200), got.VerificationChat())
	assert.False(t, got.PendingReminderMessageID.Valid)
	assert.False(t, got.FollowupAt.Valid)
	assert.Zero(t, got.RetryCount)
}

func TestCreateRejectsDuplicateChore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMem(t)
	now := time.Now()

	_, err := st.Create(ctx, newReminder(1, "trash", now))
	require.NoError(t, err)

	_, err = st.Create(ctx, newReminder(1, "trash", now))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Same chore name for another owner is fine.
	_, err = st.Create(ctx, newReminder(2, "trash", now))
	assert.NoError(t, err)
}

func TestUpdatePatchSetsAndClears(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMem(t)

	id, err := st.Create(ctx, newReminder(1, "laundry", time.Unix(1000, 0)))
	require.NoError(t, err)

	retries := 2
	followup := time.Unix(5000, 0)
	require.NoError(t, st.Update(ctx, id, Patch{
		RetryCount:                   &retries,
		PendingReminderMessageID:     MessageID(42),
		PendingVerificationMessageID: MessageID(43),
		FollowupAt:                   At(followup),
	}))

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, int64(42), got.PendingReminderMessageID.Int64)
	assert.Equal(t, int64(43), got.PendingVerificationMessageID.Int64)
	assert.True(t, got.FollowupAt.Valid)
	assert.True(t, got.FollowupAt.Time.Equal(followup))
	assert.True(t, got.NextFireAt.Equal(time.Unix(1000, 0)), "untouched column changed")

	next := time.Unix(9000, 0)
	require.NoError(t, st.Update(ctx, id, Patch{
		NextFireAt:                   &next,
		PendingVerificationMessageID: NoMessage(),
		FollowupAt:                   NoTime(),
	}))

	got, err = st.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.NextFireAt.Equal(next))
	assert.False(t, got.PendingVerificationMessageID.Valid)
	assert.False(t, got.FollowupAt.Valid)
	assert.True(t, got.PendingReminderMessageID.Valid)

	assert.NoError(t, st.Update(ctx, id, Patch{}))
	assert.ErrorIs(t, st.Update(ctx, id+100, Patch{RetryCount: &retries}), ErrNotFound)
}

func TestListByOwnerOrdersByNextFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMem(t)

	_, err := st.Create(ctx, newReminder(1, "late", time.Unix(3000, 0)))
	require.NoError(t, err)
	_, err = st.Create(ctx, newReminder(1, "early", time.Unix(1000, 0)))
	require.NoError(t, err)
	_, err = st.Create(ctx, newReminder(2, "other", time.Unix(500, 0)))
	require.NoError(t, err)

	list, err := st.ListByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ChoreName)
	assert.Equal(t, "late", list[1].ChoreName)

	all, err := st.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := st.ListByOwner(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteAndNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMem(t)

	id, err := st.Create(ctx, newReminder(1, "vacuum", time.Now()))
	require.NoError(t, err)

	require.NoError(t, st.Delete(ctx, id))
	assert.ErrorIs(t, st.Delete(ctx, id), ErrNotFound)

	_, err = st.Get(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindByMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMem(t)

	a := newReminder(1, "dishes", time.Now())
	_, err := st.Create(ctx, a)
	require.NoError(t, err)
	b := newReminder(2, "mop", time.Now())
	b.VerificationChannelID.Int64, b.VerificationChannelID.Valid = -300, true
	_, err = st.Create(ctx, b)
	require.NoError(t, err)

	require.NoError(t, st.Update(ctx, a.ID, Patch{PendingReminderMessageID: MessageID(10), PendingVerificationMessageID: MessageID(11)}))
	require.NoError(t, st.Update(ctx, b.ID, Patch{PendingVerificationMessageID: MessageID(11)}))

	got, err := st.FindByReminderMessage(ctx, -100, 10)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = st.FindByReminderMessage(ctx, -999, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	// Same message id in different chats resolves by the effective verification chat.
	got, err = st.FindByVerificationMessage(ctx, -100, 11)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	got, err = st.FindByVerificationMessage(ctx, -300, 11)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	got, err = st.FindByOwnerChore(ctx, 2, "mop")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	_, err = st.FindByOwnerChore(ctx, 1, "mop")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	st := openMem(t)
	assert.NoError(t, st.AppendAudit(context.Background(), AuditEntry{
		ReminderID: 1, ActorID: 2, ChatID: 3, Action: "confirm", OK: true, TookMS: 4,
	}))
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}
