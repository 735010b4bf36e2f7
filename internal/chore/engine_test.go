package chore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorebot/internal/storage"
	"chorebot/internal/transport"
)

var (
	up   = transport.MarkerUp
	down = transport.MarkerDown
)

func TestCreateSchedulesNextOccurrence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before time today", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)},
		{"after time today", time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{})
			h.now = tc.now
			r := h.create("dishes", 0)

			assert.True(t, r.NextFireAt.Equal(tc.want), "next=%s", r.NextFireAt)
			at, ok := h.sched.at(reminderKey(r.ID))
			require.True(t, ok)
			assert.True(t, at.Equal(tc.want))
			assert.Equal(t, Idle, StateOf(h.get(r.ID)))
			assert.Contains(t, CreatedText(r, time.UTC), "Daily at 18:00")
		})
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
		msg  string
	}{
		{"bad time", CreateRequest{Chore: "x", Kind: "daily", Time: "25:00"}, "Invalid time format"},
		{"weekly no day", CreateRequest{Chore: "x", Kind: "weekly", Time: "09:00"}, "0 = Monday"},
		{"weekly bad day", CreateRequest{Chore: "x", Kind: "weekly", Time: "09:00", Day: 7, HasDay: true}, "Invalid day number"},
		{"monthly bad day", CreateRequest{Chore: "x", Kind: "monthly", Time: "09:00", Day: 32, HasDay: true}, "day of month (1-31)"},
		{"unknown kind", CreateRequest{Chore: "x", Kind: "yearly", Time: "09:00"}, "daily, weekly or monthly"},
		{"empty chore", CreateRequest{Kind: "daily", Time: "09:00"}, "chore name"},
	}
	for _, tc := range cases {
		_, err := h.eng.Create(ctx, tc.req)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), "%s: err=%v", tc.name, err)
		assert.Contains(t, ve.Msg, tc.msg, tc.name)
	}
	assert.Empty(t, h.sched.Pending())

	h.create("dishes", 0)
	_, err := h.eng.Create(ctx, CreateRequest{OwnerID: owner, ChatID: homeChat, Chore: "dishes", Kind: "daily", Time: "09:00"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists))
}

func TestFireSendsReminderOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)

	msg := h.fireReminder(r.ID)
	assert.Equal(t, homeChat, msg.ref.ChatID)
	assert.Equal(t, []transport.Marker{up, down}, msg.markers)
	assert.Contains(t, msg.text, "@u7 Reminder: Time to do your chore: dishes!")

	got := h.get(r.ID)
	assert.Equal(t, AwaitingSelfReport, StateOf(got))
	assert.Equal(t, int64(msg.ref.MessageID), got.PendingReminderMessageID.Int64)
	assert.True(t, got.LastFiredAt.Valid)

	// A duplicate dispatch for the same time (e.g. after rehydrate) is a no-op.
	require.NoError(t, h.eng.Dispatch(context.Background(), reminderKey(r.ID), r.NextFireAt))
	assert.Equal(t, 1, h.gw.count())
}

func TestStaleReminderJobIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)

	require.NoError(t, h.eng.Dispatch(context.Background(), reminderKey(r.ID), r.NextFireAt.Add(-time.Hour)))
	assert.Equal(t, 0, h.gw.count())
}

func TestSelfReportSendsVerificationPrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{PeerMention: "@peers"})
	r := h.create("dishes", verifyChat)
	msg := h.fireReminder(r.ID)

	h.react(msg, owner, up)

	prompt := h.gw.last()
	assert.Equal(t, verifyChat, prompt.ref.ChatID)
	assert.Equal(t, []transport.Marker{up, down}, prompt.markers)
	assert.True(t, strings.HasPrefix(prompt.text, "✨ Let's verify this completion! @peers"))
	assert.Contains(t, prompt.text, "Has @u7 completed their chore: 'dishes'?")

	got := h.get(r.ID)
	assert.Equal(t, AwaitingPeerVerification, StateOf(got))
	assert.Equal(t, int64(prompt.ref.MessageID), got.PendingVerificationMessageID.Int64)

	// A second 👍 while verification is pending changes nothing.
	h.react(msg, owner, up)
	assert.Equal(t, prompt, h.gw.last())
}

func TestSelfReportIdentityChecks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	sent := h.gw.count()
	ctx := context.Background()

	h.react(msg, stranger, up)
	require.NoError(t, h.eng.HandleReaction(ctx, ReactionEvent{
		ChatID: homeChat, MessageID: msg.ref.MessageID, Marker: up, ReactorID: owner, ReactorIsBot: true,
		MentionedUserIDs: []int64{owner}, AuthorIsSystem: true,
	}))
	require.NoError(t, h.eng.HandleReaction(ctx, ReactionEvent{
		ChatID: homeChat, MessageID: msg.ref.MessageID, Marker: up, ReactorID: owner,
		MentionedUserIDs: []int64{owner}, AuthorIsSystem: false,
	}))
	require.NoError(t, h.eng.HandleReaction(ctx, ReactionEvent{
		ChatID: homeChat, MessageID: msg.ref.MessageID + 50, Marker: up, ReactorID: owner,
		MentionedUserIDs: []int64{owner}, AuthorIsSystem: true,
	}))

	assert.Equal(t, sent, h.gw.count())
	assert.Equal(t, AwaitingSelfReport, StateOf(h.get(r.ID)))
}

func TestPostpone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)

	h.react(msg, owner, down)

	want := h.now.Add(time.Hour)
	got := h.get(r.ID)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.NextFireAt.Equal(want))
	at, ok := h.sched.at(reminderKey(r.ID))
	require.True(t, ok)
	assert.True(t, at.Equal(want))
	assert.Contains(t, h.gw.last().text, "postponed by 1 hour")
	assert.Contains(t, h.gw.last().text, want.Format(TimeLayout))

	// The postponed job fires a fresh reminder.
	h.fireReminder(r.ID)
	assert.Equal(t, AwaitingSelfReport, StateOf(h.get(r.ID)))
	assert.Equal(t, 1, h.get(r.ID).RetryCount)
}

func TestPeerConfirm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, down)
	h.react(msg, owner, up)
	prompt := h.gw.last()
	require.NoError(t, h.sched.Schedule(followupKey(r.ID), h.now.Add(time.Hour)))

	h.react(prompt, peer, up, "Peer")

	got := h.get(r.ID)
	assert.Equal(t, Idle, StateOf(got))
	assert.Zero(t, got.RetryCount)
	assert.False(t, got.PendingReminderMessageID.Valid)
	assert.False(t, got.PendingVerificationMessageID.Valid)
	assert.False(t, got.FollowupAt.Valid)
	want := time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)
	assert.True(t, got.NextFireAt.Equal(want), "next=%s", got.NextFireAt)
	assert.False(t, h.sched.Exists(followupKey(r.ID)))
	at, ok := h.sched.at(reminderKey(r.ID))
	require.True(t, ok)
	assert.True(t, at.Equal(want))

	verified := h.gw.last()
	assert.Equal(t, homeChat, verified.ref.ChatID)
	assert.Contains(t, verified.text, "@u7's task completion has been verified by @u8!")
}

func TestPeerReject(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", verifyChat)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, up)
	prompt := h.gw.last()

	h.react(prompt, peer, down, "peer")

	rejection := h.gw.last()
	assert.Equal(t, homeChat, rejection.ref.ChatID)
	assert.Equal(t, []transport.Marker{up}, rejection.markers)
	assert.Contains(t, rejection.text, "A peer (@u8) has indicated it's not quite complete.")

	want := h.now.Add(time.Hour)
	got := h.get(r.ID)
	assert.Equal(t, AwaitingSelfReport, StateOf(got))
	assert.Equal(t, int64(rejection.ref.MessageID), got.PendingReminderMessageID.Int64)
	assert.True(t, got.NextFireAt.Equal(want))
	require.True(t, got.FollowupAt.Valid)
	assert.True(t, got.FollowupAt.Time.Equal(want))
	at, ok := h.sched.at(followupKey(r.ID))
	require.True(t, ok)
	assert.True(t, at.Equal(want))
	assert.True(t, h.sched.Exists(reminderKey(r.ID)))

	// The rejection message itself accepts a new completion claim.
	h.react(rejection, owner, up)
	assert.Equal(t, AwaitingPeerVerification, StateOf(h.get(r.ID)))
}

func TestFollowupFires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, up)
	h.react(h.gw.last(), peer, down, "peer")

	at := h.sched.take(t, followupKey(r.ID))
	h.now = at
	require.NoError(t, h.eng.Dispatch(context.Background(), followupKey(r.ID), at))

	f := h.gw.last()
	assert.Equal(t, []transport.Marker{up}, f.markers)
	assert.Contains(t, f.text, "just checking in!")
	got := h.get(r.ID)
	assert.False(t, got.FollowupAt.Valid)
	assert.Equal(t, int64(f.ref.MessageID), got.PendingReminderMessageID.Int64)

	// Re-dispatching the consumed follow-up does nothing.
	require.NoError(t, h.eng.Dispatch(context.Background(), followupKey(r.ID), at))
	assert.Equal(t, f, h.gw.last())
}

func TestVerificationMismatchAndRoles(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, up)
	prompt := h.gw.last()
	sent := h.gw.count()
	before := h.get(r.ID)

	// A stale message id, a non-peer and the owner (without allow_self_verify) are all ignored.
	stale := prompt
	stale.ref.MessageID = prompt.ref.MessageID + 100
	h.react(stale, peer, up, "peer")
	h.react(prompt, stranger, up)
	h.react(prompt, owner, up, "peer")
	wrongChat := prompt
	wrongChat.ref.ChatID = verifyChat
	h.react(wrongChat, peer, up, "peer")

	assert.Equal(t, sent, h.gw.count())
	assert.Equal(t, before, h.get(r.ID))
}

func TestAllowSelfVerify(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{AllowSelfVerify: true})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, up)
	h.react(h.gw.last(), owner, up, "peer")
	assert.Equal(t, Idle, StateOf(h.get(r.ID)))
}

func TestTransportFailurePostsNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", verifyChat)
	msg := h.fireReminder(r.ID)

	h.gw.failChat = verifyChat
	h.react(msg, owner, up)
	assert.Equal(t, AwaitingSelfReport, StateOf(h.get(r.ID)))
	notice := h.gw.last()
	assert.Equal(t, homeChat, notice.ref.ChatID)
	assert.True(t, strings.HasPrefix(notice.text, completionFailedText))
	assert.Contains(t, notice.text, "(ref ")

	h.gw.failChat = 0
	h.react(msg, owner, up)
	assert.Equal(t, AwaitingPeerVerification, StateOf(h.get(r.ID)))
}

func TestScheduledSendFailuresPostNotice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reminder not recorded", func(t *testing.T) {
		t.Parallel()
		var fs *flakyStore
		h := newHarnessWithStore(t, Config{}, func(st storage.Store) storage.Store {
			fs = &flakyStore{Store: st}
			return fs
		})
		r := h.create("dishes", 0)

		fs.failing.Store(true)
		h.fireReminder(r.ID)
		require.Equal(t, 2, h.gw.count(), "reminder then notice")
		notice := h.gw.last()
		assert.Equal(t, homeChat, notice.ref.ChatID)
		assert.True(t, strings.HasPrefix(notice.text, reminderFailedText))
		assert.Contains(t, notice.text, "(ref ")

		got := h.get(r.ID)
		assert.False(t, got.PendingReminderMessageID.Valid)
		assert.True(t, needsReminderJob(got))

		// The sweep re-adds the job, and the retry goes through once storage is back.
		fs.failing.Store(false)
		res, err := h.eng.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Added)
		msg := h.fireReminder(r.ID)
		assert.Equal(t, int64(msg.ref.MessageID), h.get(r.ID).PendingReminderMessageID.Int64)
	})

	t.Run("follow-up not delivered", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		r := h.create("dishes", verifyChat)
		msg := h.fireReminder(r.ID)
		h.react(msg, owner, up)
		h.react(h.gw.last(), peer, down, "peer")
		at := h.sched.take(t, followupKey(r.ID))
		before := h.gw.count()

		h.gw.failChat = homeChat
		h.now = at
		require.NoError(t, h.eng.Dispatch(ctx, followupKey(r.ID), at))
		assert.Equal(t, before, h.gw.count(), "notice to the same chat fails too")
		assert.True(t, h.get(r.ID).FollowupAt.Valid, "kept for the next sweep")
	})
}

func TestDeleteCancelsJobsAndLateEventsAreHarmless(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, up)
	prompt := h.gw.last()
	require.NoError(t, h.sched.Schedule(reminderKey(r.ID), h.now.Add(time.Hour)))
	require.NoError(t, h.sched.Schedule(followupKey(r.ID), h.now.Add(time.Hour)))

	require.NoError(t, h.eng.Delete(ctx, owner, "dishes"))
	assert.False(t, h.sched.Exists(reminderKey(r.ID)))
	assert.False(t, h.sched.Exists(followupKey(r.ID)))

	sent := h.gw.count()
	h.react(prompt, peer, up, "peer")
	require.NoError(t, h.eng.Dispatch(ctx, reminderKey(r.ID), r.NextFireAt))
	require.NoError(t, h.eng.Dispatch(ctx, followupKey(r.ID), h.now))
	assert.Equal(t, sent, h.gw.count())

	err := h.eng.Delete(ctx, owner, "dishes")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "No reminder found with name: dishes", UserMessage(err, "fallback"))
}

func TestPause(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()
	r := h.create("dishes", 0)

	got, d, err := h.eng.Pause(ctx, PauseRequest{OwnerID: owner, Chore: "dishes"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
	assert.True(t, got.NextFireAt.Equal(r.NextFireAt.Add(24*time.Hour)))
	at, ok := h.sched.at(reminderKey(r.ID))
	require.True(t, ok)
	assert.True(t, at.Equal(got.NextFireAt))
	assert.Contains(t, PausedText(got, d, time.UTC), "paused for 24 hours")

	// Shifts from the stored time, not from now.
	got, _, err = h.eng.Pause(ctx, PauseRequest{OwnerID: owner, Chore: "dishes", Duration: 2 * time.Hour, HasDuration: true})
	require.NoError(t, err)
	assert.True(t, got.NextFireAt.Equal(r.NextFireAt.Add(26*time.Hour)))

	_, _, err = h.eng.Pause(ctx, PauseRequest{OwnerID: owner, Chore: "dishes", Duration: 0, HasDuration: true})
	assert.Equal(t, "Please specify a positive number of hours to pause.", UserMessage(err, ""))

	_, _, err = h.eng.Pause(ctx, PauseRequest{OwnerID: owner, Chore: "laundry"})
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestRehydrateAndSweep(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	fresh := h.create("fresh", 0)
	fired := h.create("fired", 0)
	h.fireReminder(fired.ID)
	rejected := h.create("rejected", 0)
	msg := h.fireReminder(rejected.ID)
	h.react(msg, owner, up)
	h.react(h.gw.last(), peer, down, "peer")

	// Simulate a restart with an empty job table.
	h.sched = newFakeScheduler()
	h.eng.sched = h.sched

	n, err := h.eng.Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, h.sched.Exists(reminderKey(fresh.ID)))
	assert.False(t, h.sched.Exists(reminderKey(fired.ID)), "delivered reminder must not fire twice")
	assert.True(t, h.sched.Exists(reminderKey(rejected.ID)))
	assert.True(t, h.sched.Exists(followupKey(rejected.ID)))

	h.sched.Cancel(reminderKey(fresh.ID))
	require.NoError(t, h.sched.Schedule(reminderKey(999), h.now))
	res, err := h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Added: 1, Removed: 1}, res)
	assert.True(t, h.sched.Exists(reminderKey(fresh.ID)))
	assert.False(t, h.sched.Exists(reminderKey(999)))

	res, err = h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestOperationsRunOnReminderLane(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	r := h.create("dishes", 0)
	msg := h.fireReminder(r.ID)
	h.react(msg, owner, down)
	require.NoError(t, h.eng.Delete(context.Background(), owner, "dishes"))

	h.run.mu.Lock()
	defer h.run.mu.Unlock()
	require.NotEmpty(t, h.run.lanes)
	for _, l := range h.run.lanes {
		assert.Equal(t, "chore:1", l)
	}
}
