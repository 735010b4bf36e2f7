package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorebot/internal/task/engine"
	logx "chorebot/pkg/logx"
)

// inlineRunner runs submitted tasks on the caller's goroutine.
type inlineRunner struct {
	mu    sync.Mutex
	lanes []string
}

func (r *inlineRunner) Submit(ctx context.Context, t engine.Task) error {
	r.mu.Lock()
	r.lanes = append(r.lanes, t.Key)
	r.mu.Unlock()
	return t.Run(ctx)
}

type fired struct {
	key Key
	at  time.Time
}

func newStarted(t *testing.T) (*Service, chan fired) {
	t.Helper()
	ch := make(chan fired, 16)
	s := New(Config{Timezone: "UTC"}, &inlineRunner{}, logx.Nop())
	s.SetHandler(func(_ context.Context, key Key, at time.Time) error {
		ch <- fired{key, at}
		return nil
	})
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, ch
}

func expectFire(t *testing.T, ch <-chan fired) fired {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
		return fired{}
	}
}

func expectQuiet(t *testing.T, ch <-chan fired, d time.Duration) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected fire %s at %s", f.key, f.at)
	case <-time.After(d):
	}
}

func TestReplaceLeavesOneJob(t *testing.T) {
	t.Parallel()
	s, ch := newStarted(t)
	key := Key{Kind: JobReminder, ReminderID: 1}

	require.NoError(t, s.Schedule(key, time.Now().Add(50*time.Millisecond)))
	later := time.Now().Add(150 * time.Millisecond)
	require.NoError(t, s.Schedule(key, later))
	assert.Len(t, s.Pending(), 1)

	f := expectFire(t, ch)
	assert.Equal(t, key, f.key)
	assert.True(t, f.at.Equal(later))
	expectQuiet(t, ch, 200*time.Millisecond)
	assert.False(t, s.Exists(key))
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	s, ch := newStarted(t)
	key := Key{Kind: JobFollowup, ReminderID: 2}

	require.NoError(t, s.Schedule(key, time.Now().Add(50*time.Millisecond)))
	assert.True(t, s.Exists(key))
	assert.True(t, s.Cancel(key))
	assert.False(t, s.Cancel(key))
	assert.False(t, s.Exists(key))
	expectQuiet(t, ch, 150*time.Millisecond)
}

func TestKindsAreIndependent(t *testing.T) {
	t.Parallel()
	s, _ := newStarted(t)
	far := time.Now().Add(time.Hour)

	require.NoError(t, s.Schedule(Key{Kind: JobReminder, ReminderID: 3}, far))
	require.NoError(t, s.Schedule(Key{Kind: JobFollowup, ReminderID: 3}, far))
	assert.Len(t, s.Pending(), 2)

	s.Cancel(Key{Kind: JobFollowup, ReminderID: 3})
	assert.True(t, s.Exists(Key{Kind: JobReminder, ReminderID: 3}))
	at, ok := s.NextRun(Key{Kind: JobReminder, ReminderID: 3})
	assert.True(t, ok)
	assert.True(t, at.Equal(far))
}

func TestPastTimeFiresImmediately(t *testing.T) {
	t.Parallel()
	s, ch := newStarted(t)
	key := Key{Kind: JobReminder, ReminderID: 4}
	require.NoError(t, s.Schedule(key, time.Now().Add(-time.Hour)))
	assert.Equal(t, key, expectFire(t, ch).key)
}

func TestJobsScheduledBeforeStartArmOnStart(t *testing.T) {
	t.Parallel()
	ch := make(chan fired, 4)
	runner := &inlineRunner{}
	s := New(Config{}, runner, logx.Nop())
	s.SetHandler(func(_ context.Context, key Key, at time.Time) error {
		ch <- fired{key, at}
		return nil
	})
	key := Key{Kind: JobReminder, ReminderID: 5}
	require.NoError(t, s.Schedule(key, time.Now().Add(20*time.Millisecond)))
	expectQuiet(t, ch, 80*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.Equal(t, key, expectFire(t, ch).key)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []string{Lane(5)}, runner.lanes)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &inlineRunner{}, logx.Nop())
	assert.Error(t, s.Schedule(Key{Kind: "bogus", ReminderID: 1}, time.Now()))
	assert.Error(t, s.Schedule(Key{Kind: JobReminder, ReminderID: 1}, time.Time{}))
	assert.Error(t, s.AddInterval("", time.Minute, 0, func(context.Context) error { return nil }))
	assert.Error(t, s.AddInterval("sweep", 0, 0, func(context.Context) error { return nil }))
}

func TestIntervalRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on a cron tick")
	}
	t.Parallel()
	s, _ := newStarted(t)
	ran := make(chan struct{}, 4)
	require.NoError(t, s.AddInterval("sweep", time.Second, 0, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("interval did not run")
	}
	assert.True(t, s.RemoveInterval("sweep"))
	assert.False(t, s.RemoveInterval("sweep"))
}

func TestTimezoneReloadWhileIntervalRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on a cron tick")
	}
	t.Parallel()
	s, _ := newStarted(t)
	key := Key{Kind: JobReminder, ReminderID: 7}

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.AddInterval("sweep", time.Second, 0, func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		// A sweep reschedules reminders, which needs the scheduler lock.
		return s.Schedule(key, time.Now().Add(time.Hour))
	}))
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("interval did not run")
	}

	applied := make(chan struct{})
	go func() {
		s.Apply(Config{Timezone: "Europe/Berlin"})
		close(applied)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("Apply blocked behind the running interval")
	}
	assert.Equal(t, "Europe/Berlin", s.Location().String())
	assert.Eventually(t, func() bool { return s.Exists(key) }, time.Second, 10*time.Millisecond)
	assert.True(t, s.RemoveInterval("sweep"))
}
