package chore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chorebot/internal/eventbus"
	"chorebot/internal/storage"
	"chorebot/internal/task/engine"
	"chorebot/internal/task/scheduler"
	"chorebot/internal/transport"
	logx "chorebot/pkg/logx"
)

type sentMessage struct {
	ref     transport.MessageRef
	text    string
	markers []transport.Marker
}

type fakeGateway struct {
	mu     sync.Mutex
	nextID int
	sent   []sentMessage
	// failChat makes sends to one chat fail.
	failChat int64
}

func (g *fakeGateway) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failChat != 0 && to.ChatID == g.failChat {
		return transport.MessageRef{}, errors.New("gateway down")
	}
	g.nextID++
	ref := transport.MessageRef{ChatID: to.ChatID, MessageID: 1000 + g.nextID}
	g.sent = append(g.sent, sentMessage{ref: ref, text: text})
	return ref, nil
}

func (g *fakeGateway) AddMarkers(_ context.Context, ref transport.MessageRef, markers ...transport.Marker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.sent {
		if g.sent[i].ref == ref {
			g.sent[i].markers = append(g.sent[i].markers, markers...)
			return nil
		}
	}
	return errors.New("unknown message")
}

func (g *fakeGateway) Mention(id int64) string { return fmt.Sprintf("@u%d", id) }

func (g *fakeGateway) last() sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return sentMessage{}
	}
	return g.sent[len(g.sent)-1]
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[scheduler.Key]time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[scheduler.Key]time.Time{}}
}

func (s *fakeScheduler) Schedule(key scheduler.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[key] = at
	return nil
}

func (s *fakeScheduler) Cancel(key scheduler.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	delete(s.jobs, key)
	return ok
}

func (s *fakeScheduler) Exists(key scheduler.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

func (s *fakeScheduler) Pending() []scheduler.JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduler.JobInfo, 0, len(s.jobs))
	for k, at := range s.jobs {
		out = append(out, scheduler.JobInfo{Key: k, At: at})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key.String() < out[b].Key.String() })
	return out
}

func (s *fakeScheduler) at(key scheduler.Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.jobs[key]
	return at, ok
}

// take removes and returns a job as if its timer fired.
func (s *fakeScheduler) take(t *testing.T, key scheduler.Key) time.Time {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.jobs[key]
	require.True(t, ok, "no job %s", key)
	delete(s.jobs, key)
	return at
}

// flakyStore fails Update while failing is set.
type flakyStore struct {
	storage.Store
	failing atomic.Bool
}

func (s *flakyStore) Update(ctx context.Context, id int64, p storage.Patch) error {
	if s.failing.Load() {
		return errors.New("disk I/O error")
	}
	return s.Store.Update(ctx, id, p)
}

// inlineRunner runs tasks synchronously and records their lanes.
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

type harness struct {
	t     *testing.T
	eng   *Engine
	store storage.Store
	gw    *fakeGateway
	sched *fakeScheduler
	run   *inlineRunner
	bus   eventbus.Bus
	now   time.Time
}

const (
	homeChat   int64 = -100
	verifyChat int64 = -200
	owner      int64 = 7
	peer       int64 = 8
	stranger   int64 = 9
)

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithStore(t, cfg, nil)
}

// newHarnessWithStore lets wrap replace the store the engine sees. The
// harness keeps direct access to the underlying one.
func newHarnessWithStore(t *testing.T, cfg Config, wrap func(storage.Store) storage.Store) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	engineStore := st
	if wrap != nil {
		engineStore = wrap(st)
	}

	h := &harness{
		t:     t,
		store: st,
		gw:    &fakeGateway{},
		sched: newFakeScheduler(),
		run:   &inlineRunner{},
		bus:   eventbus.New(),
		now:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	h.eng, err = New(Deps{
		Store:     engineStore,
		Scheduler: h.sched,
		Gateway:   h.gw,
		Runner:    h.run,
		Bus:       h.bus,
		Log:       logx.Nop(),
		Clock:     func() time.Time { return h.now },
		Location:  time.UTC,
		Config:    cfg,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) create(chore string, verify int64) *storage.Reminder {
	h.t.Helper()
	r, err := h.eng.Create(context.Background(), CreateRequest{
		OwnerID: owner, ChatID: homeChat, Chore: chore, Kind: "daily", Time: "18:00", VerifyChatID: verify,
	})
	require.NoError(h.t, err)
	return r
}

func (h *harness) get(id int64) *storage.Reminder {
	h.t.Helper()
	r, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return r
}

// fireReminder advances the clock to the job time and dispatches it.
func (h *harness) fireReminder(id int64) sentMessage {
	h.t.Helper()
	at := h.sched.take(h.t, reminderKey(id))
	if at.After(h.now) {
		h.now = at
	}
	require.NoError(h.t, h.eng.Dispatch(context.Background(), reminderKey(id), at))
	return h.gw.last()
}

func (h *harness) react(msg sentMessage, reactor int64, marker transport.Marker, roles ...string) {
	h.t.Helper()
	require.NoError(h.t, h.eng.HandleReaction(context.Background(), ReactionEvent{
		ChatID:           msg.ref.ChatID,
		MessageID:        msg.ref.MessageID,
		Marker:           marker,
		ReactorID:        reactor,
		ReactorRoles:     roles,
		MentionedUserIDs: []int64{owner},
		AuthorIsSystem:   true,
	}))
}
