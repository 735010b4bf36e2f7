package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chorebot/internal/task/engine"
	logx "chorebot/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	// FireTimeout bounds one job run; 0 uses the engine default.
	FireTimeout time.Duration
}

// JobKind distinguishes the two timers a reminder may own.
type JobKind string

const (
	JobReminder JobKind = "reminder"
	JobFollowup JobKind = "followup"
)

// Key identifies one scheduled job. At most one job exists per key.
type Key struct {
	Kind       JobKind
	ReminderID int64
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Kind, k.ReminderID) }

// Lane is the task-engine key all work for one reminder is serialized on.
func Lane(reminderID int64) string { return fmt.Sprintf("chore:%d", reminderID) }

// Handler runs when a job fires. at is the time the job was scheduled for.
type Handler func(ctx context.Context, key Key, at time.Time) error

// Runner accepts fired jobs for execution.
type Runner interface {
	Submit(ctx context.Context, t engine.Task) error
}

type onceJob struct {
	at    time.Time
	ver   uint64
	timer *time.Timer // nil while the scheduler is stopped
}

type intervalDef struct {
	name    string
	every   time.Duration
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	loc     *time.Location
	runner  Runner
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	c      *cron.Cron
	defs   []intervalDef

	// Enqueue error throttling: key is job name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu  sync.Mutex
	jobs map[Key]*onceJob
	seq  uint64
}

// JobInfo describes one pending one-shot job.
type JobInfo struct {
	Key Key
	At  time.Time
}

type IntervalInfo struct {
	Name  string
	Every time.Duration
	Next  time.Time
	Prev  time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Jobs      []JobInfo
	Intervals []IntervalInfo
	Engine    engine.Snapshot
}
