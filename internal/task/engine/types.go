package engine

import (
	"context"
	"time"
)

// Config controls the task execution engine.
type Config struct {
	// Workers is the number of shards. Tasks sharing a Key always land on the
	// same shard and run one at a time in submission order.
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0.
	DefaultTimeout time.Duration

	HistorySize int

	// RetryMax is the default retry count for tasks that set RetryMax < 0.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	return c
}

// Task is a unit of work executed by the engine.
//
// Key selects the serialization lane; tasks for the same reminder use the
// same Key. An empty Key falls back to Name.
type Task struct {
	ID      string
	Key     string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error

	// RetryMax: 0 runs once, >0 retries that many times, <0 uses Config.RetryMax.
	RetryMax int
}

type HistoryItem struct {
	ID         string
	Key        string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Attempts   int
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Event types published on the bus.
const (
	EventStarted  = "task.started"
	EventFinished = "task.finished"
	EventFailed   = "task.failed"
	EventDropped  = "task.dropped"
)

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running   bool
	Workers   int
	QueueLen  int
	QueueCap  int
	InFlight  int
	Dropped   uint64
	Completed uint64
	Failed    uint64

	DefaultTimeout time.Duration
	RetryMax       int

	History []HistoryItem
}
