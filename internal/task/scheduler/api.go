package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"chorebot/internal/task/engine"
	logx "chorebot/pkg/logx"
)

// Schedule registers a one-shot job for key at the given time, replacing any
// job already registered under key. A time in the past fires immediately.
func (s *Service) Schedule(key Key, at time.Time) error {
	if key.Kind != JobReminder && key.Kind != JobFollowup {
		return errors.New("unknown job kind: " + string(key.Kind))
	}
	if at.IsZero() {
		return errors.New("at required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	running := s.c != nil

	s.tmu.Lock()
	if old, ok := s.jobs[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	// A fresh version makes callbacks of any replaced timer stale.
	s.seq++
	j := &onceJob{at: at.In(s.loc), ver: s.seq}
	s.jobs[key] = j
	if running {
		s.armLocked(key, j)
	}
	s.tmu.Unlock()

	s.log.Debug("job scheduled", logx.String("key", key.String()), logx.Time("at", j.at), logx.Bool("armed", running))
	return nil
}

// Cancel removes the job for key. It reports whether a job existed;
// cancelling a missing key is a no-op.
func (s *Service) Cancel(key Key) bool {
	s.tmu.Lock()
	j, ok := s.jobs[key]
	if ok {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.jobs, key)
	}
	s.tmu.Unlock()

	if ok {
		s.log.Debug("job cancelled", logx.String("key", key.String()))
	}
	return ok
}

// Exists reports whether a job is pending for key.
func (s *Service) Exists(key Key) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// NextRun returns the pending fire time for key.
func (s *Service) NextRun(key Key) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

// Pending lists pending one-shot jobs ordered by fire time.
func (s *Service) Pending() []JobInfo {
	s.tmu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for k, j := range s.jobs {
		out = append(out, JobInfo{Key: k, At: j.at})
	}
	s.tmu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].At.Equal(out[b].At) {
			return out[a].Key.String() < out[b].Key.String()
		}
		return out[a].At.Before(out[b].At)
	})
	return out
}

// AddInterval registers (or replaces) a named periodic job.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeIntervalLocked(name)
	s.defs = append(s.defs, intervalDef{name: name, every: every, timeout: timeout, job: job})
	if s.c != nil {
		s.addIntervalLocked(&s.defs[len(s.defs)-1])
	}
	s.log.Debug("interval registered", logx.String("name", name), logx.Duration("every", every))
	return nil
}

// RemoveInterval unregisters a periodic job. It reports whether one existed.
func (s *Service) RemoveInterval(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeIntervalLocked(strings.TrimSpace(name))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.c != nil
	tz := s.loc.String()
	c := s.c
	intervals := make([]IntervalInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := IntervalInfo{Name: d.name, Every: d.every}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		intervals = append(intervals, it)
	}
	s.mu.Unlock()

	snap := Snapshot{Running: running, Timezone: tz, Jobs: s.Pending(), Intervals: intervals}
	if es, ok := s.runner.(interface{ Snapshot() engine.Snapshot }); ok {
		snap.Engine = es.Snapshot()
	}
	return snap
}

// armLocked starts the runtime timer for j. Call with s.mu and s.tmu held.
func (s *Service) armLocked(key Key, j *onceJob) {
	if j.timer != nil {
		j.timer.Stop()
	}
	ver := j.ver
	j.timer = time.AfterFunc(max(time.Until(j.at), 0), func() { s.fire(key, ver) })
}

func (s *Service) fire(key Key, ver uint64) {
	s.tmu.Lock()
	j, ok := s.jobs[key]
	if !ok || j.ver != ver {
		// Cancelled or replaced after the timer was armed.
		s.tmu.Unlock()
		return
	}
	delete(s.jobs, key)
	at := j.at
	s.tmu.Unlock()

	s.mu.Lock()
	h := s.handler
	ctx := s.ctx
	timeout := s.cfg.FireTimeout
	s.mu.Unlock()

	if h == nil || ctx == nil || s.runner == nil {
		s.log.Warn("job fired without handler", logx.String("key", key.String()))
		return
	}
	err := s.runner.Submit(ctx, engine.Task{
		Key:     Lane(key.ReminderID),
		Name:    "job." + string(key.Kind),
		Timeout: timeout,
		Run:     func(c context.Context) error { return h(c, key, at) },
	})
	if err != nil {
		s.reportEnqueueError(key.String(), err)
	}
}

func (s *Service) addIntervalLocked(d *intervalDef) {
	// The run context is bound here; cron jobs never take s.mu, because Apply
	// holds it while the previous cron drains.
	name, timeout, job, ctx := d.name, d.timeout, d.job, s.ctx
	d.entryID = s.c.Schedule(cron.Every(d.every), cron.FuncJob(func() {
		if s.runner == nil || ctx == nil {
			return
		}
		// Interval runs never block the cron goroutine for long.
		c, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := s.runner.Submit(c, engine.Task{Key: "interval:" + name, Name: name, Timeout: timeout, Run: job}); err != nil {
			s.reportEnqueueError(name, err)
		}
	}))
}

func (s *Service) removeIntervalLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}
