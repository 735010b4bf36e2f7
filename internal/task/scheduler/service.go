package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "chorebot/pkg/logx"
)

func New(cfg Config, runner Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		runner:      runner,
		jobs:        map[Key]*onceJob{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// SetHandler installs the function fired jobs are dispatched to.
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Location is the scheduler timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply takes the new config. A timezone change rebuilds the cron; running
// interval jobs of the old one finish after s.mu is released.
func (s *Service) Apply(cfg Config) {
	var drained <-chan struct{}
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.loc = s.loadLocationLocked()
		if s.c != nil {
			drained = s.restartCronLocked()
		}
	}
	s.mu.Unlock()

	if drained != nil {
		<-drained
	}
}

// Start starts interval triggering and arms every pending one-shot job.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for i := range s.defs {
		s.addIntervalLocked(&s.defs[i])
	}
	s.c.Start()

	s.tmu.Lock()
	for key, j := range s.jobs {
		s.armLocked(key, j)
	}
	n := len(s.jobs)
	s.tmu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", n), logx.Int("intervals", len(s.defs)))
}

// Stop stops triggering. Pending job definitions remain and are re-armed by
// the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// restartCronLocked swaps in a cron for the current location and returns
// the old one's drain channel. Do not wait on it while holding s.mu.
func (s *Service) restartCronLocked() <-chan struct{} {
	drained := s.c.Stop().Done()
	s.c = cron.New(cron.WithLocation(s.loc))
	for i := range s.defs {
		s.addIntervalLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("intervals", len(s.defs)))
	return drained
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
