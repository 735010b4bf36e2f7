package scheduler

import (
	"context"
	"errors"
	"time"

	"chorebot/internal/task/engine"
	logx "chorebot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Shutdown races are expected; missed fires are recovered by the sweep.
	if errors.Is(err, engine.ErrStopping) || errors.Is(err, engine.ErrStopped) || errors.Is(err, context.Canceled) {
		s.log.Debug("job not enqueued during shutdown", logx.String("job", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("job failed to enqueue", logx.String("job", name), logx.Err(err))
}
