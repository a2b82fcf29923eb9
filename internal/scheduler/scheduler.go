package scheduler

import (
	"context"
	"time"

	"candlecache/internal/logger"
)

// Sleeper waits for d and reports false when ctx ended first.
type Sleeper func(ctx context.Context, d time.Duration) bool

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// PeriodicScheduler sleeps Period before every run of the task, the first
// included, until the context ends.
type PeriodicScheduler struct {
	Name   string
	Period time.Duration

	sleep Sleeper
	nowFn func() time.Time
}

func NewPeriodicScheduler(name string, period time.Duration) *PeriodicScheduler {
	return &PeriodicScheduler{
		Name:   name,
		Period: period,
		sleep:  Sleep,
		nowFn:  time.Now,
	}
}

// WithSleeper swaps the wait function; tests use it to skip real time.
func (s *PeriodicScheduler) WithSleeper(fn Sleeper) *PeriodicScheduler {
	if fn != nil {
		s.sleep = fn
	}
	return s
}

func (s *PeriodicScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if s == nil {
		return
	}
	prefix := "PeriodicScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if s.Period <= 0 {
		logger.Warnf("%s: invalid period=%s, exit", prefix, s.Period)
		return
	}
	if s.sleep == nil {
		s.sleep = Sleep
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started period=%s at=%s", prefix, s.Period, startAt.Format(time.RFC3339))
	for {
		if !s.sleep(ctx, s.Period) {
			logger.Infof("%s: ctx done, exit | uptime=%s", prefix, s.nowFn().UTC().Sub(startAt).Truncate(time.Second))
			return
		}
		task(ctx)
	}
}
