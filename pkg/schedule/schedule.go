package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"qhy5-indi/pkg/utils"
)

// Job is one iteration; n counts from 1.
type Job func(ctx context.Context, n int) error

type Scheduler struct {
	interval time.Duration
	count    int
	logger   *zap.SugaredLogger
}

// New returns a scheduler running count iterations (0 = until the context
// ends) spaced by interval. Iterations are started interval apart; one that
// overruns delays the next instead of overlapping it.
func New(interval time.Duration, count int) *Scheduler {
	return &Scheduler{
		interval: interval,
		count:    count,
		logger:   utils.GetLogger().Named("schedule"),
	}
}

// Run calls job immediately and then on every tick. It returns nil when the
// count is reached or ctx is cancelled, and the first job error otherwise.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if s.count == 0 && s.interval <= 0 {
		return fmt.Errorf("schedule: endless run needs an interval")
	}
	var t *time.Ticker
	if s.interval > 0 {
		t = time.NewTicker(s.interval)
		defer t.Stop()
	}

	for n := 1; s.count == 0 || n <= s.count; n++ {
		start := time.Now()
		s.logger.Debugf("starting run %d", n)
		if err := job(ctx, n); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("stopped")
				return nil
			}
			return err
		}
		s.logger.Infof("run %d took %s", n, time.Since(start))

		if s.count != 0 && n == s.count {
			break
		}
		if t == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			s.logger.Info("stopped")
			return nil
		}
	}

	return nil
}

func Run(ctx context.Context, interval time.Duration, count int, job Job) error {
	return New(interval, count).Run(ctx, job)
}
