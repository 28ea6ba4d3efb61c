package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"loadcast/internal/metrics"
)

// tickInterval is the cooperative loop's scheduling quantum.
const tickInterval = 500 * time.Microsecond

// loopScheduler keeps dispatch decisions on one goroutine. Attempts run
// in short-lived goroutines; the loop only reads the active counter.
type loopScheduler struct {
	base
}

func (s *loopScheduler) Run(ctx context.Context) (metrics.Snapshot, error) {
	queue := s.queue()
	start := time.Now()
	deadline := start.Add(s.plan.Duration())

	s.log.Info("run started",
		zap.String("strategy", StrategyLoop.String()),
		zap.Int("queue", len(queue)),
		zap.Int("concurrency", s.plan.ConcurrentUsers),
		zap.Duration("duration", s.plan.Duration()),
		zap.Duration("ramp_up", s.plan.RampUp()))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var (
		wg           sync.WaitGroup
		next         int
		lastDispatch time.Time
	)

dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case <-ticker.C:
		}

		now := time.Now()
		if !now.Before(deadline) {
			break
		}
		if next >= len(queue) && s.active.Load() == 0 {
			break
		}

		for next < len(queue) && s.active.Load() < int64(s.plan.ConcurrentUsers) {
			if gap := s.rampDelay(start, now); gap > 0 && now.Sub(lastDispatch) < gap {
				break
			}
			item := queue[next]
			next++
			lastDispatch = now
			s.enter()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.leave()
				s.dispatch(ctx, item)
			}()
		}
	}

	// Deadline, drain, or cancel: dispatch has stopped; in-flight
	// attempts finish recording before the snapshot.
	wg.Wait()
	return s.finish(start, next), ctx.Err()
}
