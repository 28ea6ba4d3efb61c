package sched

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loadcast/internal/metrics"
)

// poolBatchCap bounds one batch regardless of plan concurrency.
const poolBatchCap = 100

// poolScheduler consumes the queue in bounded concurrent batches and
// blocks until each batch completes before starting the next.
type poolScheduler struct {
	base
}

func (s *poolScheduler) Run(ctx context.Context) (metrics.Snapshot, error) {
	queue := s.queue()
	start := time.Now()
	deadline := start.Add(s.plan.Duration())

	batch := s.plan.ConcurrentUsers
	if batch > poolBatchCap {
		batch = poolBatchCap
	}

	s.log.Info("run started",
		zap.String("strategy", StrategyPool.String()),
		zap.Int("queue", len(queue)),
		zap.Int("batch", batch),
		zap.Duration("duration", s.plan.Duration()),
		zap.Duration("ramp_up", s.plan.RampUp()))

	var next int
	for next < len(queue) {
		if ctx.Err() != nil {
			break
		}
		if !time.Now().Before(deadline) {
			break
		}

		end := next + batch
		if end > len(queue) {
			end = len(queue)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, item := range queue[next:end] {
			s.enter()
			g.Go(func() error {
				defer s.leave()
				s.dispatch(gctx, item)
				return nil
			})
		}
		_ = g.Wait()
		size := end - next
		next = end

		if next == len(queue) {
			break
		}
		// The ramp gap applies between batches, scaled by how many items
		// the batch carried.
		if gap := s.rampDelay(start, time.Now()); gap > 0 {
			pause := gap * time.Duration(size)
			select {
			case <-ctx.Done():
			case <-time.After(pause):
			}
		}
	}

	return s.finish(start, next), ctx.Err()
}
