// Package sched dispatches a plan's work queue against its targets. Two
// strategies satisfy one Scheduler contract: a cooperative single-loop
// dispatcher and a bounded worker pool.
package sched

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"loadcast/internal/metrics"
	"loadcast/internal/plan"
	"loadcast/internal/telemetry"
)

// Strategy selects the dispatch implementation. The set is closed;
// config strings resolve once through ParseStrategy.
type Strategy int

const (
	// StrategyLoop is the cooperative single-loop dispatcher: one
	// goroutine owns pacing and the queue, attempts run in short-lived
	// goroutines. Default.
	StrategyLoop Strategy = iota
	// StrategyPool consumes the queue in bounded concurrent batches and
	// blocks between batches.
	StrategyPool
)

func (s Strategy) String() string {
	switch s {
	case StrategyLoop:
		return "loop"
	case StrategyPool:
		return "pool"
	default:
		return "unknown"
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "loop":
		return StrategyLoop, nil
	case "pool":
		return StrategyPool, nil
	default:
		return StrategyLoop, fmt.Errorf("unknown strategy %q", s)
	}
}

// Executor runs one work item to completion, retries and breaker
// accounting included, and always comes back with a record. Failures are
// data, never panics or scheduler-fatal errors.
type Executor interface {
	Execute(ctx context.Context, item plan.WorkItem, seq uint64) metrics.ResponseRecord
}

// Recorder aggregates outcomes. *metrics.Collector satisfies it.
type Recorder interface {
	Record(metrics.ResponseRecord)
	Finish()
	Snapshot() metrics.Snapshot
}

// Scheduler blocks in Run until the duration elapses or the work queue
// drains, then returns the final snapshot. Cancellation stops dispatch
// and drains in-flight work before returning ctx's error.
type Scheduler interface {
	Run(ctx context.Context) (metrics.Snapshot, error)
}

type Options struct {
	Plan      *plan.TestPlan
	Users     []plan.VirtualUser
	Executor  Executor
	Recorder  Recorder
	Strategy  Strategy
	Telemetry *telemetry.Metrics
	Logger    *zap.Logger

	// Rand shuffles the queue; nil seeds from the clock.
	Rand *rand.Rand
}

// New builds the scheduler for opts.Strategy.
func New(opts Options) (Scheduler, error) {
	if opts.Plan == nil {
		return nil, fmt.Errorf("scheduler requires a plan")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("scheduler requires an executor")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("scheduler requires a recorder")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	users := opts.Users
	if users == nil {
		users = opts.Plan.Users()
	}

	b := base{
		plan:  opts.Plan,
		users: users,
		exec:  opts.Executor,
		rec:   opts.Recorder,
		tel:   opts.Telemetry,
		log:   opts.Logger,
		rng:   opts.Rand,
	}
	switch opts.Strategy {
	case StrategyLoop:
		return &loopScheduler{base: b}, nil
	case StrategyPool:
		return &poolScheduler{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %d", opts.Strategy)
	}
}

// base carries the state and helpers shared by both strategies.
type base struct {
	plan  *plan.TestPlan
	users []plan.VirtualUser
	exec  Executor
	rec   Recorder
	tel   *telemetry.Metrics
	log   *zap.Logger
	rng   *rand.Rand

	seq    atomic.Uint64
	active atomic.Int64
}

func (b *base) queue() []plan.WorkItem {
	return b.plan.QueueFor(b.users, b.rng)
}

func (b *base) enter() {
	n := b.active.Add(1)
	b.tel.SetActiveUsers(float64(n))
}

func (b *base) leave() {
	n := b.active.Add(-1)
	b.tel.SetActiveUsers(float64(n))
}

// dispatch executes one item and records its outcome. Runs inside a
// worker goroutine under the active gate.
func (b *base) dispatch(ctx context.Context, item plan.WorkItem) {
	rec := b.exec.Execute(ctx, item, b.seq.Add(1))
	b.rec.Record(rec)
	b.tel.ObserveRequest(item.Target.Key(), rec.StatusCode, rec.ResponseTimeMs/1000.0)
	if rec.Error != "" {
		b.log.Debug("request failed",
			zap.String("target", item.Target.Key()),
			zap.String("user", rec.UserID),
			zap.Int("status", rec.StatusCode),
			zap.String("error", rec.Error))
	}
}

// rampDelay is the gap to hold before the next dispatch. It starts at
// 1/rate, where rate = users x targets / rampUpSeconds, and decreases
// linearly to zero as the ramp window closes.
func (b *base) rampDelay(start, now time.Time) time.Duration {
	rampUp := b.plan.RampUp()
	if rampUp <= 0 {
		return 0
	}
	elapsed := now.Sub(start)
	if elapsed >= rampUp {
		return 0
	}
	rate := float64(b.plan.ConcurrentUsers*len(b.plan.Targets)) / rampUp.Seconds()
	if rate <= 0 {
		return 0
	}
	initial := float64(time.Second) / rate
	remaining := 1 - float64(elapsed)/float64(rampUp)
	return time.Duration(initial * remaining)
}

// finish freezes the collector and hands back the final snapshot.
func (b *base) finish(start time.Time, dispatched int) metrics.Snapshot {
	b.tel.SetActiveUsers(0)
	b.rec.Finish()
	snap := b.rec.Snapshot()
	b.log.Info("run drained",
		zap.Int("dispatched", dispatched),
		zap.Int64("recorded", snap.TotalRequests),
		zap.Duration("elapsed", time.Since(start)))
	return snap
}
