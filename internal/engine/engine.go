// Package engine owns run lifecycle: one active run at a time, composed
// from run-scoped parts (breaker registry, collector, sampler, event log,
// scheduler) over long-lived ones (store, broadcaster, telemetry).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loadcast/internal/breaker"
	"loadcast/internal/broadcast"
	"loadcast/internal/eventlog"
	"loadcast/internal/metrics"
	"loadcast/internal/plan"
	"loadcast/internal/retry"
	"loadcast/internal/sampler"
	"loadcast/internal/sched"
	"loadcast/internal/storage"
	"loadcast/internal/telemetry"
)

var (
	ErrRunActive = errors.New("a run is already active")
	ErrNoRun     = errors.New("no active run")
)

type Config struct {
	Logger    *zap.Logger
	Telemetry *telemetry.Metrics
	Store     *storage.Store // nil disables history
	EventRoot string         // "" disables event logs

	BreakerConfig breaker.Config
	RetryPolicy   retry.Policy
	Strategy      sched.Strategy

	SampleInterval    time.Duration
	ResourceSource    sampler.SourceFunc
	BroadcastInterval time.Duration
}

type Engine struct {
	cfg    Config
	logger *zap.Logger
	tel    *telemetry.Metrics
	store  *storage.Store
	bcast  *broadcast.Broadcaster

	mu      sync.Mutex
	current *Run
	last    *metrics.Snapshot
}

// Run is one live (or launching) test run.
type Run struct {
	ID        string
	StartedAt time.Time

	plan      *plan.TestPlan
	collector *metrics.Collector
	breakers  *breaker.Registry
	cancel    context.CancelFunc
	done      chan struct{}
}

// Done closes when the run has fully drained and been persisted.
func (r *Run) Done() <-chan struct{} { return r.done }

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
		tel:    cfg.Telemetry,
		store:  cfg.Store,
	}
	e.bcast = broadcast.New(e, cfg.BroadcastInterval, cfg.Logger.Named("broadcast"), cfg.Telemetry)
	return e
}

// Broadcaster is the live feed fed by this engine.
func (e *Engine) Broadcaster() *broadcast.Broadcaster { return e.bcast }

// Start validates the plan, primes every virtual user's auth context, and
// launches the run. It returns without blocking; callers wait on
// Run.Done().
func (e *Engine) Start(p *plan.TestPlan) (*Run, error) {
	if p == nil {
		return nil, &plan.ValidationError{Field: "plan", Reason: "is required"}
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		plan:      p,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		cancel()
		return nil, ErrRunActive
	}
	e.current = run
	e.mu.Unlock()

	users, err := e.primeUsers(runCtx, p)
	if err != nil {
		e.clear(run)
		cancel()
		return nil, err
	}

	logger := e.logger.With(zap.String("run_id", run.ID))
	collector := metrics.NewCollector()
	breakers := breaker.NewRegistry(e.cfg.BreakerConfig, logger.Named("breaker"), e.observeBreaker)

	// Published under the lock; Snapshot and Status read them there.
	e.mu.Lock()
	run.collector = collector
	run.breakers = breakers
	e.mu.Unlock()

	var events *eventlog.Log
	if e.cfg.EventRoot != "" {
		events, err = eventlog.Open(e.cfg.EventRoot, run.ID, logger.Named("events"))
		if err != nil {
			e.clear(run)
			cancel()
			return nil, err
		}
	}

	rec := &runRecorder{col: run.collector, events: events}
	exec := sched.NewHTTPExecutor(p, run.breakers, e.cfg.RetryPolicy, logger.Named("exec"))
	scheduler, err := sched.New(sched.Options{
		Plan:      p,
		Users:     users,
		Executor:  exec,
		Recorder:  rec,
		Strategy:  e.cfg.Strategy,
		Telemetry: e.tel,
		Logger:    logger.Named("sched"),
	})
	if err != nil {
		if events != nil {
			events.Close()
		}
		e.clear(run)
		cancel()
		return nil, err
	}

	smp := sampler.New(e.cfg.ResourceSource, e.cfg.SampleInterval, rec, logger.Named("sampler"))

	e.bcast.RunStateChanged(true)
	e.bcast.Notify("info", fmt.Sprintf("test started: %d users for %ds", p.ConcurrentUsers, p.DurationSeconds))
	logger.Info("run starting",
		zap.Int("users", p.ConcurrentUsers),
		zap.Int("targets", len(p.Targets)),
		zap.Int("duration_s", p.DurationSeconds),
		zap.Int("ramp_up_s", p.RampUpSeconds))

	go e.execute(runCtx, run, scheduler, smp, events, logger)
	return run, nil
}

// Stop cancels the active run. The run still drains and persists; wait
// on its Done channel for completion.
func (e *Engine) Stop() error {
	e.mu.Lock()
	run := e.current
	e.mu.Unlock()
	if run == nil {
		return ErrNoRun
	}
	run.cancel()
	return nil
}

// Snapshot implements broadcast.Source: the live collector during a run,
// the last finished snapshot between runs.
func (e *Engine) Snapshot() metrics.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.collector != nil {
		return e.current.collector.Snapshot()
	}
	if e.last != nil {
		return *e.last
	}
	return metrics.Snapshot{}
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Status describes the engine for /api/status.
type Status struct {
	Running   bool              `json:"running"`
	RunID     string            `json:"run_id,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	run := e.current
	e.mu.Unlock()

	if run == nil {
		return Status{}
	}
	st := Status{Running: true, RunID: run.ID, StartedAt: run.StartedAt}
	if run.breakers != nil {
		states := run.breakers.States()
		st.Breakers = make(map[string]string, len(states))
		for target, s := range states {
			st.Breakers[target] = s.String()
		}
	}
	return st
}

// History lists persisted runs, newest first.
func (e *Engine) History() ([]storage.RunRecord, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.List()
}

// HistoryRecord fetches one persisted run.
func (e *Engine) HistoryRecord(id string) (*storage.RunRecord, error) {
	if e.store == nil {
		return nil, storage.ErrNotFound
	}
	return e.store.Get(id)
}

// Close stops any active run and shuts the feed down.
func (e *Engine) Close() {
	if err := e.Stop(); err == nil {
		e.mu.Lock()
		run := e.current
		e.mu.Unlock()
		if run != nil {
			<-run.done
		}
	}
	e.bcast.Close()
}

func (e *Engine) primeUsers(ctx context.Context, p *plan.TestPlan) ([]plan.VirtualUser, error) {
	users := p.Users()
	if p.Auth == nil {
		return users, nil
	}
	for i := range users {
		hdr, err := p.Auth(ctx, users[i])
		if err != nil {
			return nil, &plan.AuthError{UserIndex: i, Err: err}
		}
		users[i].AuthContext = hdr
	}
	return users, nil
}

func (e *Engine) observeBreaker(target string, s breaker.State) {
	e.tel.SetBreakerState(target, float64(s))
	if s == breaker.Open {
		e.bcast.Notify("warning", fmt.Sprintf("circuit opened for %s", target))
	}
}

func (e *Engine) clear(run *Run) {
	e.mu.Lock()
	if e.current == run {
		e.current = nil
	}
	e.mu.Unlock()
}

func (e *Engine) execute(ctx context.Context, run *Run, scheduler sched.Scheduler, smp *sampler.Sampler, events *eventlog.Log, logger *zap.Logger) {
	defer close(run.done)

	sctx, stopSampler := context.WithCancel(ctx)
	go smp.Run(sctx)

	snap, err := scheduler.Run(ctx)
	stopSampler()

	outcome := "completed"
	if err != nil {
		outcome = "stopped"
		if !errors.Is(err, context.Canceled) {
			outcome = "failed"
			logger.Error("run failed", zap.Error(err))
		}
	}

	if events != nil {
		if werr := events.WriteSummary(snap); werr != nil {
			logger.Warn("summary write failed", zap.Error(werr))
		}
		if cerr := events.Close(); cerr != nil {
			logger.Warn("event log close failed", zap.Error(cerr))
		}
	}
	if e.store != nil {
		record := storage.RunRecord{
			ID:         run.ID,
			StartedAt:  run.StartedAt,
			FinishedAt: time.Now(),
			Outcome:    outcome,
			Plan:       storage.DigestOf(run.plan),
			Summary:    snap,
		}
		if serr := e.store.Save(record); serr != nil {
			logger.Error("history save failed", zap.Error(serr))
		}
	}
	e.tel.CountRun(outcome)

	e.mu.Lock()
	e.last = &snap
	e.current = nil
	e.mu.Unlock()

	e.bcast.RunStateChanged(false)
	e.bcast.Notify("info", fmt.Sprintf("test %s: %d requests, %.1f%% errors, %.1f req/s",
		outcome, snap.TotalRequests, snap.ErrorRate, snap.Throughput))
	logger.Info("run finished",
		zap.String("outcome", outcome),
		zap.Int64("total", snap.TotalRequests),
		zap.Int64("failed", snap.FailedRequests),
		zap.Float64("throughput", snap.Throughput),
		zap.Float64("error_rate", snap.ErrorRate))
}

// runRecorder fans outcomes into the collector and, when enabled, the
// event log. It is the single Recorder handed to scheduler and sampler.
type runRecorder struct {
	col    *metrics.Collector
	events *eventlog.Log
}

func (r *runRecorder) Record(rec metrics.ResponseRecord) {
	r.col.Record(rec)
	if r.events != nil {
		r.events.Response(rec)
	}
}

func (r *runRecorder) RecordResource(s metrics.ResourceSample) {
	r.col.RecordResource(s)
	if r.events != nil {
		r.events.Resource(s)
	}
}

func (r *runRecorder) Finish() { r.col.Finish() }

func (r *runRecorder) Snapshot() metrics.Snapshot { return r.col.Snapshot() }
