// Package sampler polls a resource source on a fixed cadence and feeds
// the samples into the metrics collector.
package sampler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"loadcast/internal/metrics"
)

const DefaultInterval = 5 * time.Second

// SourceFunc produces one resource sample. The sampler never interprets
// the values; callers may plug in container or remote sources.
type SourceFunc func() (metrics.ResourceSample, error)

// Recorder receives the samples. *metrics.Collector satisfies it.
type Recorder interface {
	RecordResource(metrics.ResourceSample)
}

type Sampler struct {
	source   SourceFunc
	interval time.Duration
	rec      Recorder
	logger   *zap.Logger
}

// New builds a sampler. A zero interval uses DefaultInterval; a nil
// source samples the current process.
func New(source SourceFunc, interval time.Duration, rec Recorder, logger *zap.Logger) *Sampler {
	if source == nil {
		source = ProcessSource()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{source: source, interval: interval, rec: rec, logger: logger}
}

// Run samples immediately and then on every tick until ctx is canceled.
// Source errors are logged and skipped; they never end the loop.
func (s *Sampler) Run(ctx context.Context) {
	s.sample()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	sample, err := s.source()
	if err != nil {
		s.logger.Warn("resource sample failed", zap.Error(err))
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	s.rec.RecordResource(sample)
}

// ProcessSource samples the current process: resident memory in MB and
// CPU percent since the previous call.
func ProcessSource() SourceFunc {
	var (
		once sync.Once
		proc *process.Process
		err  error
	)
	return func() (metrics.ResourceSample, error) {
		once.Do(func() {
			proc, err = process.NewProcess(int32(os.Getpid()))
		})
		if err != nil {
			return metrics.ResourceSample{}, fmt.Errorf("attach to process: %w", err)
		}
		mem, merr := proc.MemoryInfo()
		if merr != nil {
			return metrics.ResourceSample{}, fmt.Errorf("read memory info: %w", merr)
		}
		cpu, cerr := proc.Percent(0)
		if cerr != nil {
			return metrics.ResourceSample{}, fmt.Errorf("read cpu percent: %w", cerr)
		}
		return metrics.ResourceSample{
			Timestamp:  time.Now(),
			MemoryMB:   float64(mem.RSS) / 1024.0 / 1024.0,
			CPUPercent: cpu,
		}, nil
	}
}
