// Package metrics aggregates response and resource samples into running
// counters, bounded series, and on-demand snapshots.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const (
	// rawSeriesLimit bounds a raw series; crossing it triggers the lazy
	// reduction at snapshot time.
	rawSeriesLimit = 1000
	// resourcePointsTarget is the approximate size of a downsampled
	// resource series.
	resourcePointsTarget = 100
)

// Collector is the single shared aggregator for a run. All scheduler
// workers and the resource sampler write into it; the broadcaster reads
// from it through Snapshot.
type Collector struct {
	mu    sync.Mutex
	start time.Time
	end   time.Time // zero while the run is live

	total       int64
	failed      int64
	statusCodes map[int]int64
	errorCounts map[string]int64
	perTarget   map[string]int64

	// Raw response times in ms until reduced; the histogram sees every
	// sample either way.
	responseTimes []float64
	respSummary   *SeriesSummary
	respMin       float64
	respMax       float64
	respSum       float64
	hist          *SafeHistogram

	resources []ResourceSample
	memSum    float64
	memMax    float64
	cpuSum    float64
	cpuMax    float64
	resCount  int64

	now func() time.Time
}

func NewCollector() *Collector {
	c := &Collector{
		statusCodes: make(map[int]int64),
		errorCounts: make(map[string]int64),
		perTarget:   make(map[string]int64),
		hist:        NewSafeHistogram(),
		now:         time.Now,
	}
	c.start = c.now()
	return c
}

// Record ingests one response outcome. Safe for concurrent callers.
func (c *Collector) Record(rec ResponseRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if rec.Failed() {
		c.failed++
	}
	c.statusCodes[rec.StatusCode]++
	if rec.Error != "" {
		c.errorCounts[rec.Error]++
	}
	if rec.TargetURI != "" {
		c.perTarget[rec.TargetURI]++
	}

	rt := rec.ResponseTimeMs
	if rt < 0 {
		rt = 0
	}
	c.respSum += rt
	if c.total == 1 || rt < c.respMin {
		c.respMin = rt
	}
	if rt > c.respMax {
		c.respMax = rt
	}
	_ = c.hist.RecordValue(int64(rt * 1000)) // ms -> us

	if c.respSummary == nil {
		c.responseTimes = append(c.responseTimes, rt)
	}
}

// RecordResource ingests one resource sample.
func (c *Collector) RecordResource(s ResourceSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resources = append(c.resources, s)
	c.resCount++
	c.memSum += s.MemoryMB
	if s.MemoryMB > c.memMax {
		c.memMax = s.MemoryMB
	}
	c.cpuSum += s.CPUPercent
	if s.CPUPercent > c.cpuMax {
		c.cpuMax = s.CPUPercent
	}
}

// Finish freezes the run duration. Snapshots taken afterwards report the
// final elapsed time.
func (c *Collector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.end.IsZero() {
		c.end = c.now()
	}
}

// Snapshot rebuilds the derived view. Series reductions happen here,
// lazily, never on insert.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reduceLocked()

	end := c.end
	if end.IsZero() {
		end = c.now()
	}
	elapsed := end.Sub(c.start).Seconds()

	snap := Snapshot{
		TotalRequests:  c.total,
		FailedRequests: c.failed,
		StatusCodes:    copyIntMap(c.statusCodes),
		ErrorCounts:    copyStringMap(c.errorCounts),
		PerTarget:      copyStringMap(c.perTarget),
		Duration:       elapsed,
		MinResponseMs:  c.respMin,
		MaxResponseMs:  c.respMax,
	}

	if elapsed > 0 {
		snap.Throughput = float64(c.total) / elapsed
	}
	if c.total > 0 {
		snap.ErrorRate = float64(c.failed) / float64(c.total) * 100
		snap.AvgResponseMs = c.respSum / float64(c.total)
	}

	if c.respSummary != nil {
		// The raw series is gone; quantiles come from the histogram,
		// which has seen every sample.
		snap.ResponseSummary = c.respSummary
		snap.Percentiles = PercentileSet{
			P50: float64(c.hist.ValueAtQuantile(50)) / 1000.0,
			P90: float64(c.hist.ValueAtQuantile(90)) / 1000.0,
			P95: float64(c.hist.ValueAtQuantile(95)) / 1000.0,
			P99: float64(c.hist.ValueAtQuantile(99)) / 1000.0,
		}
	} else if len(c.responseTimes) > 0 {
		sorted := append([]float64(nil), c.responseTimes...)
		sort.Float64s(sorted)
		snap.Percentiles = percentilesOf(sorted)
	}

	if c.resCount > 0 {
		snap.AvgMemory = c.memSum / float64(c.resCount)
		snap.MaxMemory = c.memMax
		snap.AvgCPU = c.cpuSum / float64(c.resCount)
		snap.MaxCPU = c.cpuMax
	}
	if len(c.resources) > 0 {
		snap.ResourceSeries = append([]ResourceSample(nil), c.resources...)
	}

	return snap
}

// reduceLocked applies the memory bound. Callers hold the lock.
func (c *Collector) reduceLocked() {
	if c.respSummary == nil && len(c.responseTimes) > rawSeriesLimit {
		sorted := append([]float64(nil), c.responseTimes...)
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		c.respSummary = &SeriesSummary{
			Min:         sorted[0],
			Max:         sorted[len(sorted)-1],
			Avg:         sum / float64(len(sorted)),
			Count:       int64(len(sorted)),
			Percentiles: percentilesOf(sorted),
		}
		c.responseTimes = nil
	}

	if len(c.resources) > rawSeriesLimit {
		stride := (len(c.resources) + resourcePointsTarget - 1) / resourcePointsTarget
		kept := make([]ResourceSample, 0, resourcePointsTarget+1)
		for i := 0; i < len(c.resources); i += stride {
			kept = append(kept, c.resources[i])
		}
		c.resources = kept
	}
}

func copyIntMap(m map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
