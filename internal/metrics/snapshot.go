package metrics

// SeriesSummary replaces a raw response-time series once it exceeds the
// memory bound. The reduction is irreversible for the run.
type SeriesSummary struct {
	Min         float64       `json:"min"`
	Max         float64       `json:"max"`
	Avg         float64       `json:"avg"`
	Count       int64         `json:"count"`
	Percentiles PercentileSet `json:"percentiles"`
}

// Snapshot is the derived, point-in-time read of all aggregated metrics.
// It is rebuilt on demand and never mutated in place. The first block is
// the external contract consumed by report renderers and persistence.
type Snapshot struct {
	TotalRequests  int64         `json:"total_requests"`
	FailedRequests int64         `json:"failed_requests"`
	Throughput     float64       `json:"throughput"`
	ErrorRate      float64       `json:"error_rate"`
	Percentiles    PercentileSet `json:"percentiles"`
	StatusCodes    map[int]int64 `json:"status_codes"`
	AvgMemory      float64       `json:"avg_memory"`
	MaxMemory      float64       `json:"max_memory"`
	AvgCPU         float64       `json:"avg_cpu"`
	MaxCPU         float64       `json:"max_cpu"`
	Duration       float64       `json:"duration"`

	// Additive detail for dashboards and exports.
	MinResponseMs   float64          `json:"min_response_ms,omitempty"`
	MaxResponseMs   float64          `json:"max_response_ms,omitempty"`
	AvgResponseMs   float64          `json:"avg_response_ms,omitempty"`
	ErrorCounts     map[string]int64 `json:"error_counts,omitempty"`
	PerTarget       map[string]int64 `json:"per_target,omitempty"`
	ResourceSeries  []ResourceSample `json:"resource_series,omitempty"`
	ResponseSummary *SeriesSummary   `json:"response_summary,omitempty"`
}
