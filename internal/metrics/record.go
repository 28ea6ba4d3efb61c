package metrics

import "time"

// ResponseRecord is the immutable outcome of one dispatched work item.
// Status 0 marks attempts that never reached the server (transport
// failure or an open circuit); Error carries the distinction.
type ResponseRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	StatusCode     int       `json:"status_code"`
	SizeBytes      int64     `json:"size_bytes"`
	TargetURI      string    `json:"target_uri"`
	UserID         string    `json:"user_id,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Failed reports whether the record counts against the error rate. The
// success range is [200,300).
func (r ResponseRecord) Failed() bool {
	return r.StatusCode < 200 || r.StatusCode >= 300
}

// ResourceSample is a timestamped memory/CPU observation, independent of
// request traffic.
type ResourceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	MemoryMB   float64   `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
}
