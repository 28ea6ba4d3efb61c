package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadcast/internal/broadcast"
	"loadcast/internal/metrics"
	"loadcast/internal/plan"
)

func TestRendererStatusLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, 10*time.Second)

	err := r.Send(broadcast.Message{
		Type: broadcast.TypeMetrics,
		Data: metrics.Snapshot{TotalRequests: 120, FailedRequests: 6, Throughput: 24.5},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\r"))
	assert.Contains(t, out, "RPS: 24.5")
	assert.Contains(t, out, "OK: 114")
	assert.Contains(t, out, "Err: 6")
}

func TestRendererNotificationOwnLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, time.Second)

	err := r.Send(broadcast.Message{
		Type: broadcast.TypeNotification,
		Data: broadcast.Notification{Level: "warning", Message: "circuit opened for http://api.test"},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[warning] circuit opened for http://api.test")
}

func TestRendererIgnoresUnknownPayload(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, time.Second)

	require.NoError(t, r.Send(broadcast.Message{Type: broadcast.TypeMetrics, Data: "not a snapshot"}))
	assert.Empty(t, buf.String())
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	p := &plan.TestPlan{
		ConcurrentUsers: 25,
		DurationSeconds: 30,
		RampUpSeconds:   5,
		RequestTimeout:  10 * time.Second,
		Targets: []plan.Target{
			{Method: "GET", URITemplate: "http://api.test/users"},
			{Method: "POST", URITemplate: "http://api.test/orders"},
		},
	}
	PrintHeader(&buf, p)

	out := buf.String()
	assert.Contains(t, out, "GET http://api.test/users")
	assert.Contains(t, out, "POST http://api.test/orders")
	assert.Contains(t, out, "Users      : 25")
	assert.Contains(t, out, "Duration   : 30s (ramp-up 5s)")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	snap := metrics.Snapshot{
		TotalRequests:  1000,
		FailedRequests: 50,
		Throughput:     98.7,
		ErrorRate:      5,
		Duration:       10.1,
		Percentiles:    metrics.PercentileSet{P50: 12, P90: 40, P95: 55, P99: 120},
		MaxResponseMs:  310,
		StatusCodes:    map[int]int64{200: 950, 503: 50},
		ErrorCounts:    map[string]int64{"503 Service Unavailable": 50},
		AvgMemory:      80.5,
		MaxMemory:      110,
		AvgCPU:         12,
		MaxCPU:         31,
	}
	PrintSummary(&buf, snap)

	out := buf.String()
	assert.Contains(t, out, "Requests Sent  : 1000")
	assert.Contains(t, out, "Failures       : 50 (5.0%)")
	assert.Contains(t, out, "P99 : 120.00")
	assert.Contains(t, out, "950 x 200")
	assert.Contains(t, out, "50 x 503")
	assert.Contains(t, out, "50 x 503 Service Unavailable")
	assert.Contains(t, out, "max 110.0 MB")
}
