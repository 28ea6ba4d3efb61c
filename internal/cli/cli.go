// Package cli renders a headless run: a banner, one live status line
// redrawn in place, and the final results table.
package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loadcast/internal/broadcast"
	"loadcast/internal/metrics"
	"loadcast/internal/plan"
)

const separator = "======================================================================"

// Renderer is a broadcast subscriber that redraws a single status line
// per metrics message. Notifications print on their own lines.
type Renderer struct {
	id    string
	start time.Time
	total time.Duration

	mu  sync.Mutex
	out io.Writer
}

func NewRenderer(out io.Writer, total time.Duration) *Renderer {
	return &Renderer{
		id:    uuid.New().String(),
		start: time.Now(),
		total: total,
		out:   out,
	}
}

func (r *Renderer) ID() string { return r.id }

// Send never fails; a terminal cannot fall behind the feed.
func (r *Renderer) Send(msg broadcast.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case broadcast.TypeMetrics:
		if snap, ok := msg.Data.(metrics.Snapshot); ok {
			r.statusLine(snap)
		}
	case broadcast.TypeNotification:
		if note, ok := msg.Data.(broadcast.Notification); ok {
			fmt.Fprintf(r.out, "\n[%s] %s\n", note.Level, note.Message)
		}
	}
	return nil
}

func (r *Renderer) statusLine(snap metrics.Snapshot) {
	elapsed := time.Since(r.start)
	pct := 1.0
	if r.total > 0 {
		pct = elapsed.Seconds() / r.total.Seconds()
		if pct > 1.0 {
			pct = 1.0
		}
	}

	ok := snap.TotalRequests - snap.FailedRequests
	fmt.Fprintf(r.out, "\r%s %3.0f%% | %s/%s | RPS: %.1f | OK: %d | Err: %d",
		progressBar(pct, 20), pct*100,
		elapsed.Round(time.Second), r.total,
		snap.Throughput,
		ok,
		snap.FailedRequests,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintHeader announces the plan before dispatch starts.
func PrintHeader(out io.Writer, p *plan.TestPlan) {
	fmt.Fprintf(out, "\n🚀 STARTING LOADCAST RUN\n")
	fmt.Fprintln(out, separator)
	for _, target := range p.Targets {
		fmt.Fprintf(out, "Target     : %s %s\n", target.Method, target.URITemplate)
	}
	fmt.Fprintf(out, "Users      : %d\n", p.ConcurrentUsers)
	if p.Iterations > 0 {
		fmt.Fprintf(out, "Iterations : %d per user per target\n", p.Iterations)
	}
	fmt.Fprintf(out, "Duration   : %ds (ramp-up %ds)\n", p.DurationSeconds, p.RampUpSeconds)
	fmt.Fprintf(out, "Timeout    : %s\n", p.RequestTimeout)
	fmt.Fprintln(out, separator)
	fmt.Fprintln(out)
}

// PrintSummary renders the final snapshot as the results table.
func PrintSummary(out io.Writer, snap metrics.Snapshot) {
	ok := snap.TotalRequests - snap.FailedRequests

	fmt.Fprintf(out, "\n\n📊 RESULTS\n")
	fmt.Fprintln(out, separator)
	fmt.Fprintf(out, "Duration       : %.1fs\n", snap.Duration)
	fmt.Fprintf(out, "Requests Sent  : %d\n", snap.TotalRequests)
	fmt.Fprintf(out, "Success        : %d\n", ok)
	fmt.Fprintf(out, "Failures       : %d (%.1f%%)\n", snap.FailedRequests, snap.ErrorRate)
	fmt.Fprintf(out, "Throughput     : %.2f req/s\n", snap.Throughput)
	fmt.Fprintf(out, "\n⏱️  RESPONSE TIMES (ms)\n")
	fmt.Fprintf(out, "   P50 : %.2f\n", snap.Percentiles.P50)
	fmt.Fprintf(out, "   P90 : %.2f\n", snap.Percentiles.P90)
	fmt.Fprintf(out, "   P95 : %.2f\n", snap.Percentiles.P95)
	fmt.Fprintf(out, "   P99 : %.2f\n", snap.Percentiles.P99)
	fmt.Fprintf(out, "   Max : %.2f\n", snap.MaxResponseMs)

	if len(snap.StatusCodes) > 0 {
		fmt.Fprintf(out, "\n📦 STATUS CODES\n")
		for _, code := range sortedCodes(snap.StatusCodes) {
			fmt.Fprintf(out, "   %d x %d\n", snap.StatusCodes[code], code)
		}
	}
	if len(snap.ErrorCounts) > 0 {
		fmt.Fprintf(out, "\n❌ FAILURE SUMMARY\n")
		for errStr, count := range snap.ErrorCounts {
			fmt.Fprintf(out, "   %d x %s\n", count, errStr)
		}
	}
	if snap.MaxMemory > 0 {
		fmt.Fprintf(out, "\n🧠 ENGINE RESOURCES\n")
		fmt.Fprintf(out, "   Memory : avg %.1f MB, max %.1f MB\n", snap.AvgMemory, snap.MaxMemory)
		fmt.Fprintf(out, "   CPU    : avg %.1f%%, max %.1f%%\n", snap.AvgCPU, snap.MaxCPU)
	}
	fmt.Fprintln(out, separator)
}

func sortedCodes(codes map[int]int64) []int {
	out := make([]int, 0, len(codes))
	for code := range codes {
		out = append(out, code)
	}
	sort.Ints(out)
	return out
}
