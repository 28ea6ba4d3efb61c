package dash

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadcast/internal/metrics"
)

// liveView renders the current snapshot. Progress is only drawn when
// this client launched the run and therefore knows its duration.
type liveView struct {
	snap    metrics.Snapshot
	running bool

	progress progress.Model
	viewport viewport.Model
	rpsSpark sparkline
	p99Spark sparkline

	startTime time.Time
	duration  time.Duration

	width  int
	height int
}

func newLiveView() liveView {
	prog := progress.New(
		progress.WithGradient("#7D56F4", "#04B575"),
		progress.WithoutPercentage(),
	)
	return liveView{
		progress: prog,
		viewport: viewport.New(80, 24),
		rpsSpark: newSparkline(40, "Throughput (req/s)", valueStyle),
		p99Spark: newSparkline(40, "P99 latency (ms)", warnStyle),
	}
}

// trackRun arms the progress bar for a run this client started.
func (m *liveView) trackRun(total time.Duration) {
	m.startTime = time.Now()
	m.duration = total
	m.running = true
	m.rpsSpark.data = m.rpsSpark.data[:0]
	m.p99Spark.data = m.p99Spark.data[:0]
}

func (m liveView) Update(msg tea.Msg) (liveView, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case MetricsMsg:
		m.snap = metrics.Snapshot(msg)
		m.rpsSpark.add(m.snap.Throughput)
		m.p99Spark.add(m.snap.Percentiles.P99)

		if m.duration > 0 {
			pct := float64(time.Since(m.startTime)) / float64(m.duration)
			if pct > 1.0 {
				pct = 1.0
			}
			cmds = append(cmds, m.progress.SetPercent(pct))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 10
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 2
		w := (msg.Width - 12) / 2
		if w > 10 {
			m.rpsSpark.setWidth(w)
			m.p99Spark.setWidth(w)
		}

	case progress.FrameMsg:
		updated, cmd := m.progress.Update(msg)
		if p, ok := updated.(progress.Model); ok {
			m.progress = p
		}
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m liveView) View() string {
	var s strings.Builder

	state := subtleStyle.Render("[idle]")
	if m.running {
		state = valueStyle.Render("[running]")
	}
	header := titleStyle.Render("⚡ Live Metrics") + "  " + state
	if m.duration > 0 && m.running {
		elapsed := time.Since(m.startTime).Round(time.Second)
		header += subtleStyle.Render(fmt.Sprintf("  %s / %s", elapsed, m.duration))
	}
	s.WriteString(header)
	s.WriteString("\n\n")

	if m.duration > 0 {
		s.WriteString(m.progress.View())
		s.WriteString("\n\n")
	}

	snap := m.snap
	errColor := textStyle
	if snap.FailedRequests > 0 {
		errColor = errorStyle
	}
	row1 := lipgloss.JoinHorizontal(lipgloss.Top,
		makeCard("Requests", valueStyle.Render(fmt.Sprintf("%d", snap.TotalRequests))),
		makeCard("Throughput", valueStyle.Render(fmt.Sprintf("%.1f/s", snap.Throughput))),
		makeCard("Errors", errColor.Render(fmt.Sprintf("%d", snap.FailedRequests))),
		makeCard("Error Rate", errColor.Render(fmt.Sprintf("%.1f%%", snap.ErrorRate))),
	)
	s.WriteString(row1)
	s.WriteString("\n")

	row2 := lipgloss.JoinHorizontal(lipgloss.Top,
		makeCard("P50", textStyle.Render(fmt.Sprintf("%.1f ms", snap.Percentiles.P50))),
		makeCard("P90", textStyle.Render(fmt.Sprintf("%.1f ms", snap.Percentiles.P90))),
		makeCard("P95", warnStyle.Render(fmt.Sprintf("%.1f ms", snap.Percentiles.P95))),
		makeCard("P99", errorStyle.Render(fmt.Sprintf("%.1f ms", snap.Percentiles.P99))),
	)
	s.WriteString(row2)
	s.WriteString("\n")

	row3 := lipgloss.JoinHorizontal(lipgloss.Top,
		makeCard("Memory", textStyle.Render(fmt.Sprintf("%.0f MB", snap.AvgMemory))),
		makeCard("CPU", textStyle.Render(fmt.Sprintf("%.1f%%", snap.AvgCPU))),
		makeCard("Duration", textStyle.Render(fmt.Sprintf("%.0fs", snap.Duration))),
	)
	s.WriteString(row3)
	s.WriteString("\n\n")

	sparks := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().MarginRight(4).Render(m.rpsSpark.view()),
		m.p99Spark.view(),
	)
	s.WriteString(sparks)
	s.WriteString("\n")

	if len(snap.StatusCodes) > 0 {
		s.WriteString("\n")
		s.WriteString(subtleStyle.Render("Response Breakdown"))
		s.WriteString("\n")
		s.WriteString(renderCodeBars(snap.StatusCodes))
	}

	if len(snap.ErrorCounts) > 0 {
		s.WriteString("\n")
		s.WriteString(subtleStyle.Render("Error Details"))
		s.WriteString("\n")
		var errs []string
		for e := range snap.ErrorCounts {
			errs = append(errs, e)
		}
		sort.Strings(errs)
		for _, e := range errs {
			disp := e
			if len(disp) > 60 {
				disp = disp[:57] + "..."
			}
			s.WriteString(fmt.Sprintf("%s %s\n", errorStyle.Render(fmt.Sprintf("%d x", snap.ErrorCounts[e])), disp))
		}
	}

	m.viewport.SetContent(s.String())
	return m.viewport.View()
}

func renderCodeBars(statusCodes map[int]int64) string {
	var codes []int
	for c := range statusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)

	var maxCount int64
	for _, c := range statusCodes {
		if c > maxCount {
			maxCount = c
		}
	}

	const barWidth = 30
	var b strings.Builder
	for _, c := range codes {
		count := statusCodes[c]
		w := 0
		if maxCount > 0 {
			w = int(float64(count) / float64(maxCount) * barWidth)
		}

		codeStr := fmt.Sprintf("%d", c)
		if c == 0 {
			codeStr = "ERR"
		}
		color := valueStyle
		if c == 0 || c >= 500 {
			color = errorStyle
		} else if c >= 400 {
			color = warnStyle
		}

		fmt.Fprintf(&b, "%3s : %s %d\n", codeStr, color.Render(strings.Repeat("█", w)), count)
	}
	return b.String()
}
