package dash

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var sparkLevels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// sparkline keeps a scrolling window of samples one cell wide each,
// scaled against the window max.
type sparkline struct {
	data  []float64
	width int
	max   float64
	style lipgloss.Style
	label string
}

func newSparkline(width int, label string, style lipgloss.Style) sparkline {
	return sparkline{
		width: width,
		label: label,
		style: style,
		data:  make([]float64, 0, width),
	}
}

func (s *sparkline) add(v float64) {
	if v < 0 {
		v = 0
	}
	s.data = append(s.data, v)
	if len(s.data) > s.width {
		s.data = s.data[len(s.data)-s.width:]
	}

	s.max = 0
	for _, d := range s.data {
		if d > s.max {
			s.max = d
		}
	}
}

func (s *sparkline) setWidth(w int) {
	s.width = w
	if len(s.data) > w && w > 0 {
		s.data = s.data[len(s.data)-w:]
	}
}

func (s sparkline) view() string {
	if s.width <= 0 {
		return ""
	}

	var graph strings.Builder
	for _, v := range s.data {
		if s.max == 0 {
			graph.WriteString(sparkLevels[0])
			continue
		}
		idx := int(v / s.max * float64(len(sparkLevels)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkLevels) {
			idx = len(sparkLevels) - 1
		}
		graph.WriteString(sparkLevels[idx])
	}
	if pad := s.width - len(s.data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}

	return subtleStyle.Render(s.label) + "\n" + s.style.Render(graph.String())
}
