package dash

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadcast/internal/storage"
)

// historyView lists persisted runs from test_history replies. Enter
// hands the selected run's plan back to the form.
type historyView struct {
	table   table.Model
	records []storage.RunRecord

	// selected is set when the user picks a run to replay; the app
	// consumes and clears it.
	selected *storage.RunRecord

	width  int
	height int
}

func newHistoryView() historyView {
	columns := []table.Column{
		{Title: "Started", Width: 19},
		{Title: "Outcome", Width: 10},
		{Title: "Target", Width: 36},
		{Title: "Users", Width: 6},
		{Title: "Reqs", Width: 8},
		{Title: "Err %", Width: 7},
		{Title: "P99 (ms)", Width: 9},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorPrimary)
	s.Selected = s.Selected.
		Foreground(colorBg).
		Background(colorPrimary).
		Bold(true)
	t.SetStyles(s)

	return historyView{table: t}
}

func (m *historyView) setRecords(records []storage.RunRecord) {
	m.records = records
	rows := make([]table.Row, len(records))
	for i, rec := range records {
		target := ""
		if len(rec.Plan.Targets) > 0 {
			target = rec.Plan.Targets[0]
			if len(rec.Plan.Targets) > 1 {
				target = fmt.Sprintf("%s (+%d)", target, len(rec.Plan.Targets)-1)
			}
		}
		rows[i] = table.Row{
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			rec.Outcome,
			target,
			fmt.Sprintf("%d", rec.Plan.ConcurrentUsers),
			fmt.Sprintf("%d", rec.Summary.TotalRequests),
			fmt.Sprintf("%.1f", rec.Summary.ErrorRate),
			fmt.Sprintf("%.1f", rec.Summary.Percentiles.P99),
		}
	}
	m.table.SetRows(rows)
}

func (m historyView) Update(msg tea.Msg) (historyView, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width - 4)
		m.table.SetHeight(msg.Height - 6)

	case tea.KeyMsg:
		if msg.String() == "enter" {
			idx := m.table.Cursor()
			if idx >= 0 && idx < len(m.records) {
				rec := m.records[idx]
				m.selected = &rec
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m historyView) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("📜 Past Runs"))
	s.WriteString("\n\n")

	if len(m.table.Rows()) == 0 {
		s.WriteString(subtleStyle.Render("No history yet.\nRun a test to generate data."))
	} else {
		s.WriteString(boxStyle.Render(m.table.View()))
	}
	s.WriteString("\n\n")
	s.WriteString(subtleStyle.Render("[Enter] Replay plan   [Ctrl+H] Refresh"))
	return s.String()
}
