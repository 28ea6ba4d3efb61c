// Package dash is the terminal dashboard: a websocket client of a
// serve-mode process that composes plans, watches live metrics, and
// browses run history.
package dash

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadcast/internal/plan"
	"loadcast/internal/storage"
)

type viewID int

const (
	viewForm viewID = iota
	viewLive
	viewHistory
)

type clearStatusMsg struct{}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

type Model struct {
	client *Client

	form    formView
	live    liveView
	history historyView

	current   viewID
	menuItems []string

	running   bool
	connected bool
	statusMsg string

	width  int
	height int
}

func NewModel(client *Client, defaults *plan.TestPlan) Model {
	return Model{
		client:    client,
		form:      newFormView(defaults),
		live:      newLiveView(),
		history:   newHistoryView(),
		menuItems: []string{"Compose", "Live", "History"},
		connected: true,
	}
}

// Run drives the dashboard until quit or disconnect.
func Run(client *Client, defaults *plan.TestPlan) error {
	p := tea.NewProgram(NewModel(client, defaults), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.form.Init(), m.client.Wait())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case clearStatusMsg:
		m.statusMsg = ""
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			m.client.Close()
			return m, tea.Quit

		case "ctrl+d":
			m.current = viewLive
			return m, nil

		case "ctrl+h":
			m.current = viewHistory
			return m, m.refreshHistory()

		case "ctrl+right":
			m.current++
			if m.current > viewHistory {
				m.current = viewForm
			}
			return m, nil

		case "ctrl+left":
			m.current--
			if m.current < viewForm {
				m.current = viewHistory
			}
			return m, nil

		case "ctrl+r":
			if m.current == viewForm {
				return m.startRun()
			}
			return m, nil

		case "ctrl+s":
			if err := m.client.StopTest(); err != nil {
				m.statusMsg = "Stop failed: " + err.Error()
			} else {
				m.statusMsg = "Stop requested."
				m.running = false
			}
			return m, clearStatusCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		content := tea.WindowSizeMsg{Width: msg.Width, Height: msg.Height - 7}
		m.live, _ = m.live.Update(content)
		m.history, _ = m.history.Update(content)

	case InitialMsg:
		m.running = msg.Running
		m.live.running = msg.Running
		m.live.snap = msg.Snapshot
		cmds = append(cmds, m.client.Wait())

	case MetricsMsg:
		var cmd tea.Cmd
		m.live, cmd = m.live.Update(msg)
		cmds = append(cmds, cmd, m.client.Wait())

	case NotificationMsg:
		m.statusMsg = fmt.Sprintf("[%s] %s", msg.Level, msg.Message)
		switch {
		case strings.HasPrefix(msg.Message, "test started"):
			m.running = true
			m.live.running = true
		case strings.HasPrefix(msg.Message, "test completed"),
			strings.HasPrefix(msg.Message, "test stopped"),
			strings.HasPrefix(msg.Message, "test failed"):
			m.running = false
			m.live.running = false
		}
		cmds = append(cmds, clearStatusCmd(), m.client.Wait())

	case HistoryMsg:
		m.history.setRecords([]storage.RunRecord(msg))
		cmds = append(cmds, m.client.Wait())

	case DisconnectMsg:
		m.connected = false
		m.statusMsg = "Disconnected: " + msg.Err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	switch m.current {
	case viewForm:
		m.form, cmd = m.form.Update(msg)
	case viewLive:
		m.live, cmd = m.live.Update(msg)
	case viewHistory:
		m.history, cmd = m.history.Update(msg)
		if m.history.selected != nil {
			m.form = newFormView(planFromDigest(m.history.selected.Plan))
			m.history.selected = nil
			m.current = viewForm
			m.statusMsg = "Plan loaded from history."
			cmds = append(cmds, clearStatusCmd())
		}
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) startRun() (tea.Model, tea.Cmd) {
	p, err := m.form.Plan()
	if err != nil {
		m.statusMsg = "Invalid plan: " + err.Error()
		return m, clearStatusCmd()
	}
	if err := m.client.StartTest(p); err != nil {
		m.statusMsg = "Start failed: " + err.Error()
		return m, clearStatusCmd()
	}

	total := time.Duration(p.DurationSeconds+p.RampUpSeconds) * time.Second
	m.live.trackRun(total)
	m.running = true
	m.current = viewLive
	m.statusMsg = "Start requested."
	return m, clearStatusCmd()
}

func (m Model) refreshHistory() tea.Cmd {
	if err := m.client.RequestHistory(); err != nil {
		return func() tea.Msg {
			return NotificationMsg{Level: "error", Message: "history request failed: " + err.Error()}
		}
	}
	return nil
}

func planFromDigest(d storage.PlanDigest) *plan.TestPlan {
	targets := make([]plan.Target, 0, len(d.Targets))
	for _, key := range d.Targets {
		method, uri, found := strings.Cut(key, " ")
		if !found {
			targets = append(targets, plan.Target{URITemplate: key})
			continue
		}
		targets = append(targets, plan.Target{Method: method, URITemplate: uri})
	}
	return &plan.TestPlan{
		ConcurrentUsers: d.ConcurrentUsers,
		DurationSeconds: d.DurationSeconds,
		RampUpSeconds:   d.RampUpSeconds,
		Targets:         targets,
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting..."
	}

	var nav strings.Builder
	for i, item := range m.menuItems {
		if viewID(i) == m.current {
			nav.WriteString(tabActive.Render(item))
		} else {
			nav.WriteString(tabBase.Render(item))
		}
	}
	if !m.connected {
		nav.WriteString(errorStyle.Render("  ● offline"))
	} else if m.running {
		nav.WriteString(valueStyle.Render("  ● running"))
	}
	navBar := footerBase.Width(m.width).Render(nav.String())

	var content string
	switch m.current {
	case viewForm:
		content = m.form.View()
	case viewLive:
		content = m.live.View()
	case viewHistory:
		content = m.history.View()
	}
	panel := panelStyle.Width(m.width - 2).Height(m.height - 6).Render(content)

	keys1 := []string{
		renderKey("Ctrl+<->", "View"),
		renderKey("Ctrl+D", "Live"),
		renderKey("Ctrl+H", "History"),
	}
	keys2 := []string{
		renderKey("Ctrl+R", "Run"),
		renderKey("Ctrl+S", "Stop"),
		renderKey("Ctrl+Q", "Quit"),
	}
	help1 := footerBase.Width(m.width).Render(strings.Join(keys1, "   "))
	help2 := footerBase.Width(m.width).Render(strings.Join(keys2, "   "))
	footer := lipgloss.JoinVertical(lipgloss.Left, help1, help2)

	if m.statusMsg != "" {
		status := boxStyle.BorderForeground(colorPrimary).Render(m.statusMsg)
		return lipgloss.JoinVertical(lipgloss.Left, navBar, panel, status, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, navBar, panel, footer)
}
