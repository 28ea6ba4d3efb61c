package dash

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("#7D56F4")
	colorSecondary = lipgloss.Color("#04B575")
	colorError     = lipgloss.Color("#FF5F87")
	colorWarning   = lipgloss.Color("#FFAF00")
	colorText      = lipgloss.Color("#FAFAFA")
	colorSubtle    = lipgloss.Color("#767676")
	colorBorder    = lipgloss.Color("#3C3C3C")
	colorBg        = lipgloss.Color("#1A1A1A")
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(colorSubtle)

	textStyle   = lipgloss.NewStyle().Foreground(colorText)
	subtleStyle = lipgloss.NewStyle().Foreground(colorSubtle)
	valueStyle  = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(colorError)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarning)

	keyStyle     = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	keyDescStyle = lipgloss.NewStyle().Foreground(colorSubtle)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			Margin(0, 1)

	tabBase = lipgloss.NewStyle().
		Foreground(colorSubtle).
		Padding(0, 2)

	tabActive = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(colorPrimary).
			Padding(0, 2)

	footerBase = lipgloss.NewStyle().
			Height(1).
			Padding(0, 1)
)

func renderKey(key, desc string) string {
	return lipgloss.JoinHorizontal(lipgloss.Center,
		keyStyle.Render("<"+key+">"),
		" ",
		keyDescStyle.Render(desc),
	)
}

func makeCard(title, value string) string {
	return boxStyle.Width(18).Align(lipgloss.Center).Render(
		subtleStyle.Render(title) + "\n" + value,
	)
}
