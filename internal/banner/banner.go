package banner

import "github.com/charmbracelet/lipgloss"

var bannerColor = lipgloss.Color("#7D56F4")

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(bannerColor).
		Bold(true)

	ascii := `
    __    ____     ___     ____    ______    ___    _____  ______
   / /   / __ \   /   |   / __ \  / ____/   /   |  / ___/ /_  __/
  / /   / / / /  / /| |  / / / / / /       / /| |  \__ \   / /
 / /___/ /_/ /  / ___ | / /_/ / / /___    / ___ | ___/ /  / /
/_____/\____/  /_/  |_|/_____/  \____/   /_/  |_|/____/  /_/`

	return "\n" + style.Render(ascii) + "\n"
}
