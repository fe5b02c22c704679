package cli

import "github.com/charmbracelet/lipgloss"

// Adaptive colors that work on light and dark terminals.
var (
	colorPurple = lipgloss.AdaptiveColor{Light: "#7B2FBE", Dark: "#B97EFF"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#FF4672"}
	colorDimFg  = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	colorBorder = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPurple)

	runningPillStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(colorGreen).
				Padding(0, 1)

	stoppedPillStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(colorRed).
				Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorDimFg).
			Width(12)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func statusPill(running bool) string {
	if running {
		return runningPillStyle.Render("RUNNING")
	}
	return stoppedPillStyle.Render("STOPPED")
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}
