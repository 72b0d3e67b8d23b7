package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#B4BEFE"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#CBA6F7"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#89B4FA"))

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6ADC8"))

	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	criticalStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F38BA8"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6ADC8")).Padding(1, 0)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#585B70")).
			Padding(0, 1)
)

// toneStyle 按占用率级别选择颜色
func toneStyle(tone string) lipgloss.Style {
	switch tone {
	case "critical":
		return criticalStyle
	case "warn":
		return warnStyle
	default:
		return normalStyle
	}
}
