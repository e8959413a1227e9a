package tui

import "github.com/charmbracelet/lipgloss"

const sidebarWidth = 28

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	typingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	codeStyle      = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)
	langStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			PaddingRight(1)
	activeItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	itemStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
