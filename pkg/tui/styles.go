package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	customerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	agentStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	noticeStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)
