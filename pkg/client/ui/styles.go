// Package ui holds the console front-ends of the BGS client: a readline
// prompt with styled output, and a full-screen bubbletea view.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ackStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	notificationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	noticeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	echoStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle        = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("62")).
				Padding(0, 1)
)

// styleLine colors a display line by its leading keyword.
func styleLine(line string) string {
	word, _, _ := strings.Cut(line, " ")
	switch word {
	case "ACK":
		return ackStyle.Render(line)
	case "ERROR":
		return errorStyle.Render(line)
	case "NOTIFICATION":
		return notificationStyle.Render(line)
	case "Rejected:", "Disconnected.":
		return noticeStyle.Render(line)
	default:
		return line
	}
}
