// Package ui renders the headless client's terminal output.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary   = lipgloss.Color("#22d3ee")
	Secondary = lipgloss.Color("#7C3AED")
	Success   = lipgloss.Color("#10B981")
	Warning   = lipgloss.Color("#F59E0B")
	Error     = lipgloss.Color("#EF4444")
	Muted     = lipgloss.Color("#6B7280")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	ChatNameStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	tableCellStyle = lipgloss.NewStyle().Padding(0, 1)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(Primary).
				Align(lipgloss.Center)

	TableRowStyle = tableCellStyle.Foreground(lipgloss.Color("255"))

	TableRowAltStyle = tableCellStyle.Foreground(lipgloss.Color("245"))
)

const (
	IconError   = "❌"
	IconWarning = "⚠️"
	IconInfo    = "ℹ️"
	IconPeer    = "👤"
	IconMic     = "🎤"
	IconMuted   = "🔇"
	IconScreen  = "🖥️"
)

func PrintError(msg string) {
	fmt.Printf("%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintInfo(msg string) {
	fmt.Printf("%s %s\n", IconInfo, msg)
}
