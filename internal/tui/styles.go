package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Accent color for strand branding.
const strandViolet = "#7D56F4"

// STRAND ASCII art (filled block style).
var strandArt = []string{
	"    ███████╗████████╗██████╗  █████╗ ███╗   ██╗██████╗ ",
	"    ██╔════╝╚══██╔══╝██╔══██╗██╔══██╗████╗  ██║██╔══██╗",
	"    ███████╗   ██║   ██████╔╝███████║██╔██╗ ██║██║  ██║",
	"    ╚════██║   ██║   ██╔══██╗██╔══██║██║╚██╗██║██║  ██║",
	"    ███████║   ██║   ██║  ██║██║  ██║██║ ╚████║██████╔╝",
	"    ╚══════╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═══╝╚═════╝ ",
}

// Arrow ASCII art (large ">" shape) shown beside the wordmark.
var arrowArt = []string{
	"  ██  ",
	"   ██ ",
	"    ██",
	"   ██ ",
	"  ██  ",
	"      ",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	Header    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style // White color for tips (more visible)
	Error     lipgloss.Style
	Tool      lipgloss.Style // Tool call status lines
	Reasoning lipgloss.Style // Streaming reasoning text
	Prompt    lipgloss.Style
	Separator lipgloss.Style // Horizontal line separator
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(strandViolet)),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(strandViolet)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")), // White for visibility
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Tool:      lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		Reasoning: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray separator line
		StatusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("250")), // Light gray, no background
	}
}

// RenderBanner returns the strand wordmark as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for i := range strandArt {
		arrow := s.Banner.Render(arrowArt[i])
		text := s.Banner.Render(strandArt[i])
		_, _ = b.WriteString(arrow)
		_, _ = b.WriteString(text)
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips contains getting started tips displayed under the banner.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Ask anything - replies stream in as they generate",
	"  • Use /help to see available commands",
	"  • Press Esc to stop a reply, Ctrl+C to cancel, Ctrl+D to exit",
	"  • Up/Down arrows navigate input history",
}

// RenderWelcomeTips returns styled welcome tips (white for visibility).
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
