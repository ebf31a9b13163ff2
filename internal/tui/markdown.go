package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer converts finished assistant text to styled terminal
// output with glamour. A nil renderer degrades to plain text, so a
// markdown failure never loses content.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int // Cached wrap width to avoid needless recreation
}

// newMarkdownRenderer creates a renderer wrapping at width.
func newMarkdownRenderer(width int) *markdownRenderer {
	if width <= 0 {
		width = 80 // Default terminal width
	}
	m := &markdownRenderer{}
	m.Resize(width)
	return m
}

// Resize rebuilds the renderer for a new wrap width. No-op when the
// width is unchanged or invalid; keeps the existing renderer when
// recreation fails.
func (m *markdownRenderer) Resize(width int) {
	if m == nil || width <= 0 || width == m.width {
		return
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Detect light/dark terminal
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return
	}

	m.renderer = r
	m.width = width
}

// Render converts markdown to styled terminal output, returning the
// input unchanged when rendering is unavailable or fails.
func (m *markdownRenderer) Render(markdown string) string {
	if m == nil || m.renderer == nil {
		return markdown
	}

	rendered, err := m.renderer.Render(markdown)
	if err != nil {
		return markdown
	}

	// Trim trailing newlines added by glamour
	return strings.TrimSuffix(rendered, "\n")
}
