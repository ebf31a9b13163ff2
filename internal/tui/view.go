package tui

import (
	"strings"

	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/tools"
)

// toolLabels maps the shipped kit's tool names to friendlier transcript
// labels. Unknown tools render under their wire name.
var toolLabels = map[string]string{
	tools.CurrentTimeName:     "checking the time",
	tools.ReadProjectFileName: "reading a project file",
	tools.FetchWebpageName:    "fetching a webpage",
}

func toolLabel(name string) string {
	if label, ok := toolLabels[name]; ok {
		return label
	}
	return name
}

// rebuildViewportContent reconstructs the viewport from the transcript
// snapshot and local notices. Called whenever either changes.
func (t *TUI) rebuildViewportContent() {
	t.viewport.SetContent(t.renderTranscript())
}

// renderTranscript renders the banner, the visible tail of the
// transcript, and local notices interleaved at their anchors.
func (t *TUI) renderTranscript() string {
	var b strings.Builder

	// Banner (ASCII art) and tips
	_, _ = b.WriteString(t.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(t.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	start := t.hideBefore
	if over := len(t.turns) - maxRenderedTurns; over > start {
		start = over
	}

	ni := 0
	writeNotices := func(upto int) {
		for ni < len(t.notices) && t.notices[ni].anchor <= upto {
			n := t.notices[ni]
			ni++
			if n.anchor < start {
				continue
			}
			switch n.role {
			case roleError:
				_, _ = b.WriteString(t.styles.Error.Render("Error: " + n.text))
			default:
				_, _ = b.WriteString(t.styles.System.Render(n.text))
			}
			_, _ = b.WriteString("\n\n")
		}
	}

	for i := start; i < len(t.turns); i++ {
		writeNotices(i)
		t.renderTurn(&b, t.turns[i])
	}
	writeNotices(len(t.turns))

	// Thinking indicator
	if t.state == StateThinking {
		_, _ = b.WriteString(t.spinner.View())
		_, _ = b.WriteString(" Thinking...\n\n")
	}

	return b.String()
}

// renderTurn writes one turn. Assistant turns render part by part so
// tool activity and streaming text appear exactly where the generation
// produced them.
func (t *TUI) renderTurn(b *strings.Builder, turn message.Turn) {
	switch turn.Role {
	case message.RoleUser:
		_, _ = b.WriteString(t.styles.User.Render("You> "))
		_, _ = b.WriteString(turn.Text())
		_, _ = b.WriteString("\n\n")
		return
	case message.RoleAssistant:
	default:
		return
	}

	_, _ = b.WriteString(t.styles.Assistant.Render("Strand> "))
	for _, p := range turn.Parts {
		switch {
		case p.IsText():
			if p.Text == "" {
				continue
			}
			if p.State == message.StateDone {
				_, _ = b.WriteString(t.markdown.Render(p.Text))
			} else {
				// Still accumulating deltas; markdown waits for the
				// part to finish so half-open fences don't flicker.
				_, _ = b.WriteString(p.Text)
			}
			_, _ = b.WriteString("\n")

		case p.IsReasoning():
			// Reasoning shows while it streams and collapses once done.
			if p.State == message.StateOpen && p.Text != "" {
				_, _ = b.WriteString(t.styles.Reasoning.Render(p.Text))
				_, _ = b.WriteString("\n")
			}

		case p.IsTool():
			t.renderToolPart(b, p)
		}
		// Data parts are plumbing (conversation announcements), not content.
	}

	switch turn.StopReason {
	case message.StopReasonInterrupted:
		_, _ = b.WriteString(t.styles.System.Render("(stopped)"))
		_, _ = b.WriteString("\n")
	case message.StopReasonError:
		if turn.ErrorText != "" {
			_, _ = b.WriteString(t.styles.Error.Render("Error: " + turn.ErrorText))
			_, _ = b.WriteString("\n")
		}
	}
	_, _ = b.WriteString("\n")
}

// renderToolPart writes a one-line status for a tool call, animated by
// the spinner while the call is still running.
func (t *TUI) renderToolPart(b *strings.Builder, p message.Part) {
	label := toolLabel(p.ToolName())
	var line string
	switch p.State {
	case message.ToolStateInputStreaming, message.ToolStateInputAvailable:
		line = t.spinner.View() + " " + label + "..."
	case message.ToolStateOutputAvailable:
		line = "✓ " + label
	case message.ToolStateOutputDenied:
		line = "✗ " + label + " (denied)"
	case message.ToolStateOutputError:
		line = "✗ " + label + " failed"
		if p.ErrorText != "" {
			line += ": " + p.ErrorText
		}
	default:
		line = "⚙ " + label
	}
	_, _ = b.WriteString(t.styles.Tool.Render(line))
	_, _ = b.WriteString("\n")
}
