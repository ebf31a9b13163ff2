// Package tui is the interactive chat surface over a [client.Consumer].
// The consumer owns the transcript and folds the server's event stream
// into it; the UI re-reads that state whenever the consumer signals a
// change and repaints.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/strandlabs/strand/internal/client"
	"github.com/strandlabs/strand/internal/message"
)

// State represents the TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput     State = iota // Awaiting user input
	StateThinking               // Message sent, no fold yet
	StateStreaming              // Folds arriving
)

// Memory bounds to prevent unbounded growth.
const (
	maxRenderedTurns = 100 // Transcript turns rendered per repaint
	maxHistory       = 100 // Input history entries
	maxNotices       = 100 // Local notice lines
)

// Timeouts for stream operations.
const (
	streamTimeout = 5 * time.Minute // Maximum time for a single generation
	stopTimeout   = 5 * time.Second // Maximum time for a stop request
)

// Roles a local notice can carry. User and assistant content renders
// from the consumer's turns, never from notices.
const (
	roleSystem = "system"
	roleError  = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Two separator lines (above and below input)
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// notice is a local line that is not part of the conversation: slash
// command output, cancellations, client-side errors. The anchor pins it
// between the turns it was added among, so it keeps its place as the
// transcript grows.
type notice struct {
	role   string
	text   string
	anchor int
}

// TUI is the Bubble Tea model for the strand chat client.
type TUI struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	lastCtrlC time.Time
	stopping  bool

	// Transcript snapshot, refreshed from the consumer on every fold,
	// plus local notices interleaved by anchor.
	turns      []message.Turn
	notices    []notice
	hideBefore int

	// Output
	spinner spinner.Model
	viewBuf strings.Builder // Reusable buffer for View() to reduce allocations

	// Scrollable transcript viewport
	viewport viewport.Model

	// Help bar for keyboard shortcuts
	help help.Model
	keys keyMap

	// Stream management
	// Note: No sync.WaitGroup - Bubble Tea's event loop provides
	// synchronization. A single union channel with discriminated events
	// keeps the select logic flat.
	streamCancel  context.CancelFunc
	streamEventCh <-chan streamEvent

	// Dependencies (direct, no interface)
	consumer  *client.Consumer
	ctx       context.Context
	ctxCancel context.CancelFunc // For canceling all operations on exit

	// Dimensions
	width  int
	height int

	// Styles
	styles Styles

	// Markdown rendering (nil = graceful degradation to plain text)
	markdown *markdownRenderer
}

// addNotice appends a local line anchored after the turn the transcript
// currently ends on, enforcing the maxNotices bound.
func (t *TUI) addNotice(role, text string) {
	t.notices = append(t.notices, notice{role: role, text: text, anchor: len(t.turns)})
	if len(t.notices) > maxNotices {
		t.notices = t.notices[len(t.notices)-maxNotices:]
	}
}

// New creates a TUI bound to one conversation's consumer.
//
// IMPORTANT: ctx MUST be the same context passed to tea.WithContext()
// to ensure consistent cancellation behavior.
func New(ctx context.Context, consumer *client.Consumer) (*TUI, error) {
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if consumer == nil {
		return nil, errors.New("tui.New: consumer is required")
	}

	// Create cancellable context for cleanup on exit
	ctx, cancel := context.WithCancel(ctx)

	// Create textarea for multi-line input
	// Enter submits, Shift+Enter adds newline (default behavior)
	ta := textarea.New()
	ta.Placeholder = "Ask anything..."
	ta.SetHeight(1)  // Single line by default
	ta.SetWidth(120) // Wide enough for long text, updated on WindowSizeMsg
	ta.MaxWidth = 0  // No max width limit
	ta.ShowLineNumbers = false

	// Clean, minimal styling: no backgrounds, just text
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray placeholder
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Create viewport for the scrollable transcript.
	// Disable built-in keyboard handling - we route keys explicitly
	// in handleKey to avoid conflicts with textarea/history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{} // Disable default key bindings

	h := help.New()

	return &TUI{
		consumer:  consumer,
		ctx:       ctx,
		ctxCancel: cancel,
		input:     ta,
		spinner:   sp,
		viewport:  vp,
		help:      h,
		keys:      newKeyMap(),
		styles:    DefaultStyles(),
		history:   make([]string, 0, maxHistory),
		turns:     consumer.Turns(),
		markdown:  newMarkdownRenderer(80),
		width:     80, // Default width until WindowSizeMsg arrives
	}, nil
}

// Init implements tea.Model. Besides the usual focus and tick commands
// it arms the mount sequence: the consumer reloads the persisted
// transcript, then re-attaches to any live generation so its replayed
// stream folds straight in. A conversation with no live session shows
// its saved history and settles without touching anything else.
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		t.spinner.Tick,
		t.input.Focus(), // Ensure textarea is focused on startup
		t.startStream(t.consumer.Attach),
	)
}

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires type switch on all message types
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return t.handleKey(msg)

	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height

		// Calculate viewport height: total - input - separators - help
		inputHeight := t.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		t.viewport.SetWidth(msg.Width)
		t.viewport.SetHeight(vpHeight)
		t.input.SetWidth(msg.Width - 4) // Room for "> " prompt
		t.help.SetWidth(msg.Width)
		t.markdown.Resize(msg.Width)

		// Rebuild viewport content with new dimensions
		t.rebuildViewportContent()
		return t, nil

	case tea.MouseWheelMsg:
		// Forward mouse wheel to viewport for scrolling
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return t, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		// Rebuild so the thinking indicator and running tool lines animate
		if t.state != StateInput {
			t.rebuildViewportContent()
		}
		return t, cmd

	case streamStartedMsg:
		if t.streamEventCh == nil {
			t.streamCancel = msg.cancel
			t.streamEventCh = msg.eventCh
		} else {
			// A stream is already active; unwind the newcomer. Its
			// events still get drained below so the bridge can exit.
			msg.cancel()
		}
		return t, listenForStream(msg.eventCh)

	case streamRefreshMsg:
		t.turns = t.consumer.Turns()
		switch t.consumer.Status() {
		case client.StatusSubmitted:
			t.state = StateThinking
		case client.StatusStreaming:
			t.state = StateStreaming
		}
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(msg.eventCh)

	case streamDoneMsg:
		return t.finishStream(msg.eventCh, nil)

	case streamErrorMsg:
		return t.finishStream(msg.eventCh, msg.err)

	case stopFailedMsg:
		t.stopping = false
		t.addNotice(roleError, "stop request failed: "+msg.err.Error())
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, nil
	}

	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

// finishStream settles the UI after a generation attempt. Terminal
// messages from a superseded stream only drain it; the active stream's
// bookkeeping stays untouched.
func (t *TUI) finishStream(eventCh <-chan streamEvent, err error) (tea.Model, tea.Cmd) {
	if eventCh != t.streamEventCh {
		return t, nil
	}

	// Cancel context to release timer resources
	if t.streamCancel != nil {
		t.streamCancel()
		t.streamCancel = nil
	}
	t.streamEventCh = nil
	t.stopping = false
	t.state = StateInput
	t.turns = t.consumer.Turns()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		t.addNotice(roleSystem, "(canceled locally; the server finishes the reply in the background)")
	case errors.Is(err, context.DeadlineExceeded):
		t.addNotice(roleError, "stream timed out after 5 minutes; reconnect with a new message")
	default:
		t.addNotice(roleError, err.Error())
	}

	t.rebuildViewportContent()
	t.viewport.GotoBottom()
	// Re-focus textarea for the next message
	return t, t.input.Focus()
}

// View implements tea.Model.
// Uses AltScreen with a viewport for the scrollable transcript.
func (t *TUI) View() tea.View {
	t.viewBuf.Reset()

	// Viewport (scrollable transcript area)
	_, _ = t.viewBuf.WriteString(t.viewport.View())
	_, _ = t.viewBuf.WriteString("\n")

	// Separator line above input
	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Input prompt - always shown and always accepting input, so the
	// next message can be typed while a reply is still streaming
	_, _ = t.viewBuf.WriteString(t.styles.Prompt.Render("> "))
	_, _ = t.viewBuf.WriteString(t.input.View())
	_, _ = t.viewBuf.WriteString("\n")

	// Separator line below input
	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Help bar (keyboard shortcuts)
	_, _ = t.viewBuf.WriteString(t.renderStatusBar())

	v := tea.NewView(t.viewBuf.String())
	v.AltScreen = true
	return v
}

// renderSeparator returns a horizontal line separator.
func (t *TUI) renderSeparator() string {
	width := t.width
	if width <= 0 {
		width = 80 // Default width
	}
	return t.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (t *TUI) renderStatusBar() string {
	var bindings []key.Binding
	switch t.state {
	case StateInput:
		bindings = []key.Binding{
			t.keys.Submit, t.keys.NewLine, t.keys.History,
			t.keys.Cancel, t.keys.Quit, t.keys.ScrollUp,
		}
	case StateThinking, StateStreaming:
		bindings = []key.Binding{
			t.keys.EscStop, t.keys.Cancel,
			t.keys.ScrollUp, t.keys.ScrollDown,
		}
	}
	bar := t.help.ShortHelpView(bindings)
	if t.stopping {
		bar = t.styles.System.Render("stopping... ") + bar
	}
	return bar
}
