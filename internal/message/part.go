package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part type discriminators as they appear on the wire. Tool and data
// parts carry their name as a suffix: "tool-read_project_file",
// "data-new-conversation".
const (
	TypeText      = "text"
	TypeReasoning = "reasoning"

	toolTypePrefix = "tool-"
	dataTypePrefix = "data-"
)

// States for text and reasoning parts.
const (
	StateOpen = "open" // still accumulating deltas
	StateDone = "done"
)

// States for tool parts. A tool part's state only moves forward through
// this sequence, never backward.
const (
	ToolStateInputStreaming  = "input-streaming"
	ToolStateInputAvailable  = "input-available"
	ToolStateOutputAvailable = "output-available"
	ToolStateOutputDenied    = "output-denied"
	ToolStateOutputError     = "output-error"
)

// Part is one typed fragment of a Turn's content. The Type field
// discriminates the variant; only the fields belonging to that variant
// are populated. Unknown part types received from a newer peer are kept
// verbatim and re-emitted unchanged when marshaled.
type Part struct {
	Type string

	// Text and reasoning parts.
	Text  string
	State string

	// Tool parts.
	ToolCallID string
	Input      json.RawMessage
	Output     json.RawMessage
	ErrorText  string

	// Data parts.
	Data json.RawMessage

	raw json.RawMessage
}

// NewTextPart returns an open text part.
func NewTextPart(text string) Part {
	return Part{Type: TypeText, Text: text, State: StateOpen}
}

// NewReasoningPart returns an open reasoning part.
func NewReasoningPart(text string) Part {
	return Part{Type: TypeReasoning, Text: text, State: StateOpen}
}

// NewToolPart returns a tool part in the input-streaming state.
func NewToolPart(toolName, callID string) Part {
	return Part{
		Type:       toolTypePrefix + toolName,
		ToolCallID: callID,
		State:      ToolStateInputStreaming,
	}
}

// NewDataPart returns a data part carrying an opaque named payload.
func NewDataPart(name string, payload json.RawMessage) Part {
	return Part{Type: dataTypePrefix + name, Data: payload}
}

// IsText reports whether p is a text part.
func (p Part) IsText() bool { return p.Type == TypeText }

// IsReasoning reports whether p is a reasoning part.
func (p Part) IsReasoning() bool { return p.Type == TypeReasoning }

// IsTool reports whether p is a tool part.
func (p Part) IsTool() bool { return strings.HasPrefix(p.Type, toolTypePrefix) }

// IsData reports whether p is a data part.
func (p Part) IsData() bool { return strings.HasPrefix(p.Type, dataTypePrefix) }

// ToolName returns the tool name encoded in a tool part's type, or ""
// for other part types.
func (p Part) ToolName() string {
	if !p.IsTool() {
		return ""
	}
	return p.Type[len(toolTypePrefix):]
}

// DataName returns the payload name encoded in a data part's type, or
// "" for other part types.
func (p Part) DataName() string {
	if !p.IsData() {
		return ""
	}
	return p.Type[len(dataTypePrefix):]
}

// Terminal reports whether the part has reached a final state and will
// receive no further content.
func (p Part) Terminal() bool {
	switch {
	case p.IsText(), p.IsReasoning():
		return p.State == StateDone
	case p.IsTool():
		switch p.State {
		case ToolStateOutputAvailable, ToolStateOutputDenied, ToolStateOutputError:
			return true
		}
		return false
	default:
		// Data and unknown parts are emitted whole.
		return true
	}
}

// partWire is the JSON shape shared by all known part variants.
type partWire struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	State      string          `json:"state,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the part in its discriminated wire form. Parts of
// unknown type are re-emitted exactly as they were received.
func (p Part) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	return json.Marshal(partWire{
		Type:       p.Type,
		Text:       p.Text,
		State:      p.State,
		ToolCallID: p.ToolCallID,
		Input:      p.Input,
		Output:     p.Output,
		ErrorText:  p.ErrorText,
		Data:       p.Data,
	})
}

// UnmarshalJSON decodes the discriminated wire form. Unknown part types
// do not fail: the payload is retained verbatim so it survives a
// decode/re-encode round trip through an older peer.
func (p *Part) UnmarshalJSON(b []byte) error {
	var w partWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("decoding part: %w", err)
	}
	if w.Type == "" {
		return fmt.Errorf("decoding part: missing type")
	}

	*p = Part{Type: w.Type}
	switch {
	case w.Type == TypeText, w.Type == TypeReasoning:
		p.Text = w.Text
		p.State = w.State
		if p.State == "" {
			p.State = StateDone
		}
	case strings.HasPrefix(w.Type, toolTypePrefix):
		p.ToolCallID = w.ToolCallID
		p.State = w.State
		p.Input = w.Input
		p.Output = w.Output
		p.ErrorText = w.ErrorText
	case strings.HasPrefix(w.Type, dataTypePrefix):
		p.Data = w.Data
	default:
		p.raw = append(json.RawMessage(nil), b...)
	}
	return nil
}
