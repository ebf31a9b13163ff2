// Package stream carries an in-flight generation between server and
// client as newline-delimited JSON event envelopes.
//
// The [Encoder] writes events produced by an agent session onto an HTTP
// response as they happen. The [Decoder] reads them back incrementally
// on the client. The [Accumulator] folds a decoded event sequence into
// a [message.Turn], tolerating re-delivered prefixes and unknown event
// types so older consumers keep working as the vocabulary grows.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/strandlabs/strand/internal/message"
)

// Event types. A generation emits start first, then part events in
// production order, then exactly one terminal finish or error.
const (
	EventStart = "start"

	EventTextStart = "text-start"
	EventTextDelta = "text-delta"
	EventTextEnd   = "text-end"

	EventReasoningStart = "reasoning-start"
	EventReasoningDelta = "reasoning-delta"
	EventReasoningEnd   = "reasoning-end"

	EventToolInputStart      = "tool-input-start"
	EventToolInputDelta      = "tool-input-delta"
	EventToolInputAvailable  = "tool-input-available"
	EventToolOutputAvailable = "tool-output-available"
	EventToolOutputError     = "tool-output-error"
	EventToolOutputDenied    = "tool-output-denied"

	EventData   = "data"
	EventFinish = "finish"
	EventError  = "error"
)

// Machine-readable codes carried by error events.
const (
	CodeNoModelConfigured = "no_model_configured"
	CodeForbidden         = "forbidden"
	CodeProviderError     = "provider_error"
	CodeDecodeError       = "decode_error"
	CodePersistenceError  = "persistence_error"
)

// Event is one envelope on the wire. Type discriminates which optional
// fields are meaningful. Seq is assigned by the publisher, monotonic
// from 1 within one generation, and lets consumers skip re-delivered
// prefixes after a reconnect.
type Event struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`

	// start
	TurnID string `json:"turnId,omitempty"`

	// text-* and reasoning-* (PartID keys the part, Delta accumulates)
	PartID string `json:"partId,omitempty"`
	Delta  string `json:"delta,omitempty"`

	// tool-* (Delta carries input fragments while streaming)
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// data
	Name string          `json:"name,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`

	// finish
	StopReason string         `json:"stopReason,omitempty"`
	Usage      *message.Usage `json:"usage,omitempty"`

	// tool-output-error and error
	ErrorText string `json:"errorText,omitempty"`
	Code      string `json:"code,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventFinish || e.Type == EventError
}

// TurnEvents renders a finished turn back into a canonical event
// sequence, numbered from 1. Chunk boundaries are not preserved: each
// text or reasoning part becomes a single delta. Folding the result
// reproduces the turn's content and terminal tool states.
func TurnEvents(t message.Turn) []Event {
	events := []Event{{Type: EventStart, TurnID: t.ID.String()}}

	for i, p := range t.Parts {
		partID := fmt.Sprintf("part-%d", i)
		switch {
		case p.IsText():
			events = append(events,
				Event{Type: EventTextStart, PartID: partID},
				Event{Type: EventTextDelta, PartID: partID, Delta: p.Text},
				Event{Type: EventTextEnd, PartID: partID},
			)
		case p.IsReasoning():
			events = append(events,
				Event{Type: EventReasoningStart, PartID: partID},
				Event{Type: EventReasoningDelta, PartID: partID, Delta: p.Text},
				Event{Type: EventReasoningEnd, PartID: partID},
			)
		case p.IsTool():
			events = append(events, Event{
				Type:       EventToolInputAvailable,
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName(),
				Input:      p.Input,
			})
			switch p.State {
			case message.ToolStateOutputAvailable:
				events = append(events, Event{
					Type:       EventToolOutputAvailable,
					ToolCallID: p.ToolCallID,
					Output:     p.Output,
				})
			case message.ToolStateOutputError:
				events = append(events, Event{
					Type:       EventToolOutputError,
					ToolCallID: p.ToolCallID,
					ErrorText:  p.ErrorText,
				})
			case message.ToolStateOutputDenied:
				events = append(events, Event{
					Type:       EventToolOutputDenied,
					ToolCallID: p.ToolCallID,
				})
			}
		case p.IsData():
			events = append(events, Event{
				Type: EventData,
				Name: p.DataName(),
				Data: p.Data,
			})
		}
	}

	switch t.StopReason {
	case message.StopReasonError:
		events = append(events, Event{Type: EventError, ErrorText: t.ErrorText})
	default:
		events = append(events, Event{
			Type:       EventFinish,
			StopReason: t.StopReason,
			Usage:      t.Usage,
		})
	}

	for i := range events {
		events[i].Seq = uint64(i + 1)
	}
	return events
}
