// Package message defines the conversation turn model shared by the
// server and the client: a [Turn] is one user or assistant message made
// of ordered, typed [Part] fragments.
//
// While an assistant turn streams, its part sequence grows monotonically:
// new parts are appended and only the trailing open part accumulates
// content. Once a later part has started, earlier parts never change.
// A fully streamed turn is immutable.
package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Roles a turn can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Stop reasons recorded on a finished assistant turn.
const (
	StopReasonStop        = "stop"
	StopReasonInterrupted = "interrupted"
	StopReasonError       = "error"
)

// DefaultTitle is used when a conversation's first message has no text
// to derive a title from.
const DefaultTitle = "New conversation"

// titleMaxRunes bounds derived conversation titles.
const titleMaxRunes = 64

// Usage is token accounting for one assistant turn, accumulated across
// every model call of the tool loop.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Turn is one message in a conversation. Part order is meaningful and
// preserved. The metadata fields are populated on persisted assistant
// turns only.
type Turn struct {
	ID    uuid.UUID `json:"id"`
	Role  string    `json:"role"`
	Parts []Part    `json:"parts"`

	StopReason string    `json:"stopReason,omitempty"`
	ErrorText  string    `json:"errorText,omitempty"`
	Model      string    `json:"model,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
}

// NewUserTurn builds a user turn with a single finished text part.
func NewUserTurn(text string) Turn {
	p := NewTextPart(text)
	p.State = StateDone
	return Turn{
		ID:    uuid.New(),
		Role:  RoleUser,
		Parts: []Part{p},
	}
}

// Text concatenates the turn's text parts in order. Reasoning, tool and
// data parts are excluded.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// DeriveTitle produces a conversation title from the first text part of
// a turn: the first 64 runes, whitespace-trimmed. Falls back to
// [DefaultTitle] when the turn carries no text.
func DeriveTitle(t Turn) string {
	for _, p := range t.Parts {
		if !p.IsText() {
			continue
		}
		title := strings.TrimSpace(p.Text)
		if title == "" {
			break
		}
		runes := []rune(title)
		if len(runes) > titleMaxRunes {
			title = strings.TrimSpace(string(runes[:titleMaxRunes]))
		}
		return title
	}
	return DefaultTitle
}

// CloneTurns deep-copies a turn slice. Stores hand out clones so
// callers can mutate results without affecting shared state.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = cloneTurn(t)
	}
	return out
}

func cloneTurn(t Turn) Turn {
	c := t
	if t.Usage != nil {
		u := *t.Usage
		c.Usage = &u
	}
	if t.Parts != nil {
		c.Parts = make([]Part, len(t.Parts))
		for i, p := range t.Parts {
			c.Parts[i] = clonePart(p)
		}
	}
	return c
}

func clonePart(p Part) Part {
	c := p
	c.Input = append(json.RawMessage(nil), p.Input...)
	c.Output = append(json.RawMessage(nil), p.Output...)
	c.Data = append(json.RawMessage(nil), p.Data...)
	c.raw = append(json.RawMessage(nil), p.raw...)
	return c
}
