package agent

import (
	"encoding/json"

	"github.com/firebase/genkit/go/ai"

	"github.com/strandlabs/strand/internal/message"
)

// historyMessages renders stored turns into the model's message list.
// Messages are built fresh on every call because the model layer
// mutates message content in place while rendering a request.
func historyMessages(turns []message.Turn) []*ai.Message {
	var msgs []*ai.Message
	for _, t := range turns {
		msgs = append(msgs, turnMessages(t)...)
	}
	return msgs
}

// turnMessages converts one turn. A user turn becomes a single user
// message. An assistant turn that called tools becomes the same
// interleaving the provider originally produced: a model message
// carrying text and tool requests, then a tool message carrying the
// responses, then the next model message.
func turnMessages(t message.Turn) []*ai.Message {
	if t.Role == message.RoleUser {
		var parts []*ai.Part
		for _, p := range t.Parts {
			if p.IsText() && p.Text != "" {
				parts = append(parts, ai.NewTextPart(p.Text))
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return []*ai.Message{ai.NewUserMessage(parts...)}
	}

	var (
		msgs      []*ai.Message
		content   []*ai.Part
		responses []*ai.Part
	)
	flushModel := func() {
		if len(content) > 0 {
			msgs = append(msgs, ai.NewModelMessage(content...))
			content = nil
		}
	}
	flushTools := func() {
		if len(responses) > 0 {
			flushModel()
			msgs = append(msgs, &ai.Message{Role: ai.RoleTool, Content: responses})
			responses = nil
		}
	}

	for _, p := range t.Parts {
		switch {
		case p.IsText() && p.Text != "":
			flushTools()
			content = append(content, ai.NewTextPart(p.Text))
		case p.IsTool():
			// A call without a terminal state never produced a
			// response; replaying the request alone would leave the
			// provider waiting for one.
			if !p.Terminal() {
				continue
			}
			content = append(content, &ai.Part{
				Kind: ai.PartToolRequest,
				ToolRequest: &ai.ToolRequest{
					Name:  p.ToolName(),
					Ref:   p.ToolCallID,
					Input: rawToAny(p.Input),
				},
			})
			responses = append(responses, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   p.ToolName(),
				Ref:    p.ToolCallID,
				Output: toolOutput(p),
			}))
		}
		// Reasoning and data parts are display state, not prompt
		// material.
	}
	flushTools()
	flushModel()
	return msgs
}

// toolOutput rebuilds the response payload for a finished tool part.
func toolOutput(p message.Part) any {
	switch p.State {
	case message.ToolStateOutputAvailable:
		return rawToAny(p.Output)
	case message.ToolStateOutputError:
		return map[string]any{"error": p.ErrorText}
	case message.ToolStateOutputDenied:
		return map[string]any{"denied": true}
	default:
		return nil
	}
}

// rawToAny decodes raw JSON for the provider SDK, which wants
// structured values rather than encoded bytes. Undecodable input is
// passed through as a string so a malformed stored turn degrades
// instead of failing the whole generation.
func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// marshalRaw encodes a provider value for the wire. Values that do not
// marshal are reported as an encoding error object rather than
// silently dropped.
func marshalRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": "unencodable value: " + err.Error()})
	}
	return b
}
