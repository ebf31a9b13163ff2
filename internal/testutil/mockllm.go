package testutil

import (
	"context"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the full model name the mock registers under.
const MockModelName = "mock/test-model"

// MockStep scripts one model call. Steps are consumed in order; when
// the script runs out, the model answers with the fallback text.
type MockStep struct {
	// Text is the final text content. When Chunks is empty it is also
	// streamed as a single chunk.
	Text string

	// Chunks streams explicit text fragments before the final message.
	Chunks []string

	// Reasoning streams a reasoning fragment before any text.
	Reasoning string

	// Tools are tool requests to return. With tool requests pending the
	// caller's loop is expected to execute them and call again.
	Tools []*ai.ToolRequest

	// Usage reported for this call.
	Usage *ai.GenerationUsage

	// Err makes the call fail outright.
	Err error

	// Block parks the call after streaming any chunks, until the
	// context is canceled, then returns the context error. Used to
	// test stop and supersede.
	Block bool

	// BlockStarted, when non-nil, is closed once the blocked call is
	// parked, so tests can stop precisely after generation began.
	BlockStarted chan struct{}
}

// MockCall records what one model call saw.
type MockCall struct {
	Messages int    // total messages in the request
	UserText string // text of the last user message
	System   string // system prompt text, if any
}

// MockLLM is a scriptable genkit model for tests. Register it once per
// genkit instance and enqueue steps per scenario.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	steps    []MockStep
	fallback string
	calls    []MockCall
}

// NewMockLLM creates a mock model with the given fallback response.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// Enqueue appends steps to the script.
func (m *MockLLM) Enqueue(steps ...MockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls and any unconsumed steps.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.steps = nil
}

// RegisterModel registers the mock under [MockModelName].
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return m.RegisterModelAs(g, MockModelName)
}

// RegisterModelAs registers the mock under an arbitrary full name, for
// tests that reach the model through the configuration resolution
// chain instead of naming it directly.
func (m *MockLLM) RegisterModelAs(g *genkit.Genkit, name string) ai.Model {
	return genkit.DefineModel(g, name, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

// generate is the genkit model function.
func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	step := m.record(req)

	if step.Err != nil {
		return nil, step.Err
	}

	if cb != nil {
		if step.Reasoning != "" {
			chunk := &ai.ModelResponseChunk{
				Content: []*ai.Part{{Kind: ai.PartReasoning, Text: step.Reasoning}},
			}
			if err := cb(ctx, chunk); err != nil {
				return nil, err
			}
		}

		chunks := step.Chunks
		if len(chunks) == 0 && step.Text != "" {
			chunks = []string{step.Text}
		}
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			chunk := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(c)}}
			if err := cb(ctx, chunk); err != nil {
				return nil, err
			}
		}
	}

	if step.Block {
		if step.BlockStarted != nil {
			close(step.BlockStarted)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var parts []*ai.Part
	if step.Reasoning != "" {
		parts = append(parts, &ai.Part{Kind: ai.PartReasoning, Text: step.Reasoning})
	}
	if step.Text != "" {
		parts = append(parts, ai.NewTextPart(step.Text))
	}
	for _, tr := range step.Tools {
		parts = append(parts, &ai.Part{
			Kind:        ai.PartToolRequest,
			ToolRequest: tr,
		})
	}

	return &ai.ModelResponse{
		Request:      req,
		FinishReason: ai.FinishReasonStop,
		Usage:        step.Usage,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: parts,
		},
	}, nil
}

// record logs the call and pops the next step.
func (m *MockLLM) record(req *ai.ModelRequest) MockStep {
	var userText, system string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleSystem {
			system = msg.Text()
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{
		Messages: len(req.Messages),
		UserText: userText,
		System:   system,
	})

	if len(m.steps) == 0 {
		return MockStep{Text: m.fallback}
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return step
}
