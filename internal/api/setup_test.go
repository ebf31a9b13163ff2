package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/stream"
	"github.com/strandlabs/strand/internal/testutil"
)

const apiTestTimeout = 5 * time.Second

// testModelFull is the name the mock registers under; the test config
// resolves to it through the gemini provider preference.
const testModelFull = "googleai/test-model"

// serverEnv wires a complete server around the in-memory store and the
// scripted mock model.
type serverEnv struct {
	t        *testing.T
	model    *testutil.MockLLM
	store    *conversation.MemoryStore
	registry *agent.Registry
	server   *Server
	ts       *httptest.Server
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()

	g := genkit.Init(context.Background())
	model := testutil.NewMockLLM("fallback answer")
	model.RegisterModelAs(g, testModelFull)

	store := conversation.NewMemoryStore()
	registry := agent.NewRegistry(testutil.DiscardLogger())

	cfg := &config.Config{
		Mode:            config.ModeDev,
		Provider:        config.ProviderGemini,
		ModelName:       "test-model",
		MaxTurns:        4,
		MaxHistoryTurns: 50,
		// Point at a file that does not exist so a strand.yaml in the
		// working directory cannot leak into the resolution chain.
		ProjectFile: filepath.Join(t.TempDir(), "strand.yaml"),
	}

	srv, err := NewServer(ServerConfig{
		Logger:       testutil.DiscardLogger(),
		Genkit:       g,
		Config:       cfg,
		Store:        store,
		Registry:     registry,
		HMACSecret:   bytes.Repeat([]byte("k"), 32),
		SystemPrompt: "You are strand, a coding assistant.",
		IsDev:        true,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())

	env := &serverEnv{
		t:        t,
		model:    model,
		store:    store,
		registry: registry,
		server:   srv,
		ts:       ts,
	}
	t.Cleanup(func() {
		// Sessions first: open streams only end once their session
		// disposes, and ts.Close waits for in-flight requests.
		ctx, cancel := context.WithTimeout(context.Background(), apiTestTimeout)
		defer cancel()
		if err := registry.Shutdown(ctx); err != nil {
			t.Errorf("registry shutdown: %v", err)
		}
		ts.Close()
		srv.Close()
	})
	return env
}

// client returns an http client with its own cookie jar, i.e. its own
// identity.
func (e *serverEnv) client() *http.Client {
	e.t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		e.t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: apiTestTimeout}
}

func chatBody(text, conversationID string) string {
	req := map[string]any{
		"message": map[string]any{
			"parts": []map[string]any{{"type": "text", "text": text}},
		},
	}
	if conversationID != "" {
		req["conversationId"] = conversationID
	}
	b, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (e *serverEnv) postChat(c *http.Client, body string) *http.Response {
	e.t.Helper()
	resp, err := c.Post(e.ts.URL+"/api/v1/chat", "application/json", strings.NewReader(body))
	if err != nil {
		e.t.Fatalf("POST /api/v1/chat: %v", err)
	}
	return resp
}

// sendMessage posts a chat message and consumes the whole stream.
func (e *serverEnv) sendMessage(c *http.Client, text, conversationID string) []stream.Event {
	e.t.Helper()
	resp := e.postChat(c, chatBody(text, conversationID))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		e.t.Fatalf("POST /api/v1/chat status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		e.t.Fatalf("stream content type = %q", ct)
	}
	return testutil.ReadEvents(e.t, resp.Body)
}

// conversationID extracts the permanent id announced on a stream that
// created its conversation.
func conversationID(t *testing.T, events []stream.Event) uuid.UUID {
	t.Helper()
	for _, ev := range events {
		if ev.Type == stream.EventData && ev.Name == "new-conversation" {
			var payload struct {
				ID uuid.UUID `json:"id"`
			}
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				t.Fatalf("decoding new-conversation payload: %v", err)
			}
			return payload.ID
		}
	}
	t.Fatal("no new-conversation event in stream")
	return uuid.Nil
}

// decodeEnvelope parses a non-streaming response body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeEnvelope(t *testing.T, r io.Reader, data any) *apiError {
	t.Helper()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error *apiError       `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if data != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decoding envelope data: %v", err)
		}
	}
	return env.Error
}

// wantStatus fails unless the response carries the status and, for
// error statuses, the error code.
func wantStatus(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, status, body)
	}
	if code == "" {
		return
	}
	apiErr := decodeEnvelope(t, resp.Body, nil)
	if apiErr == nil || apiErr.Code != code {
		t.Fatalf("error = %+v, want code %q", apiErr, code)
	}
}

// do issues a request with a body through the client.
func (e *serverEnv) do(c *http.Client, method, path, body string) *http.Response {
	e.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		e.t.Fatalf("building request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// startBlocked begins a generation that parks inside the model until
// its session is stopped or superseded. It returns the announced
// conversation id and a wait function that collects the original
// stream once it ends.
func (e *serverEnv) startBlocked(c *http.Client, chunks ...string) (uuid.UUID, func() []stream.Event) {
	e.t.Helper()
	started := make(chan struct{})
	e.model.Enqueue(testutil.MockStep{
		Chunks:       chunks,
		Block:        true,
		BlockStarted: started,
	})

	resp := e.postChat(c, chatBody("long question", ""))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		e.t.Fatalf("POST /api/v1/chat status = %d, body %s", resp.StatusCode, body)
	}

	// The conversation announcement precedes the first model call, so
	// it is readable before the generation parks.
	dec := stream.NewDecoder(resp.Body)
	var (
		id     uuid.UUID
		prefix []stream.Event
	)
	readCtx, cancelRead := context.WithTimeout(context.Background(), apiTestTimeout)
	defer cancelRead()
	for id == uuid.Nil && dec.Next(readCtx) {
		ev := dec.Event()
		prefix = append(prefix, ev)
		if ev.Type == stream.EventData && ev.Name == "new-conversation" {
			var payload struct {
				ID uuid.UUID `json:"id"`
			}
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				e.t.Fatalf("decoding new-conversation payload: %v", err)
			}
			id = payload.ID
		}
	}
	if id == uuid.Nil {
		e.t.Fatalf("stream ended before announcing its conversation (err %v)", dec.Err())
	}

	select {
	case <-started:
	case <-time.After(apiTestTimeout):
		e.t.Fatal("model never reached the blocked step")
	}

	rest := make(chan []stream.Event, 1)
	go func() {
		defer resp.Body.Close()
		var got []stream.Event
		for dec.Next(context.Background()) {
			got = append(got, dec.Event())
		}
		rest <- got
	}()

	wait := func() []stream.Event {
		select {
		case got := <-rest:
			return append(prefix, got...)
		case <-time.After(apiTestTimeout):
			e.t.Fatal("original stream never ended")
			return nil
		}
	}
	return id, wait
}

func fmtTypes(events []stream.Event) string {
	return fmt.Sprintf("%v", testutil.EventTypes(events))
}
