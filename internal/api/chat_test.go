package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/stream"
	"github.com/strandlabs/strand/internal/testutil"
)

func TestChatCreatesConversationAndStreams(t *testing.T) {
	env := newServerEnv(t)
	env.model.Enqueue(testutil.MockStep{
		Chunks: []string{"Hel", "lo!"},
		Text:   "Hello!",
	})

	c := env.client()
	events := env.sendMessage(c, "hi there", "")

	want := []string{"start", "data", "text-start", "text-delta", "text-delta", "text-end", "finish"}
	if got := testutil.EventTypes(events); fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	convID := conversationID(t, events)
	conv, err := env.store.Conversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("loading conversation: %v", err)
	}
	if conv.Title != "hi there" {
		t.Errorf("title = %q, want %q", conv.Title, "hi there")
	}
	if len(conv.Turns) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(conv.Turns))
	}
	if conv.Turns[0].Role != message.RoleUser || conv.Turns[0].Text() != "hi there" {
		t.Errorf("user turn = %+v", conv.Turns[0])
	}
	if conv.Turns[1].Role != message.RoleAssistant || conv.Turns[1].Text() != "Hello!" {
		t.Errorf("assistant turn = %+v", conv.Turns[1])
	}
	if conv.Turns[1].Model != testModelFull {
		t.Errorf("assistant model = %q, want %q", conv.Turns[1].Model, testModelFull)
	}
}

func TestChatContinuesConversation(t *testing.T) {
	env := newServerEnv(t)
	env.model.Enqueue(
		testutil.MockStep{Text: "first answer"},
		testutil.MockStep{Text: "second answer"},
	)
	c := env.client()

	first := env.sendMessage(c, "first question", "")
	convID := conversationID(t, first)

	second := env.sendMessage(c, "second question", convID.String())
	for _, ev := range second {
		if ev.Type == stream.EventData && ev.Name == "new-conversation" {
			t.Error("continuation announced a new conversation")
		}
	}

	conv, err := env.store.Conversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("loading conversation: %v", err)
	}
	if len(conv.Turns) != 4 {
		t.Fatalf("persisted turns = %d, want 4", len(conv.Turns))
	}

	calls := env.model.Calls()
	if len(calls) != 2 {
		t.Fatalf("model calls = %d, want 2", len(calls))
	}
	// The second call renders the full history: two prior turns plus
	// the new user message.
	if calls[1].Messages != 3 {
		t.Errorf("second call messages = %d, want 3", calls[1].Messages)
	}
	if calls[1].UserText != "second question" {
		t.Errorf("second call user text = %q", calls[1].UserText)
	}
	if !strings.Contains(calls[1].System, "strand") {
		t.Errorf("system prompt not forwarded, got %q", calls[1].System)
	}
}

func TestChatValidation(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"message":`},
		{"missing message", `{}`},
		{"empty parts", `{"message":{"parts":[]}}`},
		{"blank text", `{"message":{"parts":[{"type":"text","text":"   "}]}}`},
		{"tool part", `{"message":{"parts":[{"type":"tool-read_project_file","toolCallId":"c1","state":"input-available"}]}}`},
		{"reasoning part", `{"message":{"parts":[{"type":"reasoning","text":"hmm"}]}}`},
		{"bad conversation id", `{"conversationId":"not-a-uuid","message":{"parts":[{"type":"text","text":"hi"}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.postChat(c, tt.body)
			wantStatus(t, resp, http.StatusBadRequest, codeBadRequest)
		})
	}
}

func TestChatRejectsOversizedBody(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	big := strings.Repeat("a", maxChatBody+1)
	resp := env.postChat(c, chatBody(big, ""))
	wantStatus(t, resp, http.StatusRequestEntityTooLarge, codePayloadTooLarge)
}

func TestChatUnknownConversation(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	resp := env.postChat(c, chatBody("hello", uuid.NewString()))
	wantStatus(t, resp, http.StatusNotFound, codeNotFound)
}

func TestChatForeignConversation(t *testing.T) {
	env := newServerEnv(t)
	env.model.Enqueue(testutil.MockStep{Text: "answer"})

	owner := env.client()
	events := env.sendMessage(owner, "mine", "")
	convID := conversationID(t, events)

	intruder := env.client()
	resp := env.postChat(intruder, chatBody("gimme", convID.String()))
	wantStatus(t, resp, http.StatusForbidden, codeForbidden)
}

func TestChatNoModelConfigured(t *testing.T) {
	env := newServerEnv(t)
	// Strip every resolution source: config preference and environment.
	env.server.cfg.Provider = ""
	env.server.cfg.ModelName = ""
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	c := env.client()
	resp := env.postChat(c, chatBody("hello", ""))
	wantStatus(t, resp, http.StatusServiceUnavailable, codeNoModelConfigured)

	// No orphan conversation row from the failed request.
	listResp := env.do(c, http.MethodGet, "/api/v1/conversations", "")
	defer listResp.Body.Close()
	var summaries []map[string]any
	if apiErr := decodeEnvelope(t, listResp.Body, &summaries); apiErr != nil {
		t.Fatalf("listing conversations: %+v", apiErr)
	}
	if len(summaries) != 0 {
		t.Errorf("conversations after failed chat = %d, want 0", len(summaries))
	}
}

func TestChatExplicitModelSelection(t *testing.T) {
	env := newServerEnv(t)
	env.model.Enqueue(testutil.MockStep{Text: "answer"})
	c := env.client()

	body := `{"model":"googleai/test-model","message":{"parts":[{"type":"text","text":"hi"}]}}`
	resp := env.postChat(c, body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %s", resp.StatusCode, b)
	}
	events := testutil.ReadEvents(t, resp.Body)
	if events[len(events)-1].Type != stream.EventFinish {
		t.Fatalf("terminal = %s, want finish", events[len(events)-1].Type)
	}

	resp = env.postChat(c, `{"model":"unknown-provider/x","message":{"parts":[{"type":"text","text":"hi"}]}}`)
	wantStatus(t, resp, http.StatusBadRequest, codeBadRequest)
}

// TestChatStreamReattach covers the reconnect path: a client that lost
// its stream re-attaches and receives the full replay plus the tail,
// with sequence numbers it can dedupe on.
func TestChatStreamReattach(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	convID, wait := env.startBlocked(c, "partial ")

	resp := env.do(c, http.MethodGet, "/api/v1/chat/"+convID.String()+"/stream", "")
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("GET stream status = %d, body %s", resp.StatusCode, body)
	}

	// Replay covers everything published so far; then the tail arrives
	// after we release the generation by stopping it.
	dec := stream.NewDecoder(resp.Body)
	var replayed []stream.Event
	readCtx, cancelRead := context.WithTimeout(context.Background(), apiTestTimeout)
	defer cancelRead()
	for len(replayed) < 4 && dec.Next(readCtx) {
		replayed = append(replayed, dec.Event())
	}
	wantPrefix := []string{"start", "data", "text-start", "text-delta"}
	if got := testutil.EventTypes(replayed); fmt.Sprintf("%v", got) != fmt.Sprintf("%v", wantPrefix) {
		t.Fatalf("replayed prefix = %v, want %v", got, wantPrefix)
	}

	stopResp := env.do(c, http.MethodPost, "/api/v1/chat/"+convID.String()+"/stop", "")
	wantStatus(t, stopResp, http.StatusAccepted, "")

	var tail []stream.Event
	for dec.Next(readCtx) {
		tail = append(tail, dec.Event())
	}
	resp.Body.Close()
	if !dec.Terminated() {
		t.Fatalf("re-attached stream not terminated, tail %s", fmtTypes(tail))
	}
	last := tail[len(tail)-1]
	if last.Type != stream.EventFinish || last.StopReason != message.StopReasonInterrupted {
		t.Fatalf("terminal = %+v, want interrupted finish", last)
	}

	// The original stream saw the same sequence.
	original := wait()
	if len(original) == 0 || original[len(original)-1].Seq != last.Seq {
		t.Errorf("original stream ended at seq %d, re-attached at %d",
			original[len(original)-1].Seq, last.Seq)
	}
}

func TestChatStreamNoLiveSession(t *testing.T) {
	env := newServerEnv(t)
	env.model.Enqueue(testutil.MockStep{Text: "done"})
	c := env.client()

	events := env.sendMessage(c, "hello", "")
	convID := conversationID(t, events)

	// Generation finished; the slot is empty.
	deadline := time.Now().Add(apiTestTimeout)
	for env.registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after finish")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := env.do(c, http.MethodGet, "/api/v1/chat/"+convID.String()+"/stream", "")
	wantStatus(t, resp, http.StatusNoContent, "")

	resp = env.do(c, http.MethodPost, "/api/v1/chat/"+convID.String()+"/stop", "")
	wantStatus(t, resp, http.StatusNoContent, "")
}

func TestChatStopForeignSession(t *testing.T) {
	env := newServerEnv(t)
	owner := env.client()
	convID, wait := env.startBlocked(owner)

	intruder := env.client()
	resp := env.do(intruder, http.MethodPost, "/api/v1/chat/"+convID.String()+"/stop", "")
	wantStatus(t, resp, http.StatusForbidden, codeForbidden)

	resp = env.do(owner, http.MethodPost, "/api/v1/chat/"+convID.String()+"/stop", "")
	wantStatus(t, resp, http.StatusAccepted, "")
	wait()
}

// TestChatConcurrentSubscribers attaches two extra streams to one live
// generation and checks all three observers converge on identical
// event sequences.
func TestChatConcurrentSubscribers(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	convID, wait := env.startBlocked(c, "shared ")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		streams [][]stream.Event
	)
	for i := 0; i < 2; i++ {
		resp := env.do(c, http.MethodGet, "/api/v1/chat/"+convID.String()+"/stream", "")
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.Fatalf("GET stream status = %d", resp.StatusCode)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer resp.Body.Close()
			dec := stream.NewDecoder(resp.Body)
			var got []stream.Event
			for dec.Next(context.Background()) {
				got = append(got, dec.Event())
			}
			mu.Lock()
			streams = append(streams, got)
			mu.Unlock()
		}()
	}

	// Give both subscribers a moment to attach before ending the
	// generation; replay makes attachment timing invisible either way.
	time.Sleep(20 * time.Millisecond)
	stopResp := env.do(c, http.MethodPost, "/api/v1/chat/"+convID.String()+"/stop", "")
	wantStatus(t, stopResp, http.StatusAccepted, "")

	original := wait()
	wg.Wait()

	if len(streams) != 2 {
		t.Fatalf("collected %d streams, want 2", len(streams))
	}
	for i, s := range streams {
		if fmtTypes(s) != fmtTypes(original) {
			t.Errorf("subscriber %d saw %s, original saw %s", i, fmtTypes(s), fmtTypes(original))
		}
		for j := range s {
			if s[j].Seq != original[j].Seq {
				t.Errorf("subscriber %d event %d seq = %d, want %d", i, j, s[j].Seq, original[j].Seq)
				break
			}
		}
	}
}

// TestChatSupersede sends a second message while the first is still
// generating: the first stream terminates with an interrupted finish,
// the second runs to completion, and both pairs of turns persist in
// order.
func TestChatSupersede(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	convID, wait := env.startBlocked(c, "unfinished ")
	env.model.Enqueue(testutil.MockStep{Text: "second answer"})

	second := env.sendMessage(c, "follow-up", convID.String())
	if last := second[len(second)-1]; last.Type != stream.EventFinish || last.StopReason != message.StopReasonStop {
		t.Fatalf("second stream terminal = %+v", last)
	}

	first := wait()
	if last := first[len(first)-1]; last.Type != stream.EventFinish || last.StopReason != message.StopReasonInterrupted {
		t.Fatalf("first stream terminal = %+v, want interrupted finish", last)
	}

	conv, err := env.store.Conversation(context.Background(), convID)
	if err != nil {
		t.Fatalf("loading conversation: %v", err)
	}
	if len(conv.Turns) != 4 {
		t.Fatalf("persisted turns = %d, want 4", len(conv.Turns))
	}
	if conv.Turns[1].StopReason != message.StopReasonInterrupted {
		t.Errorf("interrupted turn stop reason = %q", conv.Turns[1].StopReason)
	}
	if got := conv.Turns[1].Text(); got != "unfinished " {
		t.Errorf("interrupted turn text = %q, want the streamed prefix", got)
	}
	if conv.Turns[3].Text() != "second answer" {
		t.Errorf("final turn text = %q", conv.Turns[3].Text())
	}
}

// TestChatClientDisconnect closes the request body mid-generation and
// checks the generation survives the disconnect, stays re-attachable,
// and persists its turns.
func TestChatClientDisconnect(t *testing.T) {
	env := newServerEnv(t)
	c := env.client()

	started := make(chan struct{})
	env.model.Enqueue(testutil.MockStep{
		Chunks:       []string{"keep going "},
		Block:        true,
		BlockStarted: started,
	})

	resp := env.postChat(c, chatBody("question", ""))
	dec := stream.NewDecoder(resp.Body)
	var convID uuid.UUID
	readCtx, cancelRead := context.WithTimeout(context.Background(), apiTestTimeout)
	defer cancelRead()
	for convID == uuid.Nil && dec.Next(readCtx) {
		ev := dec.Event()
		if ev.Type == stream.EventData && ev.Name == "new-conversation" {
			var payload struct {
				ID uuid.UUID `json:"id"`
			}
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				t.Fatalf("decoding new-conversation payload: %v", err)
			}
			convID = payload.ID
		}
	}
	if convID == uuid.Nil {
		t.Fatal("stream ended before announcing its conversation")
	}
	select {
	case <-started:
	case <-time.After(apiTestTimeout):
		t.Fatal("model never reached the blocked step")
	}

	// Drop the connection. The generation must keep running.
	resp.Body.Close()
	time.Sleep(20 * time.Millisecond)
	if env.registry.Len() != 1 {
		t.Fatalf("live sessions after disconnect = %d, want 1", env.registry.Len())
	}

	stopResp := env.do(c, http.MethodPost, "/api/v1/chat/"+convID.String()+"/stop", "")
	wantStatus(t, stopResp, http.StatusAccepted, "")

	deadline := time.Now().Add(apiTestTimeout)
	for {
		conv, err := env.store.Conversation(context.Background(), convID)
		if err == nil && len(conv.Turns) == 2 {
			if conv.Turns[1].StopReason != message.StopReasonInterrupted {
				t.Errorf("stop reason = %q, want interrupted", conv.Turns[1].StopReason)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("turns never persisted after disconnect + stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
