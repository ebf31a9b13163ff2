package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/stream"
)

// uidCookieName is the server's identity cookie. The value is opaque
// here; it only needs to ride along on every request so the server
// keeps attributing conversations to this installation.
const uidCookieName = "strand_uid"

// provisionalPrefix marks conversation ids minted client-side before
// the server has assigned a permanent one.
const provisionalPrefix = "local-"

// announceName is the data event carrying the permanent id of a
// conversation the server created for this request.
const announceName = "new-conversation"

// HTTPClient issues HTTP requests. *http.Client satisfies it; tests
// inject a scripted implementation.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Status is the consumer's place in the send/stream cycle.
type Status int

const (
	// StatusIdle means no generation is in flight.
	StatusIdle Status = iota

	// StatusSubmitted means a message was sent but no event has
	// arrived yet.
	StatusSubmitted

	// StatusStreaming means events are arriving and being folded into
	// the local transcript.
	StatusStreaming

	// StatusError means the last generation failed; LastError carries
	// the cause.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSubmitted:
		return "submitted"
	case StatusStreaming:
		return "streaming"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// NewProvisionalID mints an id for a conversation that has not reached
// the server yet.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisional reports whether id is a client-minted placeholder.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// ConsumerConfig configures a Consumer. BaseURL is required; every
// other field has a usable zero value.
type ConsumerConfig struct {
	// ID binds the consumer to a conversation. Empty mints a
	// provisional id.
	ID string

	// BaseURL is the server root, e.g. "http://127.0.0.1:3400".
	BaseURL string

	// Model pins an explicit model selection for every send, e.g.
	// "openai/gpt-4o-mini". Empty lets the server resolve one.
	Model string

	HTTPClient HTTPClient
	Logger     log.Logger

	// Cookie supplies the identity cookie value for each request.
	Cookie func() string

	// CookieChanged observes the server minting or rotating the
	// identity cookie, so callers can persist the new value.
	CookieChanged func(value string)

	// Moved observes the consumer re-keying itself from a provisional
	// id to the server-assigned permanent one. [Registry.RegisterOrGet]
	// wires this to [Registry.Move].
	Moved func(oldID, newID string)
}

// Consumer owns the client-side transcript of one conversation. It
// sends user turns, folds the server's event stream into local state,
// and signals Updates after every change so UIs can repaint.
//
// Turns and Status never block on an in-flight generation: the fold
// loop holds the mutex only long enough to swap in the next snapshot.
// SendMessage, Resume, and Attach block for the whole generation and
// are meant to run on their own goroutine.
type Consumer struct {
	http    HTTPClient
	baseURL string
	model   string
	logger  log.Logger

	cookie        func() string
	cookieChanged func(string)
	moved         func(oldID, newID string)

	mu      sync.Mutex
	id      string
	title   string
	turns   []message.Turn
	status  Status
	lastErr error
	busy    bool

	// rekeyed closes once the id turns permanent; settled closes when
	// the current generation attempt ends. Stop waits on them when it
	// races the new-conversation announcement.
	rekeyed     chan struct{}
	rekeyClosed bool
	settled     chan struct{}

	updates chan struct{}
}

// NewConsumer builds a consumer bound to cfg.ID. Most callers go
// through [Registry.RegisterOrGet] instead, which wires the re-key and
// cookie hooks.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.ID == "" {
		cfg.ID = NewProvisionalID()
	}
	if cfg.HTTPClient == nil {
		// No client-level timeout: streams stay open for the whole
		// generation. Cancellation comes from the request context.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		// Quiet by default: consumers often run underneath a terminal
		// UI where stray log lines would garble the render.
		cfg.Logger = log.NewNop()
	}
	c := &Consumer{
		http:          cfg.HTTPClient,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		model:         cfg.Model,
		logger:        cfg.Logger,
		cookie:        cfg.Cookie,
		cookieChanged: cfg.CookieChanged,
		moved:         cfg.Moved,
		id:            cfg.ID,
		rekeyed:       make(chan struct{}),
		updates:       make(chan struct{}, 1),
	}
	if !IsProvisional(c.id) {
		c.markPermanentLocked()
	}
	return c
}

// markPermanentLocked releases anyone waiting for the permanent id.
// Callers hold mu, except NewConsumer before the consumer escapes.
func (c *Consumer) markPermanentLocked() {
	if !c.rekeyClosed {
		c.rekeyClosed = true
		close(c.rekeyed)
	}
}

// chatRequest mirrors the server's POST /api/v1/chat body.
type chatRequest struct {
	ConversationID string      `json:"conversationId,omitempty"`
	Message        chatMessage `json:"message"`
	Model          string      `json:"model,omitempty"`
}

type chatMessage struct {
	Parts []message.Part `json:"parts"`
}

// newConversation mirrors the payload of the server's one-time
// new-conversation announcement.
type newConversation struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// envelope mirrors the server's JSON response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendMessage appends text as a user turn, posts it, and folds the
// response stream until the generation ends. Only the new turn travels;
// the server reconstructs history from storage. The optimistic user
// turn is rolled back if the server never starts streaming.
func (c *Consumer) SendMessage(ctx context.Context, text string) error {
	userTurn := message.NewUserTurn(text)

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrConsumerStreaming
	}
	c.busy = true
	c.settled = make(chan struct{})
	c.status = StatusSubmitted
	c.lastErr = nil
	c.turns = append(c.turns, userTurn)
	id := c.id
	c.mu.Unlock()
	c.notify()

	body := chatRequest{
		Message: chatMessage{Parts: userTurn.Parts},
		Model:   c.model,
	}
	if !IsProvisional(id) {
		body.ConversationID = id
	}

	resp, err := c.post(ctx, "/api/v1/chat", body)
	if err != nil {
		c.abandonSend(userTurn.ID, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := apiErrorFrom(resp)
		c.abandonSend(userTurn.ID, apiErr)
		return apiErr
	}

	return c.consume(ctx, resp.Body)
}

// Stop asks the server to wind the generation down. The finish event
// arrives through the open stream, so this returns as soon as the stop
// is accepted. Stopping an idle consumer is a no-op.
//
// A stop issued before the new-conversation announcement has folded
// waits for the re-key rather than dropping the request: the permanent
// id precedes any content on the stream, so the wait is brief. If the
// stream settles first there is nothing left to stop.
func (c *Consumer) Stop(ctx context.Context) error {
	var id string
	for {
		c.mu.Lock()
		id = c.id
		busy := c.busy
		rekeyed, settled := c.rekeyed, c.settled
		c.mu.Unlock()
		if !busy {
			return nil
		}
		if !IsProvisional(id) {
			break
		}
		select {
		case <-rekeyed:
		case <-settled:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	resp, err := c.post(ctx, "/api/v1/chat/"+id+"/stop", nil)
	if err != nil {
		return fmt.Errorf("requesting stop: %w", err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNoContent:
		// Accepted, or the generation already wound down on its own.
		return nil
	default:
		return apiErrorFrom(resp)
	}
}

// Resume re-attaches to the conversation's live generation and folds
// its replayed events. It returns nil immediately when the server has
// no live session. Like SendMessage, it blocks until the stream ends.
func (c *Consumer) Resume(ctx context.Context) error {
	_, err := c.resume(ctx)
	return err
}

// resume additionally reports whether it attached to a live stream, so
// Attach knows a final resynchronization is due.
func (c *Consumer) resume(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return false, ErrConsumerStreaming
	}
	id := c.id
	if IsProvisional(id) {
		c.mu.Unlock()
		return false, nil
	}
	c.busy = true
	c.settled = make(chan struct{})
	c.status = StatusSubmitted
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	resp, err := c.get(ctx, "/api/v1/chat/"+id+"/stream")
	if err != nil {
		c.finish(StatusError, err)
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, c.consume(ctx, resp.Body)
	case http.StatusNoContent:
		c.finish(StatusIdle, nil)
		return false, nil
	default:
		apiErr := apiErrorFrom(resp)
		c.finish(StatusError, apiErr)
		return false, apiErr
	}
}

// Attach is the (re)mount sequence: reload the transcript from the
// server's persisted state, then re-attach to any generation still
// live. The live stream replays only the in-flight assistant turn, and
// the server persists the finished pair before the terminal event, so
// a successful re-attach resynchronizes once more after the stream
// settles. Like SendMessage, it blocks until any live stream ends.
func (c *Consumer) Attach(ctx context.Context) error {
	if err := c.Resync(ctx); err != nil {
		return err
	}
	attached, err := c.resume(ctx)
	if err != nil || !attached {
		return err
	}
	return c.Resync(ctx)
}

// Resync replaces the local transcript with the server's persisted
// state, bounding any staleness left by a previous run. Only legal
// between generations.
func (c *Consumer) Resync(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrConsumerStreaming
	}
	id := c.id
	c.mu.Unlock()

	if IsProvisional(id) {
		// Nothing persisted under a provisional id.
		return nil
	}

	resp, err := c.get(ctx, "/api/v1/conversations/"+id)
	if err != nil {
		return fmt.Errorf("fetching conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiErrorFrom(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding conversation: %w", err)
	}
	var conv conversation.Conversation
	if err := json.Unmarshal(env.Data, &conv); err != nil {
		return fmt.Errorf("decoding conversation: %w", err)
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrConsumerStreaming
	}
	c.turns = conv.Turns
	c.title = conv.Title
	if c.status == StatusError {
		c.status = StatusIdle
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ID returns the conversation id, permanent once the server has
// announced one.
func (c *Consumer) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Title returns the server-assigned conversation title, empty until
// the first generation announces it.
func (c *Consumer) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// Turns returns a deep copy of the local transcript.
func (c *Consumer) Turns() []message.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return message.CloneTurns(c.turns)
}

// Status returns the consumer's current place in the send cycle.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the error behind StatusError, nil otherwise.
func (c *Consumer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Streaming reports whether a generation is in flight.
func (c *Consumer) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Updates returns the coalesced change-notification channel. After a
// receive, read Turns and Status for the current state; bursts of
// changes collapse into a single signal.
func (c *Consumer) Updates() <-chan struct{} {
	return c.updates
}

func (c *Consumer) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// setID is the registry's side of a re-key. Idempotent: a move the
// consumer itself initiated already carries the new id.
func (c *Consumer) setID(id string) {
	c.mu.Lock()
	changed := c.id != id
	c.id = id
	if !IsProvisional(id) {
		c.markPermanentLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// consume folds the event stream into the transcript until a terminal
// envelope, the connection closing, or ctx canceling, and settles the
// consumer's final status. Partial content is always kept.
func (c *Consumer) consume(ctx context.Context, body io.Reader) error {
	acc := stream.NewAccumulator()
	dec := stream.NewDecoder(body)

	var streamErr *StreamError
	for dec.Next(ctx) {
		ev := dec.Event()
		if ev.Type == stream.EventData && ev.Name == announceName {
			c.rekey(ev.Data)
		}
		if ev.Type == stream.EventError {
			streamErr = &StreamError{Code: ev.Code, Message: ev.ErrorText}
		}
		if acc.Apply(ev) {
			c.publishFold(acc)
		}
	}

	switch {
	case dec.Err() != nil:
		c.interrupt(acc)
		if ctx.Err() != nil {
			// Deliberate local cancellation, not a failure. The server
			// keeps generating; Resume can pick the stream back up.
			c.finish(StatusIdle, nil)
			return ctx.Err()
		}
		c.finish(StatusError, dec.Err())
		return dec.Err()

	case acc.Finished() && streamErr != nil:
		c.finish(StatusError, streamErr)
		return streamErr

	case acc.Finished():
		c.finish(StatusIdle, nil)
		return nil

	case dec.DecodeErr() != nil:
		// The stream ended on a malformed envelope with no valid
		// terminal after it. Applied parts stay.
		c.interrupt(acc)
		err := fmt.Errorf("stream ended on malformed envelope: %w", dec.DecodeErr())
		c.finish(StatusError, err)
		return err

	default:
		// Connection closed without a terminal envelope: same shape
		// the server persists when a generation is cut short.
		c.interrupt(acc)
		c.finish(StatusIdle, nil)
		return nil
	}
}

// publishFold swaps the accumulator's latest snapshot into the
// transcript, replacing the previous fold of the same turn. Resumed
// streams replay the generation from the top, so matching on turn id
// keeps re-folds from duplicating the assistant turn.
func (c *Consumer) publishFold(acc *stream.Accumulator) {
	if !acc.Started() {
		return
	}
	t := acc.Turn()
	c.mu.Lock()
	if i := len(c.turns) - 1; i >= 0 && c.turns[i].Role == message.RoleAssistant && c.turns[i].ID == t.ID {
		c.turns[i] = t
	} else {
		c.turns = append(c.turns, t)
	}
	if c.status == StatusSubmitted {
		c.status = StatusStreaming
	}
	c.mu.Unlock()
	c.notify()
}

// interrupt finalizes a cut-short fold with an interrupted stop reason.
func (c *Consumer) interrupt(acc *stream.Accumulator) {
	if !acc.Started() || acc.Finished() {
		return
	}
	acc.Interrupt()
	c.publishFold(acc)
}

// finish settles the consumer after a generation attempt.
func (c *Consumer) finish(status Status, err error) {
	c.mu.Lock()
	c.busy = false
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
	c.status = status
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
}

// abandonSend rolls the optimistic user turn back out of the local
// transcript. The message never reached a stream, so keeping it would
// show the user a turn the server has no record of.
func (c *Consumer) abandonSend(turnID uuid.UUID, err error) {
	c.mu.Lock()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].ID == turnID {
			c.turns = append(c.turns[:i], c.turns[i+1:]...)
			break
		}
	}
	c.busy = false
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
	c.status = StatusError
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
}

// rekey swaps the provisional id for the server-assigned permanent one
// and hands the change to the registry hook. The announcement arrives
// before any content event, so observers never see parts under a stale
// id.
func (c *Consumer) rekey(data json.RawMessage) {
	var nc newConversation
	if err := json.Unmarshal(data, &nc); err != nil || nc.ID == uuid.Nil {
		c.logger.Warn("malformed new-conversation payload", "error", err)
		return
	}
	newID := nc.ID.String()

	c.mu.Lock()
	oldID := c.id
	if oldID == newID {
		c.mu.Unlock()
		return
	}
	c.id = newID
	c.title = nc.Title
	c.markPermanentLocked()
	c.mu.Unlock()
	c.notify()

	if c.moved != nil {
		c.moved(oldID, newID)
	}
}

func (c *Consumer) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Consumer) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return c.do(req)
}

func (c *Consumer) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", stream.ContentType+", application/json")
	if c.cookie != nil {
		if v := c.cookie(); v != "" {
			req.AddCookie(&http.Cookie{Name: uidCookieName, Value: v})
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	c.captureCookie(resp)
	return resp, nil
}

// captureCookie hands a freshly minted identity cookie to the caller
// so the next run keeps ownership of its conversations.
func (c *Consumer) captureCookie(resp *http.Response) {
	if c.cookieChanged == nil {
		return
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == uidCookieName && ck.Value != "" {
			c.cookieChanged(ck.Value)
		}
	}
}

// apiErrorFrom turns a non-2xx response into an APIError, salvaging
// the server's code and message when the body carries the standard
// envelope.
func apiErrorFrom(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	if err != nil {
		return apiErr
	}
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 8<<10))
}
