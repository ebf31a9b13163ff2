package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/log"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/stream"
)

const (
	defaultMaxTurns        = 8
	defaultMaxHistoryTurns = 100

	// persistTimeout bounds the storage write that runs after the
	// generation context is already done.
	persistTimeout = 10 * time.Second
)

// State is a session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateGenerating
	StateAborted
	StateFinishing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateAborted:
		return "aborted"
	case StateFinishing:
		return "finishing"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is the persistence surface a session needs: appending the
// finished pair of turns to its conversation.
type Store interface {
	AppendTurns(ctx context.Context, conversationID uuid.UUID, turns []message.Turn) error
}

// NewConversation is the payload of the data-new-conversation event,
// announcing the permanent id of a conversation created by the request
// that started this session.
type NewConversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config defines the dependencies and parameters for a session.
type Config struct {
	Genkit *genkit.Genkit
	Store  Store
	Logger log.Logger
	Tools  []ai.Tool

	// ConversationID and OwnerID bind the session to its conversation.
	ConversationID uuid.UUID
	OwnerID        string

	// History holds the conversation's prior turns, oldest first.
	// UserTurn is the message that triggered this generation; it is
	// persisted together with the assistant turn when the session
	// finishes.
	History  []message.Turn
	UserTurn message.Turn

	// ModelName is the full model reference ("googleai/gemini-2.5-flash").
	// Provider is its prefix, used to pick a cache strategy when Cache
	// is nil.
	ModelName    string
	Provider     string
	SystemPrompt string

	// MaxTurns caps tool-loop iterations. Default: 8
	MaxTurns int

	// MaxHistoryTurns caps how many prior turns are rendered into the
	// prompt. Default: 100
	MaxHistoryTurns int

	// Cache annotates the prompt with provider cache hints.
	// Default: StrategyFor(Provider)
	Cache CacheStrategy

	// NewConversation, when set, is announced as a data event right
	// after start. Leave nil when the conversation already existed.
	NewConversation *NewConversation

	// OnDispose runs exactly once when the session disposes, after the
	// terminal event is in the replay buffer and before Done closes.
	OnDispose func()
}

func (c *Config) validate() error {
	if c.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.ConversationID == uuid.Nil {
		return errors.New("conversation id is required")
	}
	if c.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if c.ModelName == "" {
		return errors.New("model name is required")
	}
	if len(c.UserTurn.Parts) == 0 {
		return errors.New("user turn must have content")
	}
	return nil
}

// Session executes one generation for one conversation and streams it.
// Create with New, register with Registry.Create, then Start. All
// exported methods are safe for concurrent use.
type Session struct {
	id      uuid.UUID
	ownerID string

	g            *genkit.Genkit
	store        Store
	logger       log.Logger
	toolRefs     []ai.ToolRef
	modelName    string
	systemPrompt string
	maxTurns     int
	maxHistory   int
	cache        CacheStrategy

	history         []message.Turn
	userTurn        message.Turn
	newConversation *NewConversation
	onDispose       func()

	events *broadcaster
	done   chan struct{}

	mu             sync.Mutex
	state          State
	cancel         context.CancelFunc
	conversationID uuid.UUID

	// Everything below is owned by the run goroutine. The streaming
	// callback runs while that goroutine is blocked in the model call,
	// so access is sequential.
	seq        uint64
	acc        *stream.Accumulator
	turnID     uuid.UUID
	partCount  int
	openKind   string
	openPartID string
	usage      message.Usage
}

// New validates the configuration and returns an idle session.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	maxHistory := cfg.MaxHistoryTurns
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistoryTurns
	}
	cache := cfg.Cache
	if cache == nil {
		cache = StrategyFor(cfg.Provider)
	}

	id := uuid.New()
	return &Session{
		id:              id,
		ownerID:         cfg.OwnerID,
		g:               cfg.Genkit,
		store:           cfg.Store,
		logger:          cfg.Logger.With("session_id", id),
		toolRefs:        toolRefs,
		modelName:       cfg.ModelName,
		systemPrompt:    cfg.SystemPrompt,
		maxTurns:        maxTurns,
		maxHistory:      maxHistory,
		cache:           cache,
		history:         cfg.History,
		userTurn:        cfg.UserTurn,
		newConversation: cfg.NewConversation,
		onDispose:       cfg.OnDispose,
		events:          newBroadcaster(),
		done:            make(chan struct{}),
		conversationID:  cfg.ConversationID,
		acc:             stream.NewAccumulator(),
		turnID:          uuid.New(),
	}, nil
}

// ID returns the session's own identity, distinct from its
// conversation.
func (s *Session) ID() uuid.UUID { return s.id }

// OwnerID returns the user the session belongs to.
func (s *Session) OwnerID() string { return s.ownerID }

// TurnID returns the id the assistant turn will be persisted under.
func (s *Session) TurnID() uuid.UUID { return s.turnID }

// ConversationID returns the conversation the session is bound to.
func (s *Session) ConversationID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel that closes once the session is disposed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe replays every event published so far, then tails live
// ones. The channel closes on disposal or when the subscriber stops
// draining; see broadcaster.Subscribe.
func (s *Session) Subscribe() (<-chan stream.Event, func()) {
	return s.events.Subscribe()
}

// Events returns a copy of the event replay buffer.
func (s *Session) Events() []stream.Event { return s.events.Events() }

// Start launches the generation goroutine. The generation runs on a
// context detached from the caller: a disconnecting client does not
// abort it, only Stop or supersede does.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = StateGenerating
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop requests cancellation. It is idempotent and returns without
// waiting; use Done to observe disposal. The generation notices at the
// next chunk or tool boundary, persists what it produced with stop
// reason "interrupted", and disposes. Stopping a session that never
// started disposes it immediately.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateGenerating:
		s.state = StateAborted
		cancel := s.cancel
		convID := s.conversationID
		s.mu.Unlock()
		s.logger.Info("stopping generation", "conversation_id", convID)
		cancel()
	case StateIdle:
		// Never ran, so there is no goroutine to unwind. Dispose here
		// so a superseding session does not wait on one.
		s.state = StateDisposed
		s.mu.Unlock()
		s.disposeResources()
	default:
		s.mu.Unlock()
	}
}

// run drives the whole generation: prompt rendering, the tool loop,
// and finishing. It owns all event publication.
func (s *Session) run(ctx context.Context) {
	defer s.dispose()

	s.publish(stream.Event{Type: stream.EventStart, TurnID: s.turnID.String()})
	s.announceConversation()

	msgs := s.renderPrompt()

	stopReason := message.StopReasonStop
	var genErr error
	for turn := 0; ; turn++ {
		if turn >= s.maxTurns {
			genErr = fmt.Errorf("tool loop did not settle within %d turns", s.maxTurns)
			break
		}

		resp, err := genkit.Generate(ctx, s.g, s.generateOptions(msgs)...)
		if err != nil {
			if ctx.Err() != nil {
				stopReason = message.StopReasonInterrupted
			} else {
				genErr = err
			}
			break
		}
		s.addUsage(resp.Usage)
		s.closeOpenPart()

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			break
		}

		toolMsg, interrupted := s.runTools(ctx, requests)
		if interrupted {
			stopReason = message.StopReasonInterrupted
			break
		}
		msgs = append(msgs, resp.Message, toolMsg)
	}

	s.closeOpenPart()
	s.finish(stopReason, genErr)
}

// announceConversation publishes the permanent-id event for a
// conversation created by this request. It runs after start and before
// any content event, at most once.
func (s *Session) announceConversation() {
	if s.newConversation == nil {
		return
	}
	payload, err := json.Marshal(s.newConversation)
	if err != nil {
		s.logger.Warn("encoding new-conversation announcement", "error", err)
		return
	}
	s.publish(stream.Event{Type: stream.EventData, Name: "new-conversation", Data: payload})
}

// renderPrompt converts capped history plus the new user message into
// the model's message list. Messages are freshly built per session, so
// the model layer's in-place content mutation cannot leak across
// generations.
func (s *Session) renderPrompt() []*ai.Message {
	history := s.history
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}
	msgs := historyMessages(history)
	return append(msgs, turnMessages(s.userTurn)...)
}

func (s *Session) generateOptions(msgs []*ai.Message) []ai.GenerateOption {
	s.cache.Annotate(msgs)
	opts := []ai.GenerateOption{
		ai.WithModelName(s.modelName),
		ai.WithMessages(msgs...),
		ai.WithStreaming(s.handleChunk),
		ai.WithReturnToolRequests(true),
	}
	if s.systemPrompt != "" {
		opts = append(opts, ai.WithSystem(s.systemPrompt))
	}
	if len(s.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(s.toolRefs...))
	}
	return opts
}

// handleChunk streams model output as delta events, opening and
// closing parts as the content kind flips between text and reasoning.
func (s *Session) handleChunk(ctx context.Context, chunk *ai.ModelResponseChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range chunk.Content {
		switch {
		case p.IsReasoning():
			if p.Text != "" {
				s.streamDelta(message.TypeReasoning, p.Text)
			}
		case p.IsText():
			if p.Text != "" {
				s.streamDelta(message.TypeText, p.Text)
			}
		}
	}
	return nil
}

// streamDelta publishes one content delta, starting a new part when
// the kind changed since the previous delta.
func (s *Session) streamDelta(kind, text string) {
	if s.openKind != kind {
		s.closeOpenPart()
		s.openKind = kind
		s.openPartID = fmt.Sprintf("part-%d", s.partCount)
		s.partCount++
		start := stream.EventTextStart
		if kind == message.TypeReasoning {
			start = stream.EventReasoningStart
		}
		s.publish(stream.Event{Type: start, PartID: s.openPartID})
	}
	delta := stream.EventTextDelta
	if kind == message.TypeReasoning {
		delta = stream.EventReasoningDelta
	}
	s.publish(stream.Event{Type: delta, PartID: s.openPartID, Delta: text})
}

// closeOpenPart ends the currently accumulating text or reasoning
// part, if any. Safe to call repeatedly.
func (s *Session) closeOpenPart() {
	if s.openKind == "" {
		return
	}
	end := stream.EventTextEnd
	if s.openKind == message.TypeReasoning {
		end = stream.EventReasoningEnd
	}
	s.publish(stream.Event{Type: end, PartID: s.openPartID})
	s.openKind = ""
	s.openPartID = ""
}

// runTools executes the model's tool requests one by one, publishing
// the input and output of each. A failing tool becomes an output-error
// part and the loop continues; only cancellation interrupts the batch.
func (s *Session) runTools(ctx context.Context, requests []*ai.ToolRequest) (*ai.Message, bool) {
	parts := make([]*ai.Part, 0, len(requests))
	for _, req := range requests {
		if ctx.Err() != nil {
			return nil, true
		}

		callID := req.Ref
		if callID == "" {
			callID = "call-" + uuid.NewString()
		}
		s.publish(stream.Event{Type: stream.EventToolInputStart, ToolCallID: callID, ToolName: req.Name})
		s.publish(stream.Event{
			Type:       stream.EventToolInputAvailable,
			ToolCallID: callID,
			ToolName:   req.Name,
			Input:      marshalRaw(req.Input),
		})

		var (
			output any
			runErr error
		)
		if tool := genkit.LookupTool(s.g, req.Name); tool != nil {
			output, runErr = tool.RunRaw(ctx, req.Input)
		} else {
			runErr = fmt.Errorf("tool %q is not registered", req.Name)
		}
		if ctx.Err() != nil {
			return nil, true
		}
		if runErr != nil {
			s.logger.Warn("tool call failed", "tool", req.Name, "error", runErr)
			s.publish(stream.Event{
				Type:       stream.EventToolOutputError,
				ToolCallID: callID,
				ErrorText:  runErr.Error(),
			})
			parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   req.Name,
				Ref:    req.Ref,
				Output: map[string]any{"error": runErr.Error()},
			}))
			continue
		}

		s.publish(stream.Event{
			Type:       stream.EventToolOutputAvailable,
			ToolCallID: callID,
			Output:     marshalRaw(output),
		})
		parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   req.Name,
			Ref:    req.Ref,
			Output: output,
		}))
	}
	return &ai.Message{Role: ai.RoleTool, Content: parts}, false
}

// finish persists the turn pair and publishes the terminal event, in
// that order: once a subscriber sees finish, the turns are readable
// from storage. A failed write downgrades the terminal event to a
// persistence error; live subscribers keep the streamed content either
// way.
func (s *Session) finish(stopReason string, genErr error) {
	s.mu.Lock()
	s.state = StateFinishing
	convID := s.conversationID
	s.mu.Unlock()

	terminal := stream.Event{Type: stream.EventFinish, StopReason: stopReason}
	errText := ""
	if genErr != nil {
		stopReason = message.StopReasonError
		errText = genErr.Error()
		terminal = stream.Event{Type: stream.EventError, ErrorText: errText, Code: stream.CodeProviderError}
		s.logger.Error("generation failed", "conversation_id", convID, "error", genErr)
	} else if s.usage != (message.Usage{}) {
		u := s.usage
		terminal.Usage = &u
	}

	assistant := s.assistantTurn(stopReason, errText)

	// The generation context may already be canceled; persistence gets
	// its own deadline so an abort still reaches storage.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.AppendTurns(ctx, convID, []message.Turn{s.userTurn, assistant}); err != nil {
		s.logger.Error("persisting turns", "conversation_id", convID, "error", err)
		terminal = stream.Event{
			Type:      stream.EventError,
			ErrorText: "conversation could not be saved",
			Code:      stream.CodePersistenceError,
		}
	}

	s.publish(terminal)
	s.logger.Info("session finished",
		"conversation_id", convID,
		"stop_reason", assistant.StopReason,
		"parts", len(assistant.Parts),
	)
}

// assistantTurn folds the published events into the turn to persist
// and stamps it with the generation's metadata.
func (s *Session) assistantTurn(stopReason, errText string) message.Turn {
	turn := s.acc.Turn()
	turn.ID = s.turnID
	turn.Role = message.RoleAssistant
	turn.StopReason = stopReason
	turn.ErrorText = errText
	turn.Model = s.modelName
	turn.CreatedAt = time.Now().UTC()
	if s.usage != (message.Usage{}) {
		u := s.usage
		turn.Usage = &u
	}
	return turn
}

// publish assigns the next sequence number, folds the event into the
// session's accumulator, and hands it to the broadcaster. Only the run
// goroutine publishes, which is what keeps sequence numbers contiguous.
func (s *Session) publish(ev stream.Event) {
	s.seq++
	ev.Seq = s.seq
	s.acc.Apply(ev)
	s.events.Publish(ev)
}

func (s *Session) addUsage(u *ai.GenerationUsage) {
	if u == nil {
		return
	}
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
	s.usage.TotalTokens += u.TotalTokens
}

// dispose runs when the generation goroutine exits, whatever the path.
func (s *Session) dispose() {
	s.mu.Lock()
	s.state = StateDisposed
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.disposeResources()
}

// disposeResources closes the fanout, deregisters, and releases Done
// waiters, in that order: by the time Done closes, the registry slot
// is free.
func (s *Session) disposeResources() {
	s.events.Close()
	if s.onDispose != nil {
		s.onDispose()
	}
	close(s.done)
}
