package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/stream"
)

// maxChatBody caps the request body for POST /chat. A user message is
// text; anything near this limit is abuse, not conversation.
const maxChatBody = 1 << 20

type chatRequest struct {
	ConversationID string      `json:"conversationId,omitempty"`
	Message        chatMessage `json:"message"`
	Model          string      `json:"model,omitempty"`
}

type chatMessage struct {
	Parts []message.Part `json:"parts"`
}

// handleChat starts a generation and responds with its event stream.
// Without a conversationId it creates a conversation owned by the
// caller; the permanent id travels to the client as the stream's
// data-new-conversation event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := s.contextLogger(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "request body exceeds 1 MB")
			return
		}
		WriteError(w, http.StatusBadRequest, codeBadRequest, "malformed request body")
		return
	}

	userTurn, err := userTurnFromRequest(req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	uid := UserID(r.Context())

	// Model resolution happens before any row or session exists, so a
	// missing configuration is a plain HTTP error, not a stream error
	// event, and never leaves an empty conversation behind.
	res, err := s.cfg.ResolveModel(req.Model)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}

	var (
		conv     *conversation.Conversation
		announce *agent.NewConversation
	)
	if req.ConversationID != "" {
		id, perr := uuid.Parse(req.ConversationID)
		if perr != nil {
			WriteError(w, http.StatusBadRequest, codeBadRequest, "malformed conversation id")
			return
		}
		conv, err = s.store.Conversation(r.Context(), id)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if conv.OwnerID != uid {
			WriteError(w, http.StatusForbidden, codeForbidden, "conversation belongs to another user")
			return
		}
	} else {
		conv, err = s.store.CreateConversation(r.Context(), uid, message.DeriveTitle(userTurn))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		announce = &agent.NewConversation{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
		}
	}

	var sess *agent.Session
	sess, err = agent.New(agent.Config{
		Genkit:          s.genkit,
		Store:           s.store,
		Logger:          logger,
		Tools:           s.tools,
		ConversationID:  conv.ID,
		OwnerID:         uid,
		History:         conv.Turns,
		UserTurn:        userTurn,
		ModelName:       res.FullName(),
		Provider:        res.Provider,
		SystemPrompt:    s.systemPrompt,
		MaxTurns:        s.cfg.MaxTurns,
		MaxHistoryTurns: s.cfg.MaxHistoryTurns,
		NewConversation: announce,
		OnDispose:       func() { s.registry.Remove(sess) },
	})
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}

	if err := s.registry.Create(r.Context(), sess); err != nil {
		writeDomainError(w, logger, err)
		return
	}

	// Subscribe before Start so the response begins at the first event
	// even if the model answers instantly.
	events, cancel := sess.Subscribe()
	defer cancel()

	if err := sess.Start(); err != nil {
		s.registry.Remove(sess)
		writeDomainError(w, logger, err)
		return
	}

	s.pumpEvents(w, r, events)
}

// handleChatStream re-attaches to the live generation of a
// conversation: full replay, then tail. 204 when nothing is running.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSession(w, r)
	if !ok {
		return
	}
	events, cancel := sess.Subscribe()
	defer cancel()
	s.pumpEvents(w, r, events)
}

// handleChatStop requests cooperative cancellation. 202 because the
// generation winds down asynchronously; the terminal event lands on
// the streams, not here.
func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSession(w, r)
	if !ok {
		return
	}
	sess.Stop()
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// liveSession resolves the {id} path value to the conversation's live
// session. It writes the response for every failure path: 400 on a bad
// id, 403 on foreign ownership, 204 when no session is live.
func (s *Server) liveSession(w http.ResponseWriter, r *http.Request) (*agent.Session, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, codeBadRequest, "malformed conversation id")
		return nil, false
	}
	sess, err := s.registry.Get(id, UserID(r.Context()))
	switch {
	case errors.Is(err, agent.ErrNoLiveSession):
		w.WriteHeader(http.StatusNoContent)
		return nil, false
	case errors.Is(err, agent.ErrForbidden):
		WriteError(w, http.StatusForbidden, codeForbidden, "conversation belongs to another user")
		return nil, false
	case err != nil:
		writeDomainError(w, s.contextLogger(r.Context()), err)
		return nil, false
	}
	return sess, true
}

// pumpEvents copies session events onto the wire until the stream ends
// or the client goes away. A disconnect only detaches this subscriber;
// the generation keeps running for reconnects.
func (s *Server) pumpEvents(w http.ResponseWriter, r *http.Request, events <-chan stream.Event) {
	enc := stream.NewResponseEncoder(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := enc.Write(ctx, ev); err != nil {
				return
			}
			if ev.Terminal() {
				return
			}
		}
	}
}

// userTurnFromRequest validates the inbound message and shapes it into
// a user turn. Tool and reasoning parts are assistant output and are
// rejected; unknown part types are rejected rather than stored blind.
func userTurnFromRequest(req chatRequest) (message.Turn, error) {
	parts := req.Message.Parts
	if len(parts) == 0 {
		return message.Turn{}, errors.New("message must contain at least one part")
	}
	hasContent := false
	for _, p := range parts {
		switch {
		case p.IsText():
			if strings.TrimSpace(p.Text) != "" {
				hasContent = true
			}
		case p.IsData():
			hasContent = true
		case p.IsTool(), p.IsReasoning():
			return message.Turn{}, errors.New("message parts must be text or data")
		default:
			return message.Turn{}, fmt.Errorf("unsupported part type %q", p.Type)
		}
	}
	if !hasContent {
		return message.Turn{}, errors.New("message is empty")
	}

	for i := range parts {
		if parts[i].IsText() && parts[i].State == "" {
			parts[i].State = message.StateDone
		}
	}
	return message.Turn{
		ID:    uuid.New(),
		Role:  message.RoleUser,
		Parts: parts,
	}, nil
}
