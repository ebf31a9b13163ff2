package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/conversation"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListConversations(r.Context(), UserID(r.Context()))
	if err != nil {
		writeDomainError(w, s.contextLogger(r.Context()), err)
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	WriteJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, conv)
}

// handleDeleteConversation removes a conversation. A live session on it
// is stopped first and given a moment to unwind, so its final persist
// does not race the row deletion.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	if sess, err := s.registry.Get(conv.ID, UserID(r.Context())); err == nil {
		sess.Stop()
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		select {
		case <-sess.Done():
		case <-ctx.Done():
			s.contextLogger(r.Context()).Warn("session did not dispose before delete",
				"conversation_id", conv.ID)
		}
		cancel()
	}

	deleted, err := s.store.DeleteConversation(r.Context(), conv.ID)
	if err != nil {
		writeDomainError(w, s.contextLogger(r.Context()), err)
		return
	}
	if !deleted {
		WriteError(w, http.StatusNotFound, codeNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedConversation loads the {id} conversation and enforces ownership,
// writing the error response itself on any failure.
func (s *Server) ownedConversation(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, codeBadRequest, "malformed conversation id")
		return nil, false
	}
	conv, err := s.store.Conversation(r.Context(), id)
	if err != nil {
		writeDomainError(w, s.contextLogger(r.Context()), err)
		return nil, false
	}
	if conv.OwnerID != UserID(r.Context()) {
		WriteError(w, http.StatusForbidden, codeForbidden, "conversation belongs to another user")
		return nil, false
	}
	return conv, true
}
