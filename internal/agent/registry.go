package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/log"
)

// Registry tracks the live session of each conversation. A
// conversation has at most one: adding a session while another is live
// supersedes the old one. All methods are safe for concurrent use and
// hold the lock only for map operations, never while waiting.
type Registry struct {
	logger log.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create claims the conversation's session slot for s, superseding any
// live session: the old one is stopped and fully disposed before s is
// inserted, so two generations never overlap on one conversation. ctx
// bounds the wait for the old session to unwind. The caller Starts s
// after Create returns.
//
// Returns ErrForbidden when the live session belongs to another user.
func (r *Registry) Create(ctx context.Context, s *Session) error {
	convID := s.ConversationID()
	for {
		r.mu.Lock()
		old, ok := r.sessions[convID]
		if !ok {
			r.sessions[convID] = s
			r.mu.Unlock()
			return nil
		}
		if old.OwnerID() != s.OwnerID() {
			r.mu.Unlock()
			return ErrForbidden
		}
		r.mu.Unlock()

		r.logger.Info("superseding live session",
			"conversation_id", convID,
			"old_session_id", old.ID(),
			"new_session_id", s.ID(),
		)
		old.Stop()
		select {
		case <-old.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for superseded session: %w", ctx.Err())
		}
		// The old session removed itself on disposal. Loop instead of
		// inserting directly: a concurrent Create may have taken the
		// slot first, in which case that session gets superseded too.
	}
}

// Get returns the conversation's live session. ErrNoLiveSession when
// there is none, ErrForbidden when it belongs to another user.
func (r *Registry) Get(conversationID uuid.UUID, ownerID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conversationID]
	if !ok {
		return nil, ErrNoLiveSession
	}
	if s.OwnerID() != ownerID {
		return nil, ErrForbidden
	}
	return s, nil
}

// Remove clears s from the registry. It only removes the exact
// session, so a disposed session cannot evict its successor.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	convID := s.ConversationID()
	if r.sessions[convID] == s {
		delete(r.sessions, convID)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown stops every live session and waits for each to dispose,
// bounded by ctx. Used on server shutdown so in-flight turns still
// reach storage.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for sessions to dispose: %w", ctx.Err())
		}
	}
	return nil
}
