package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/message"
)

// MemoryStore is an in-process conversation store for dev mode and
// tests. It mirrors [Store]'s behavior, including ErrNotFound semantics
// and returning deep copies.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[uuid.UUID]*Conversation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[uuid.UUID]*Conversation),
	}
}

// CreateConversation inserts an empty conversation owned by ownerID.
func (m *MemoryStore) CreateConversation(_ context.Context, ownerID, title string) (*Conversation, error) {
	if title == "" {
		title = message.DefaultTitle
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.convs[conv.ID] = conv
	m.mu.Unlock()

	clone := *conv
	return &clone, nil
}

// Conversation returns a deep copy of the stored conversation.
func (m *MemoryStore) Conversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}

	clone := *conv
	clone.Turns = message.CloneTurns(conv.Turns)
	return &clone, nil
}

// ListConversations returns summaries for ownerID's conversations, most
// recently updated first.
func (m *MemoryStore) ListConversations(_ context.Context, ownerID string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0)
	for _, conv := range m.convs {
		if conv.OwnerID != ownerID {
			continue
		}
		summaries = append(summaries, Summary{
			ID:        conv.ID,
			Title:     conv.Title,
			TurnCount: len(conv.Turns),
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		})
	}

	slices.SortFunc(summaries, func(a, b Summary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return summaries, nil
}

// AppendTurns appends deep copies of turns and bumps UpdatedAt.
func (m *MemoryStore) AppendTurns(_ context.Context, conversationID uuid.UUID, turns []message.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	conv.Turns = append(conv.Turns, message.CloneTurns(turns)...)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteConversation removes a conversation. The bool reports whether
// it existed.
func (m *MemoryStore) DeleteConversation(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.convs[id]; !ok {
		return false, nil
	}
	delete(m.convs, id)
	return true, nil
}
