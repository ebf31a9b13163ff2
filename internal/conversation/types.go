package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/message"
)

// ErrNotFound is returned when a conversation does not exist. Deleted
// and never-created conversations are indistinguishable.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a stored conversation with its full turn history.
type Conversation struct {
	ID        uuid.UUID      `json:"id"`
	OwnerID   string         `json:"-"`
	Title     string         `json:"title"`
	Turns     []message.Turn `json:"turns"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Summary is the listing view of a conversation, without turns.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turnCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
