package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/strandlabs/strand/internal/message"
	"github.com/strandlabs/strand/internal/sqlc"
)

// Querier is the database surface Store depends on. It matches the
// sqlc-generated methods so tests can substitute a mock.
type Querier interface {
	CreateConversation(ctx context.Context, arg sqlc.CreateConversationParams) (sqlc.Conversation, error)
	GetConversation(ctx context.Context, id pgtype.UUID) (sqlc.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]sqlc.Conversation, error)
	TouchConversation(ctx context.Context, arg sqlc.TouchConversationParams) error
	DeleteConversation(ctx context.Context, id pgtype.UUID) (int64, error)
	LockConversation(ctx context.Context, id pgtype.UUID) (pgtype.UUID, error)

	AddTurn(ctx context.Context, arg sqlc.AddTurnParams) error
	GetTurns(ctx context.Context, conversationID pgtype.UUID) ([]sqlc.ConversationTurn, error)
	GetMaxSequenceNumber(ctx context.Context, conversationID pgtype.UUID) (int32, error)
}

// Store persists conversations in PostgreSQL.
//
// Construct with [New]. When pool is nil, [Store.AppendTurns] runs
// without a transaction; that path exists for mock-backed tests only.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// New creates a Store. querier is normally sqlc.New(pool); pool is kept
// separately so AppendTurns can open transactions. A nil logger falls
// back to slog.Default().
func New(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier: querier,
		pool:    pool,
		logger:  logger,
	}
}

// CreateConversation inserts an empty conversation owned by ownerID.
// An empty title falls back to [message.DefaultTitle].
func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (*Conversation, error) {
	if title == "" {
		title = message.DefaultTitle
	}

	row, err := s.querier.CreateConversation(ctx, sqlc.CreateConversationParams{
		OwnerID: ownerID,
		Title:   title,
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	conv := conversationFromRow(row)
	s.logger.Debug("created conversation", "conversation_id", conv.ID, "title", conv.Title)
	return conv, nil
}

// Conversation loads a conversation and its turns, ordered by sequence
// number. Malformed turn rows are skipped with a warning rather than
// failing the whole load.
func (s *Store) Conversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row, err := s.querier.GetConversation(ctx, uuidToPgUUID(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}

	turnRows, err := s.querier.GetTurns(ctx, uuidToPgUUID(id))
	if err != nil {
		return nil, fmt.Errorf("getting turns for %s: %w", id, err)
	}

	conv := conversationFromRow(row)
	conv.Turns = make([]message.Turn, 0, len(turnRows))
	for _, tr := range turnRows {
		turn, err := turnFromRow(tr)
		if err != nil {
			s.logger.Warn("skipping malformed turn",
				"conversation_id", id,
				"turn_id", pgUUIDToUUID(tr.ID),
				"error", err)
			continue
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, nil
}

// ListConversations returns summaries for all conversations owned by
// ownerID, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]Summary, error) {
	rows, err := s.querier.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summaries := make([]Summary, len(rows))
	for i, row := range rows {
		summaries[i] = summaryFromRow(row)
	}
	return summaries, nil
}

// AppendTurns appends turns to a conversation, assigning consecutive
// sequence numbers after the current maximum. The conversation row is
// locked for the duration so concurrent appends serialize.
//
// Returns ErrNotFound if the conversation no longer exists, which
// happens when it was deleted while a generation was still running.
func (s *Store) AppendTurns(ctx context.Context, conversationID uuid.UUID, turns []message.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	if s.pool == nil {
		return s.appendTurnsNonTransactional(ctx, conversationID, turns)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	q := sqlc.New(tx)

	if _, err = q.LockConversation(ctx, uuidToPgUUID(conversationID)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	maxSeq, err := q.GetMaxSequenceNumber(ctx, uuidToPgUUID(conversationID))
	if err != nil {
		return fmt.Errorf("reading max sequence number: %w", err)
	}

	for i, turn := range turns {
		params, err := addTurnParams(conversationID, turn, maxSeq+int32(i)+1)
		if err != nil {
			return err
		}
		if err := q.AddTurn(ctx, params); err != nil {
			return fmt.Errorf("inserting turn %d: %w", i, err)
		}
	}

	if err := q.TouchConversation(ctx, sqlc.TouchConversationParams{
		TurnCount: maxSeq + int32(len(turns)),
		ID:        uuidToPgUUID(conversationID),
	}); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended turns",
		"conversation_id", conversationID,
		"count", len(turns),
		"last_sequence", maxSeq+int32(len(turns)))
	return nil
}

// appendTurnsNonTransactional is the pool-less fallback used by tests
// that inject a mock Querier. No row lock, no atomicity.
func (s *Store) appendTurnsNonTransactional(ctx context.Context, conversationID uuid.UUID, turns []message.Turn) error {
	if _, err := s.querier.LockConversation(ctx, uuidToPgUUID(conversationID)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	maxSeq, err := s.querier.GetMaxSequenceNumber(ctx, uuidToPgUUID(conversationID))
	if err != nil {
		return fmt.Errorf("reading max sequence number: %w", err)
	}

	for i, turn := range turns {
		params, err := addTurnParams(conversationID, turn, maxSeq+int32(i)+1)
		if err != nil {
			return err
		}
		if err := s.querier.AddTurn(ctx, params); err != nil {
			return fmt.Errorf("inserting turn %d: %w", i, err)
		}
	}

	if err := s.querier.TouchConversation(ctx, sqlc.TouchConversationParams{
		TurnCount: maxSeq + int32(len(turns)),
		ID:        uuidToPgUUID(conversationID),
	}); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and, via ON DELETE CASCADE,
// its turns. The bool reports whether a row was actually deleted.
func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) (bool, error) {
	affected, err := s.querier.DeleteConversation(ctx, uuidToPgUUID(id))
	if err != nil {
		return false, fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if affected == 0 {
		return false, nil
	}

	s.logger.Debug("deleted conversation", "conversation_id", id)
	return true, nil
}

func conversationFromRow(row sqlc.Conversation) *Conversation {
	return &Conversation{
		ID:        pgUUIDToUUID(row.ID),
		OwnerID:   row.OwnerID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

func summaryFromRow(row sqlc.Conversation) Summary {
	return Summary{
		ID:        pgUUIDToUUID(row.ID),
		Title:     row.Title,
		TurnCount: int(row.TurnCount),
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

func addTurnParams(conversationID uuid.UUID, turn message.Turn, seq int32) (sqlc.AddTurnParams, error) {
	partsJSON, err := json.Marshal(turn.Parts)
	if err != nil {
		return sqlc.AddTurnParams{}, fmt.Errorf("marshaling parts: %w", err)
	}

	var usageJSON []byte
	if turn.Usage != nil {
		usageJSON, err = json.Marshal(turn.Usage)
		if err != nil {
			return sqlc.AddTurnParams{}, fmt.Errorf("marshaling usage: %w", err)
		}
	}

	id := turn.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return sqlc.AddTurnParams{
		ID:             uuidToPgUUID(id),
		ConversationID: uuidToPgUUID(conversationID),
		Role:           turn.Role,
		Parts:          partsJSON,
		StopReason:     optionalString(turn.StopReason),
		ErrorText:      optionalString(turn.ErrorText),
		Model:          optionalString(turn.Model),
		Usage:          usageJSON,
		SequenceNumber: seq,
	}, nil
}

func turnFromRow(row sqlc.ConversationTurn) (message.Turn, error) {
	var parts []message.Part
	if err := json.Unmarshal(row.Parts, &parts); err != nil {
		return message.Turn{}, fmt.Errorf("unmarshaling parts: %w", err)
	}

	turn := message.Turn{
		ID:        pgUUIDToUUID(row.ID),
		Role:      row.Role,
		Parts:     parts,
		CreatedAt: row.CreatedAt.Time,
	}
	if row.StopReason != nil {
		turn.StopReason = *row.StopReason
	}
	if row.ErrorText != nil {
		turn.ErrorText = *row.ErrorText
	}
	if row.Model != nil {
		turn.Model = *row.Model
	}
	if len(row.Usage) > 0 {
		var usage message.Usage
		if err := json.Unmarshal(row.Usage, &usage); err != nil {
			return message.Turn{}, fmt.Errorf("unmarshaling usage: %w", err)
		}
		turn.Usage = &usage
	}
	return turn, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{
		Bytes: id,
		Valid: true,
	}
}

func pgUUIDToUUID(pgUUID pgtype.UUID) uuid.UUID {
	if !pgUUID.Valid {
		return uuid.Nil
	}
	return pgUUID.Bytes
}
