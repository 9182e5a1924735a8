// Package history persists completed question/answer exchanges. It is a
// write-only sink: nothing in the turn path ever reads it back, and a failed
// write must never fail the turn.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type Exchange struct {
	SessionID string
	UserID    string
	ChatbotID string
	Question  string
	Answer    string
	Metadata  json.RawMessage
	Extras    json.RawMessage
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertExchange records one completed turn. Callers run this fire-and-forget
// after the turn's outbound message has been delivered.
func (s *Store) InsertExchange(ctx context.Context, ex Exchange) error {
	if ex.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if ex.ChatbotID == "" {
		return fmt.Errorf("chatbot ID is required")
	}

	var userID any
	if ex.UserID != "" {
		userID = ex.UserID
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO advisor.chat_history (session_id, user_id, chatbot_id, question, answer, metadata, extras)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ex.SessionID,
		userID,
		ex.ChatbotID,
		ex.Question,
		ex.Answer,
		normalizeJSONInput(ex.Metadata),
		normalizeJSONInput(ex.Extras),
	)
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

func normalizeJSONInput(value json.RawMessage) json.RawMessage {
	if len(value) == 0 {
		return json.RawMessage("null")
	}
	return value
}
