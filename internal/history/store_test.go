package history

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestInsertExchange(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO advisor\.chat_history`).
		WithArgs("sess-1", "user-1", "bot-1", "question?", "answer.", []byte(`{"labels":["skin"]}`), []byte("null")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	err = store.InsertExchange(context.Background(), Exchange{
		SessionID: "sess-1",
		UserID:    "user-1",
		ChatbotID: "bot-1",
		Question:  "question?",
		Answer:    "answer.",
		Metadata:  json.RawMessage(`{"labels":["skin"]}`),
	})
	if err != nil {
		t.Fatalf("InsertExchange: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertExchange_NullUserID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO advisor\.chat_history`).
		WithArgs("sess-1", nil, "bot-1", "q", "a", []byte("null"), []byte("null")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	err = store.InsertExchange(context.Background(), Exchange{
		SessionID: "sess-1",
		ChatbotID: "bot-1",
		Question:  "q",
		Answer:    "a",
	})
	if err != nil {
		t.Fatalf("InsertExchange: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertExchange_RequiresSessionID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewStore(db)
	if err := store.InsertExchange(context.Background(), Exchange{ChatbotID: "bot-1"}); err == nil {
		t.Fatal("expected error for missing session ID")
	}
}
