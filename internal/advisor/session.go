// Package advisor implements the conversation orchestration core of the
// product advisor: turn routing, the answer/product fan-out, inline product
// reference resolution, pairing recommendations, and rolling session
// summaries. Rendering, authentication, and catalog ingestion live elsewhere.
package advisor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/workflow"
)

var ErrSessionNotFound = errors.New("session not found")

// RouterState is the turn-level state of a session's intent router.
type RouterState string

const (
	StatePlain          RouterState = "plain"
	StateAwaitingDetail RouterState = "awaiting_detail"
	StateFunnelActive   RouterState = "funnel_active"
)

// maxRollingSummaries bounds the session's rolling summary ring.
const maxRollingSummaries = 2

type TurnFlags struct {
	NeedsMoreDetail      bool `json:"needs_more_detail,omitempty"`
	IsFunnelTurn         bool `json:"is_funnel_turn,omitempty"`
	IsFunnelUpdate       bool `json:"is_funnel_update,omitempty"`
	SuppressProductPanel bool `json:"suppress_product_panel,omitempty"`
}

// Turn is one user or assistant message. Immutable once appended.
type Turn struct {
	ID              string               `json:"id"`
	Role            string               `json:"role"`
	RawText         string               `json:"raw_text"`
	AnnotatedText   string               `json:"annotated_text,omitempty"`
	Sources         []workflow.Source    `json:"sources,omitempty"`
	MatchedProducts []catalog.ProductRef `json:"matched_products,omitempty"`
	Flags           TurnFlags            `json:"flags"`
	CreatedAt       time.Time            `json:"created_at"`
}

// Session owns the ordered turn sequence, the router state, the funnel
// candidate set, and the rolling summary ring for one conversation. All
// methods are safe for concurrent use; the summary ring in particular is
// written by the background summarizer while the turn path reads it.
type Session struct {
	ID string

	mu         sync.Mutex
	turns      []Turn
	state      RouterState
	candidates []catalog.ProductRef
	summaries  []string
}

func NewSession(id string) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{ID: id, state: StatePlain}
}

func (s *Session) AppendTurn(turn Turn) {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
}

// Turns returns a snapshot of the session's turns in order.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) State() RouterState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(state RouterState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// AddCandidates extends the funnel candidate set, deduplicating by product
// code while preserving accumulation order.
func (s *Session) AddCandidates(refs []catalog.ProductRef) {
	s.mu.Lock()
	s.candidates = catalog.DedupeByCode(append(s.candidates, refs...))
	s.mu.Unlock()
}

// Candidates returns a snapshot of the accumulated funnel candidate set.
func (s *Session) Candidates() []catalog.ProductRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.ProductRef, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// ResetCandidates clears the candidate set after a funnel completes.
func (s *Session) ResetCandidates() {
	s.mu.Lock()
	s.candidates = nil
	s.mu.Unlock()
}

// AppendSummary appends a rolling summary, evicting the oldest entry beyond
// the ring bound. The slice is replaced rather than mutated so concurrent
// readers never observe a partial update.
func (s *Session) AppendSummary(summary string) {
	if summary == "" {
		return
	}
	s.mu.Lock()
	next := make([]string, 0, maxRollingSummaries)
	start := 0
	if len(s.summaries) >= maxRollingSummaries {
		start = len(s.summaries) - maxRollingSummaries + 1
	}
	next = append(next, s.summaries[start:]...)
	next = append(next, summary)
	s.summaries = next
	s.mu.Unlock()
}

// RollingSummaries returns the most recent summaries, oldest first.
func (s *Session) RollingSummaries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.summaries))
	copy(out, s.summaries)
	return out
}

// LastTurnWasFunnel reports whether the most recent assistant turn carried a
// funnel recommendation. The turn after a funnel is still routed so a
// refinement can re-enter the selection.
func (s *Session) LastTurnWasFunnel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == "assistant" {
			return s.turns[i].Flags.IsFunnelTurn
		}
	}
	return false
}

// History maps the most recent turns into the answer workflow's history
// shape, newest last.
func (s *Session) History(limit int) []workflow.HistoryMessage {
	turns := s.Turns()
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	history := make([]workflow.HistoryMessage, 0, len(turns))
	for _, turn := range turns {
		history = append(history, workflow.HistoryMessage{
			ID:   turn.ID,
			Role: turn.Role,
			Text: turn.RawText,
		})
	}
	return history
}

// SessionStore keeps live sessions in memory. A session exists for the
// lifetime of the widget client; "new chat" resets it.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create registers a new session with a generated id.
func (st *SessionStore) Create() *Session {
	session := NewSession("")
	st.mu.Lock()
	st.sessions[session.ID] = session
	st.mu.Unlock()
	return session
}

func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Reset replaces the session's state with a fresh one under the same id.
func (st *SessionStore) Reset(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return nil, ErrSessionNotFound
	}
	session := NewSession(id)
	st.sessions[id] = session
	return session, nil
}
