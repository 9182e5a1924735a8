package advisor

import (
	"reflect"
	"testing"

	"github.com/naturia/advisor/internal/catalog"
)

func TestSession_SummaryRingEvictsOldest(t *testing.T) {
	session := NewSession("s1")

	session.AppendSummary("first")
	session.AppendSummary("second")
	if got := session.RollingSummaries(); !reflect.DeepEqual(got, []string{"first", "second"}) {
		t.Fatalf("unexpected summaries: %v", got)
	}

	session.AppendSummary("third")
	if got := session.RollingSummaries(); !reflect.DeepEqual(got, []string{"second", "third"}) {
		t.Fatalf("expected oldest summary evicted, got %v", got)
	}

	session.AppendSummary("fourth")
	if got := session.RollingSummaries(); !reflect.DeepEqual(got, []string{"third", "fourth"}) {
		t.Fatalf("expected ring to hold the two most recent, got %v", got)
	}
}

func TestSession_AppendSummaryIgnoresEmpty(t *testing.T) {
	session := NewSession("s1")
	session.AppendSummary("")
	if got := session.RollingSummaries(); len(got) != 0 {
		t.Fatalf("expected no summaries, got %v", got)
	}
}

func TestSession_CandidatesDeduplicateAcrossTurns(t *testing.T) {
	session := NewSession("s1")
	session.AddCandidates([]catalog.ProductRef{ref("P1", "Aloe Gel"), ref("P2", "Shea Butter")})
	session.AddCandidates([]catalog.ProductRef{ref("P2", "Shea Butter"), ref("P3", "Arnica Salve")})

	got := session.Candidates()
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	for i, want := range []string{"P1", "P2", "P3"} {
		if got[i].Code != want {
			t.Fatalf("expected accumulation order preserved, got %v", got)
		}
	}

	session.ResetCandidates()
	if got := session.Candidates(); len(got) != 0 {
		t.Fatalf("expected cleared candidates, got %v", got)
	}
}

func TestSession_HistoryMapsRecentTurns(t *testing.T) {
	session := NewSession("s1")
	session.AppendTurn(Turn{Role: "user", RawText: "one"})
	session.AppendTurn(Turn{Role: "assistant", RawText: "two"})
	session.AppendTurn(Turn{Role: "user", RawText: "three"})

	history := session.History(2)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Text != "two" || history[1].Text != "three" {
		t.Fatalf("expected the most recent turns, got %v", history)
	}
	if history[0].ID == "" {
		t.Fatal("expected turn IDs to be assigned")
	}
}

func TestSessionStore_ResetKeepsID(t *testing.T) {
	store := NewSessionStore()
	session := store.Create()
	session.AppendTurn(Turn{Role: "user", RawText: "hello"})
	session.SetState(StateAwaitingDetail)

	fresh, err := store.Reset(session.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fresh.ID != session.ID {
		t.Fatalf("expected same ID, got %s", fresh.ID)
	}
	if fresh.State() != StatePlain || len(fresh.Turns()) != 0 {
		t.Fatal("expected a fresh session")
	}

	if _, err := store.Get("missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
