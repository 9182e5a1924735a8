package advisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/workflow"
)

type fakeAnswers struct {
	delay time.Duration
	resp  workflow.AnswerResponse
	err   error
}

func (f *fakeAnswers) Generate(ctx context.Context, _ workflow.AnswerRequest) (workflow.AnswerResponse, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return workflow.AnswerResponse{}, ctx.Err()
	}
	return f.resp, f.err
}

type fakeProducts struct {
	delay time.Duration
	refs  []catalog.ProductRef
	err   error
}

func (f *fakeProducts) Search(ctx context.Context, _, _ string) ([]catalog.ProductRef, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.refs, f.err
}

type recordingSink struct {
	order    []string
	answer   AnswerUpdate
	products ProductUpdate
}

func (s *recordingSink) SendAnswer(update AnswerUpdate) error {
	s.order = append(s.order, "answer")
	s.answer = update
	return nil
}

func (s *recordingSink) SendProducts(update ProductUpdate) error {
	s.order = append(s.order, "products")
	s.products = update
	return nil
}

func TestCoordinate_AnswerDeliveredFirstEvenWhenSearchWins(t *testing.T) {
	coordinator := NewCoordinator(
		&fakeAnswers{delay: 40 * time.Millisecond, resp: workflow.AnswerResponse{Text: "the answer"}},
		&fakeProducts{refs: []catalog.ProductRef{ref("P1", "Aloe Gel")}},
		testLogger(),
	)

	sink := &recordingSink{}
	merged, err := coordinator.Coordinate(context.Background(), workflow.AnswerRequest{SessionID: "s1", ChatInput: "q"}, sink)
	if err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if len(sink.order) != 2 || sink.order[0] != "answer" || sink.order[1] != "products" {
		t.Fatalf("expected answer before products, got %v", sink.order)
	}
	if merged.Text != "the answer" || len(merged.Products) != 1 {
		t.Fatalf("unexpected merged result: %+v", merged)
	}
	if merged.AnswerDegraded || merged.SearchDegraded {
		t.Fatalf("expected clean result, got %+v", merged)
	}
}

func TestCoordinate_AnswerFailureDegradesButKeepsOrder(t *testing.T) {
	coordinator := NewCoordinator(
		&fakeAnswers{delay: 30 * time.Millisecond, err: errors.New("deadline exceeded")},
		&fakeProducts{refs: []catalog.ProductRef{ref("P1", "Aloe Gel"), ref("P2", "Shea Butter")}},
		testLogger(),
	)

	sink := &recordingSink{}
	merged, err := coordinator.Coordinate(context.Background(), workflow.AnswerRequest{SessionID: "s1"}, sink)
	if err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if len(sink.order) != 2 || sink.order[0] != "answer" {
		t.Fatalf("expected answer first despite failure, got %v", sink.order)
	}
	if !sink.answer.Degraded || sink.answer.Text == "" {
		t.Fatalf("expected degraded fallback answer, got %+v", sink.answer)
	}
	if !merged.AnswerDegraded || merged.SearchDegraded {
		t.Fatalf("unexpected degradation flags: %+v", merged)
	}
	if len(merged.Products) != 2 {
		t.Fatalf("expected surviving product results, got %v", merged.Products)
	}
}

func TestCoordinate_SearchFailureDegradesProductsOnly(t *testing.T) {
	coordinator := NewCoordinator(
		&fakeAnswers{resp: workflow.AnswerResponse{Text: "fine"}},
		&fakeProducts{err: errors.New("connection refused")},
		testLogger(),
	)

	sink := &recordingSink{}
	merged, err := coordinator.Coordinate(context.Background(), workflow.AnswerRequest{SessionID: "s1"}, sink)
	if err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if merged.AnswerDegraded || !merged.SearchDegraded {
		t.Fatalf("unexpected degradation flags: %+v", merged)
	}
	if !sink.products.Degraded || len(sink.products.Products) != 0 {
		t.Fatalf("expected empty degraded product update, got %+v", sink.products)
	}
}

func TestCoordinate_BothBranchesFailStillCompletesTurn(t *testing.T) {
	coordinator := NewCoordinator(
		&fakeAnswers{err: errors.New("down")},
		&fakeProducts{err: errors.New("down")},
		testLogger(),
	)

	sink := &recordingSink{}
	merged, err := coordinator.Coordinate(context.Background(), workflow.AnswerRequest{SessionID: "s1"}, sink)
	if err != nil {
		t.Fatalf("Coordinate: %v", err)
	}
	if !merged.AnswerDegraded || !merged.SearchDegraded {
		t.Fatalf("expected both halves degraded: %+v", merged)
	}
	if len(sink.order) != 2 {
		t.Fatalf("expected both updates delivered, got %v", sink.order)
	}
}

func TestCoordinate_CancellationFailsTheTurn(t *testing.T) {
	coordinator := NewCoordinator(
		&fakeAnswers{delay: time.Second, resp: workflow.AnswerResponse{Text: "late"}},
		&fakeProducts{delay: time.Second},
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	_, err := coordinator.Coordinate(ctx, workflow.AnswerRequest{SessionID: "s1"}, sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sink.order) != 0 {
		t.Fatalf("expected no updates after cancellation, got %v", sink.order)
	}
}
