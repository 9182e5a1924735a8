package advisor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/workflow"
	"github.com/naturia/advisor/pkg/logging"
)

// Fallback copy for degraded branches. The turn still completes; the widget
// shows whichever half survived.
const answerUnavailableText = "I couldn't put together an answer just now. Please try asking again in a moment."

// AnswerBackend produces the conversational answer for a turn.
type AnswerBackend interface {
	Generate(ctx context.Context, req workflow.AnswerRequest) (workflow.AnswerResponse, error)
}

// ProductBackend produces the product panel results for a turn.
type ProductBackend interface {
	Search(ctx context.Context, chatInput, sessionID string) ([]catalog.ProductRef, error)
}

// AnswerUpdate is the answer half of a turn, possibly degraded.
type AnswerUpdate struct {
	Text     string
	Sources  []workflow.Source
	Degraded bool
}

// ProductUpdate is the product half of a turn, possibly degraded.
type ProductUpdate struct {
	Products []catalog.ProductRef
	Degraded bool
}

// UpdateSink receives the two halves of a turn. SendAnswer is always called
// before SendProducts, regardless of which backend finished first.
type UpdateSink interface {
	SendAnswer(update AnswerUpdate) error
	SendProducts(update ProductUpdate) error
}

// MergedResult is the joined outcome of both branches.
type MergedResult struct {
	Text           string
	Sources        []workflow.Source
	Products       []catalog.ProductRef
	AnswerDegraded bool
	SearchDegraded bool
}

// Coordinator fans a turn out to the answer and product backends in
// parallel and joins the results. A branch failure degrades that half of
// the turn; only caller cancellation fails the whole turn.
type Coordinator struct {
	answers  AnswerBackend
	products ProductBackend
	logger   logging.Logger
}

func NewCoordinator(answers AnswerBackend, products ProductBackend, logger logging.Logger) *Coordinator {
	return &Coordinator{answers: answers, products: products, logger: logger}
}

// Coordinate runs both backends and delivers their results through sink,
// answer first. Each branch result is buffered, so a product result that
// arrives early waits without blocking its goroutine. Per-branch deadlines
// live inside the backend clients, which guarantees both channels are
// eventually written.
func (c *Coordinator) Coordinate(ctx context.Context, req workflow.AnswerRequest, sink UpdateSink) (MergedResult, error) {
	if err := ctx.Err(); err != nil {
		return MergedResult{}, err
	}

	start := time.Now()
	defer func() { turnDuration.Observe(time.Since(start).Seconds()) }()

	answerCh := make(chan AnswerUpdate, 1)
	productCh := make(chan ProductUpdate, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resp, err := c.answers.Generate(gctx, req)
		if err != nil {
			branchFailures.WithLabelValues("answer").Inc()
			c.logger.WithError(err).WithField("session_id", req.SessionID).Warn("Answer branch failed")
			answerCh <- AnswerUpdate{Text: answerUnavailableText, Degraded: true}
			return nil
		}
		answerCh <- AnswerUpdate{Text: resp.Text, Sources: resp.Sources}
		return nil
	})
	g.Go(func() error {
		refs, err := c.products.Search(gctx, req.ChatInput, req.SessionID)
		if err != nil {
			branchFailures.WithLabelValues("search").Inc()
			c.logger.WithError(err).WithField("session_id", req.SessionID).Warn("Product search branch failed")
			productCh <- ProductUpdate{Degraded: true}
			return nil
		}
		productCh <- ProductUpdate{Products: refs}
		return nil
	})

	var merged MergedResult
	var sinkErr error

	select {
	case answer := <-answerCh:
		merged.Text = answer.Text
		merged.Sources = answer.Sources
		merged.AnswerDegraded = answer.Degraded
		if err := sink.SendAnswer(answer); err != nil {
			sinkErr = err
		}
	case <-ctx.Done():
		_ = g.Wait()
		return MergedResult{}, ctx.Err()
	}

	select {
	case products := <-productCh:
		merged.Products = products.Products
		merged.SearchDegraded = products.Degraded
		if sinkErr == nil {
			if err := sink.SendProducts(products); err != nil {
				sinkErr = err
			}
		}
	case <-ctx.Done():
		_ = g.Wait()
		return MergedResult{}, ctx.Err()
	}

	_ = g.Wait()
	return merged, sinkErr
}
