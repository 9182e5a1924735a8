package advisor

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/naturia/advisor/internal/textgen"
	"github.com/naturia/advisor/pkg/logging"
)

// Input caps keep the summarization call cheap no matter how long a turn
// ran. Truncation counts runes, not bytes.
const (
	maxSummaryQuestionRunes = 1000
	maxSummaryAnswerRunes   = 5000

	summarizeTimeout = 30 * time.Second
)

// Summarizer maintains each session's rolling summary ring in the
// background. A turn never waits on it and never fails because of it.
type Summarizer struct {
	provider textgen.Provider
	logger   logging.Logger

	inflight sync.WaitGroup
}

func NewSummarizer(provider textgen.Provider, logger logging.Logger) *Summarizer {
	return &Summarizer{provider: provider, logger: logger}
}

// OnTurnCompleted schedules a summary of the finished exchange. The work
// runs detached from the request context so a disconnecting client does not
// cancel it.
func (s *Summarizer) OnTurnCompleted(session *Session, question, answer string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), summarizeTimeout)
		defer cancel()
		s.summarizeOnce(ctx, session, question, answer)
	}()
}

// Wait blocks until all scheduled summaries have finished. Used on shutdown.
func (s *Summarizer) Wait() {
	s.inflight.Wait()
}

func (s *Summarizer) summarizeOnce(ctx context.Context, session *Session, question, answer string) {
	question = truncateRunes(cleanForSummary(question), maxSummaryQuestionRunes)
	answer = truncateRunes(cleanForSummary(answer), maxSummaryAnswerRunes)
	if question == "" && answer == "" {
		return
	}

	input := "Question: " + question + "\n\nAnswer: " + answer
	summary, err := s.provider.Complete(ctx, summarizePrompt, input)
	if err != nil {
		summariesTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithField("session_id", session.ID).Warn("Summary generation failed")
		return
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summariesTotal.WithLabelValues("empty").Inc()
		return
	}
	session.AppendSummary(summary)
	summariesTotal.WithLabelValues("ok").Inc()
}

// cleanForSummary removes inline markers and markdown decoration so the
// summary model sees prose, not wire tokens.
func cleanForSummary(text string) string {
	text = StripMarkers(text)
	text = strings.Map(func(r rune) rune {
		switch r {
		case '*', '_', '`', '#':
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
