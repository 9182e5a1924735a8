package advisor

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/workflow"
	"github.com/naturia/advisor/pkg/logging"
)

// scriptedProvider routes utility model calls to a test-supplied function.
type scriptedProvider struct {
	fn func(system, user string) (string, error)
}

func (p *scriptedProvider) Complete(_ context.Context, system, user string) (string, error) {
	return p.fn(system, user)
}

// scriptedSearcher serves catalog name lookups from a fixed table.
type scriptedSearcher struct {
	results map[string][]catalog.ProductRef
	err     error
}

func (s *scriptedSearcher) SearchByName(_ context.Context, name string, _ []string) ([]catalog.ProductRef, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results[name], nil
}

func testLogger() logging.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func answerResponse(text string) workflow.AnswerResponse {
	return workflow.AnswerResponse{Text: text}
}

func ref(code, name string) catalog.ProductRef {
	return catalog.ProductRef{
		Code:        code,
		DisplayName: name,
		URL:         "https://shop.example.com/p/" + code,
	}
}
