package advisor

import (
	"context"
	"fmt"

	"github.com/naturia/advisor/internal/textgen"
)

// Classification is the outcome of mapping a customer message onto the
// problem taxonomy. Ambiguous is set when more than one tag matched; callers
// may then ask the customer to pick instead of recommending blind.
type Classification struct {
	Tags      []string
	Ambiguous bool
}

// ProblemClassifier maps free-text complaints to problem tags via a single
// utility model call.
type ProblemClassifier struct {
	provider textgen.Provider
}

func NewProblemClassifier(provider textgen.Provider) *ProblemClassifier {
	return &ProblemClassifier{provider: provider}
}

func (c *ProblemClassifier) Classify(ctx context.Context, message string) (Classification, error) {
	raw, err := c.provider.Complete(ctx, classifyProblemPrompt, message)
	if err != nil {
		return Classification{}, fmt.Errorf("classify problem: %w", err)
	}
	tags := textgen.ParseStringArray(raw)
	return Classification{Tags: tags, Ambiguous: len(tags) > 1}, nil
}
