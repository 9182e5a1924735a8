package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/pkg/clients"
)

const defaultSearchTimeout = 15 * time.Second

type searchRequest struct {
	ChatInput string `json:"chatInput"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
}

// SearchClient calls the product-search workflow webhook.
type SearchClient struct {
	url      string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	timeout  time.Duration
	now      func() time.Time
}

type SearchClientConfig struct {
	URL     string
	Timeout time.Duration
}

func NewSearchClient(cfg SearchClientConfig) *SearchClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	execCfg := clients.DefaultHTTPExecutorConfig()
	execCfg.Timeout = timeout
	return &SearchClient{
		url:      cfg.URL,
		client:   &http.Client{},
		executor: clients.NewHTTPExecutor(execCfg),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Search runs one product-search call and maps the returned catalog rows.
func (c *SearchClient) Search(ctx context.Context, chatInput, sessionID string) ([]catalog.ProductRef, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := postJSON(ctx, c.client, c.executor, c.url, searchRequest{
		ChatInput: chatInput,
		SessionID: sessionID,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("product search workflow: %w", err)
	}

	var rows []catalog.ProductRef
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("product search workflow: decode response: %w", err)
	}
	return catalog.DedupeByCode(rows), nil
}
