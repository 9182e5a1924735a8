// Package workflow holds clients for the two external retrieval backends:
// the answer-generation workflow and the product-search workflow. Both are
// JSON webhooks with no delivery guarantees, so every call carries an
// explicit deadline and failures surface as errors the coordinator downgrades
// to partial results.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/naturia/advisor/pkg/clients"
)

const defaultAnswerTimeout = 30 * time.Second

// Source is a citation returned by the answer-generation workflow.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// HistoryMessage is one prior turn sent as context to the answer workflow.
type HistoryMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// Metadata narrows the answer workflow's retrieval scope.
type Metadata struct {
	Categories       []string `json:"categories,omitempty"`
	Labels           []string `json:"labels,omitempty"`
	PublicationTypes []string `json:"publicationTypes,omitempty"`
}

// User identifies the shopper on whose behalf the turn runs.
type User struct {
	ID            string `json:"id,omitempty"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Role          string `json:"role,omitempty"`
	ExternalToken string `json:"externalToken,omitempty"`
}

type AnswerRequest struct {
	SessionID   string           `json:"sessionId"`
	Action      string           `json:"action"`
	ChatInput   string           `json:"chatInput"`
	ChatHistory []HistoryMessage `json:"chatHistory"`
	Intent      string           `json:"intent,omitempty"`
	Metadata    *Metadata        `json:"metadata,omitempty"`
	User        *User            `json:"user,omitempty"`
}

type AnswerResponse struct {
	Text    string
	Sources []Source
}

// AnswerClient calls the answer-generation workflow webhook.
type AnswerClient struct {
	url      string
	client   *http.Client
	executor failsafe.Executor[*http.Response]
	timeout  time.Duration
}

type AnswerClientConfig struct {
	URL     string
	Timeout time.Duration
}

func NewAnswerClient(cfg AnswerClientConfig) *AnswerClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAnswerTimeout
	}
	execCfg := clients.DefaultHTTPExecutorConfig()
	execCfg.Timeout = timeout
	return &AnswerClient{
		url:      cfg.URL,
		client:   &http.Client{},
		executor: clients.NewHTTPExecutor(execCfg),
		timeout:  timeout,
	}
}

// Generate runs one answer-generation call. The response body may carry the
// generated text under "text", "html", or "output" depending on the workflow
// version; all three are accepted.
func (c *AnswerClient) Generate(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := postJSON(ctx, c.client, c.executor, c.url, req)
	if err != nil {
		return AnswerResponse{}, fmt.Errorf("answer workflow: %w", err)
	}

	var decoded struct {
		Text    string   `json:"text"`
		HTML    string   `json:"html"`
		Output  string   `json:"output"`
		Sources []Source `json:"sources"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return AnswerResponse{}, fmt.Errorf("answer workflow: decode response: %w", err)
	}

	text := decoded.Text
	if text == "" {
		text = decoded.HTML
	}
	if text == "" {
		text = decoded.Output
	}
	return AnswerResponse{
		Text:    strings.TrimSpace(text),
		Sources: decoded.Sources,
	}, nil
}

func postJSON(ctx context.Context, client *http.Client, executor failsafe.Executor[*http.Response], url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := clients.ExecuteHTTP(ctx, executor, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		return client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
