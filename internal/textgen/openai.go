package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/naturia/advisor/pkg/config"
)

const defaultCallTimeout = 10 * time.Second

type Config struct {
	Model   string
	APIKey  string
	APIURL  string
	Timeout time.Duration
}

// LoadConfig loads utility model configuration from UTILITY_LLM_* env vars.
func LoadConfig() Config {
	return Config{
		Model:   config.GetEnv("UTILITY_LLM_MODEL", "gpt-4o-mini"),
		APIKey:  config.GetEnv("UTILITY_LLM_API_KEY", ""),
		APIURL:  config.GetEnv("UTILITY_LLM_API_URL", ""),
		Timeout: config.GetEnvDuration("UTILITY_LLM_TIMEOUT", defaultCallTimeout),
	}
}

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client  *http.Client
	apiKey  string
	apiURL  string
	model   string
	timeout time.Duration
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &OpenAIProvider{
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		apiURL:  apiURL,
		model:   cfg.Model,
		timeout: timeout,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, system, user string) (string, error) {
	if p.model == "" {
		return "", errors.New("model is required")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	payload, err := json.Marshal(completionRequest{Model: p.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("textgen: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("textgen: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("textgen: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("textgen: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("textgen: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("textgen: empty response")
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
