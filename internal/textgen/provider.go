// Package textgen wraps the utility model calls the orchestration core makes
// for extraction, classification, summarization, and funnel selection. These
// are single-shot instruction + content completions, not chat streams.
package textgen

import (
	"context"
	"encoding/json"
	"strings"
)

type Provider interface {
	// Complete sends a system instruction and user content and returns the
	// model's text output.
	Complete(ctx context.Context, system, user string) (string, error)
}

// ParseStringArray interprets a model response as a list of strings. It
// accepts a JSON array, a JSON array embedded in surrounding prose or code
// fences, or plain newline/comma-separated items.
func ParseStringArray(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if jsonPart := extractJSONArray(raw); jsonPart != "" {
		var items []string
		if err := json.Unmarshal([]byte(jsonPart), &items); err == nil {
			return cleanItems(items)
		}
	}

	sep := "\n"
	if !strings.Contains(raw, "\n") && strings.Contains(raw, ",") {
		sep = ","
	}
	return cleanItems(strings.Split(raw, sep))
}

func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		item = strings.TrimPrefix(item, "-")
		item = strings.Trim(item, `"'`)
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
