package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAnswerClient_AcceptsAlternateTextKeys(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"text key", `{"text":"answer A","sources":[{"uri":"https://kb.example.com/1","title":"Guide"}]}`, "answer A"},
		{"html key", `{"html":"<p>answer B</p>"}`, "<p>answer B</p>"},
		{"output key", `{"output":"answer C"}`, "answer C"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req AnswerRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.SessionID != "sess-1" || req.ChatInput != "hello" {
					t.Errorf("unexpected request: %+v", req)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewAnswerClient(AnswerClientConfig{URL: server.URL})
			resp, err := client.Generate(context.Background(), AnswerRequest{
				SessionID: "sess-1",
				Action:    "sendMessage",
				ChatInput: "hello",
			})
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if resp.Text != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, resp.Text)
			}
		})
	}
}

func TestAnswerClient_TimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"text":"late"}`))
	}))
	defer server.Close()
	defer close(release)

	client := NewAnswerClient(AnswerClientConfig{URL: server.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := client.Generate(context.Background(), AnswerRequest{SessionID: "s", ChatInput: "q"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestSearchClient_MapsAndDeduplicatesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ChatInput != "dry skin" || req.SessionID != "sess-2" || req.Timestamp == "" {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`[
			{"product_code":"P1","product_name":"Aloe Gel","price":12.5,"currency":"EUR"},
			{"product_code":"P2","product_name":"Shea Butter"},
			{"product_code":"P1","product_name":"Aloe Gel"}
		]`))
	}))
	defer server.Close()

	client := NewSearchClient(SearchClientConfig{URL: server.URL})
	refs, err := client.Search(context.Background(), "dry skin", "sess-2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 deduplicated products, got %d", len(refs))
	}
	if refs[0].Code != "P1" || refs[0].Price != 12.5 {
		t.Fatalf("unexpected first product: %+v", refs[0])
	}
}

func TestSearchClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewSearchClient(SearchClientConfig{URL: server.URL})
	refs, err := client.Search(context.Background(), "q", "s")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected empty result, got %v", refs)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls (1 retry), got %d", calls.Load())
	}
}
