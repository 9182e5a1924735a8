package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/naturia/advisor/internal/catalog"
)

type fakeAnnotator struct {
	products []catalog.ProductRef
	known    []catalog.ProductRef
}

func (f *fakeAnnotator) Annotate(_ context.Context, text string, known []catalog.ProductRef, _ []string) Annotation {
	f.known = known
	products := append(append([]catalog.ProductRef{}, f.products...), known...)
	out := text
	for _, p := range products {
		out += FormatMarker(p)
	}
	return Annotation{Text: out, Products: catalog.DedupeByCode(products)}
}

type fakeClassifier struct {
	result Classification
	err    error
	called bool
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (Classification, error) {
	f.called = true
	return f.result, f.err
}

type fakePairer struct {
	pairing Pairing
	err     error
	called  bool
}

func (f *fakePairer) Pair(_ context.Context, _ []string) (Pairing, error) {
	f.called = true
	return f.pairing, f.err
}

type fakeCodeLookup struct {
	refs []catalog.ProductRef
}

func (f *fakeCodeLookup) ByCodes(_ context.Context, _ []string) ([]catalog.ProductRef, error) {
	return f.refs, nil
}

func chatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, handler)
	return router
}

func doChat(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func parseSSE(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("bad SSE payload %q: %v", payload, err)
		}
		events = append(events, event)
	}
	return events
}

func eventTypes(events []map[string]any) []string {
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event["type"].(string))
	}
	return types
}

func newTestHandler(answers *fakeAnswers, products *fakeProducts) *ChatHandler {
	return &ChatHandler{
		Sessions:    NewSessionStore(),
		Coordinator: NewCoordinator(answers, products, testLogger()),
		Router: NewIntentRouter(&scriptedProvider{fn: func(_, _ string) (string, error) {
			return `{"intent":"chat"}`, nil
		}}, testLogger()),
		Answers:   answers,
		Resolver:  &fakeAnnotator{},
		Logger:    testLogger(),
		ChatbotID: "bot-1",
	}
}

func TestHandleChat_PlainTurnEventOrder(t *testing.T) {
	handler := newTestHandler(
		&fakeAnswers{resp: answerResponse("Aloe Gel helps.")},
		&fakeProducts{refs: []catalog.ProductRef{ref("P1", "Aloe Gel")}},
	)
	router := chatRouter(handler)

	rec := doChat(t, router, `{"message":"what helps dry skin?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Fatal("expected X-Session-ID header")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	got := eventTypes(events)
	want := []string{"answer", "products", "meta", "done"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected event order %v, got %v", want, got)
	}
	if events[0]["text"] != "Aloe Gel helps." {
		t.Fatalf("unexpected answer event: %v", events[0])
	}
	if meta := events[2]; meta["needs_more_detail"] != nil {
		t.Fatalf("expected no detail prompt for a single match, got %v", meta)
	}
}

func TestHandleChat_ManyMatchesAsksForMoreDetail(t *testing.T) {
	handler := newTestHandler(
		&fakeAnswers{resp: answerResponse("Several options fit.")},
		&fakeProducts{refs: []catalog.ProductRef{
			ref("P1", "Aloe Gel"), ref("P2", "Shea Butter"), ref("P3", "Arnica Salve"),
		}},
	)
	router := chatRouter(handler)

	rec := doChat(t, router, `{"message":"something for skin"}`)
	events := parseSSE(t, rec.Body.String())
	meta := events[len(events)-2]
	if meta["type"] != "meta" || meta["needs_more_detail"] != true {
		t.Fatalf("expected needs_more_detail, got %v", meta)
	}
	if meta["matched_products"] != float64(3) {
		t.Fatalf("expected 3 matched products, got %v", meta["matched_products"])
	}

	session, err := handler.Sessions.Get(rec.Header().Get("X-Session-ID"))
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	if session.State() != StateAwaitingDetail {
		t.Fatalf("expected awaiting-detail state, got %s", session.State())
	}
	if len(session.Candidates()) != 3 {
		t.Fatalf("expected 3 accumulated candidates, got %v", session.Candidates())
	}
}

func TestHandleChat_FunnelFlow(t *testing.T) {
	answers := &fakeAnswers{resp: answerResponse("These two are the best match for your back pain.")}
	handler := newTestHandler(answers, &fakeProducts{})
	handler.Router = NewIntentRouter(&scriptedProvider{fn: func(system, _ string) (string, error) {
		switch {
		case strings.Contains(system, "route customer messages"):
			return `{"intent":"funnel","symptoms":["back pain"]}`, nil
		case strings.Contains(system, "select products"):
			return `["P2", "P3"]`, nil
		}
		return "[]", nil
	}}, testLogger())
	router := chatRouter(handler)

	session := handler.Sessions.Create()
	session.SetState(StateAwaitingDetail)
	session.AddCandidates([]catalog.ProductRef{
		ref("P1", "Warming Balm"), ref("P2", "Magnesium Oil"), ref("P3", "Arnica Salve"),
	})

	rec := doChat(t, router, `{"session_id":"`+session.ID+`","message":"lower back pain when sitting"}`)
	events := parseSSE(t, rec.Body.String())
	got := eventTypes(events)
	want := []string{"funnel", "meta", "done"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected event order %v, got %v", want, got)
	}

	funnel := events[0]
	items := funnel["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected exactly 2 funnel items, got %v", items)
	}
	first := items[0].(map[string]any)
	if first["product_code"] != "P2" {
		t.Fatalf("unexpected funnel selection: %v", items)
	}
	if funnel["text"] != "These two are the best match for your back pain." {
		t.Fatalf("unexpected funnel text: %v", funnel["text"])
	}

	if session.State() != StatePlain {
		t.Fatalf("expected single-shot reset, got %s", session.State())
	}
	if len(session.Candidates()) != 3 {
		t.Fatal("expected candidates retained for a possible refinement")
	}
}

func TestHandleChat_FunnelWithoutCandidatesFallsBackToPlainTurn(t *testing.T) {
	handler := newTestHandler(
		&fakeAnswers{resp: answerResponse("Plain answer.")},
		&fakeProducts{},
	)
	handler.Router = NewIntentRouter(&scriptedProvider{fn: func(system, _ string) (string, error) {
		if strings.Contains(system, "route customer messages") {
			return `{"intent":"funnel","symptoms":["back pain"]}`, nil
		}
		t.Fatal("expected no selection call without candidates")
		return "", nil
	}}, testLogger())
	router := chatRouter(handler)

	session := handler.Sessions.Create()
	session.SetState(StateAwaitingDetail)

	rec := doChat(t, router, `{"session_id":"`+session.ID+`","message":"back pain"}`)
	got := eventTypes(parseSSE(t, rec.Body.String()))
	want := []string{"answer", "products", "meta", "done"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected plain fallback order %v, got %v", want, got)
	}
}

func TestHandleChat_PairingFlagsRideTheAnswerEvent(t *testing.T) {
	handler := newTestHandler(
		&fakeAnswers{resp: answerResponse("Try the paired set.")},
		&fakeProducts{},
	)
	annotator := &fakeAnnotator{}
	handler.Resolver = annotator
	handler.Classifier = &fakeClassifier{result: Classification{Tags: []string{"dry skin"}}}
	handler.Pairings = &fakePairer{pairing: Pairing{ProductCodes: []string{"P1"}, SupplementA: true}}
	handler.Catalog = &fakeCodeLookup{refs: []catalog.ProductRef{ref("P1", "Aloe Gel")}}
	router := chatRouter(handler)

	rec := doChat(t, router, `{"message":"my skin is dry"}`)
	events := parseSSE(t, rec.Body.String())
	answer := events[0]
	if answer["supplement_a"] != true || answer["supplement_b"] != nil {
		t.Fatalf("unexpected supplement flags: %v", answer)
	}
	if len(annotator.known) != 1 || annotator.known[0].Code != "P1" {
		t.Fatalf("expected paired product passed to the resolver, got %v", annotator.known)
	}
	if !strings.Contains(answer["text"].(string), "<<<PRODUCT:P1") {
		t.Fatalf("expected annotated answer text, got %v", answer["text"])
	}
}

func TestHandleChat_AmbiguousClassificationDefersPairing(t *testing.T) {
	handler := newTestHandler(&fakeAnswers{resp: answerResponse("Could be several things.")}, &fakeProducts{})
	pairer := &fakePairer{}
	handler.Classifier = &fakeClassifier{result: Classification{Tags: []string{"dry skin", "eczema"}, Ambiguous: true}}
	handler.Pairings = pairer
	router := chatRouter(handler)

	rec := doChat(t, router, `{"message":"my skin is flaky and itchy"}`)
	events := parseSSE(t, rec.Body.String())
	meta := events[len(events)-2]
	tags, _ := meta["candidate_tags"].([]any)
	if len(tags) != 2 {
		t.Fatalf("expected candidate tags surfaced, got %v", meta)
	}
	if pairer.called {
		t.Fatal("expected pairing deferred on ambiguity")
	}
}

func TestHandleChat_ResolvedTagSkipsClassification(t *testing.T) {
	handler := newTestHandler(&fakeAnswers{resp: answerResponse("Here is the match.")}, &fakeProducts{})
	classifier := &fakeClassifier{}
	pairer := &fakePairer{pairing: Pairing{ProductCodes: []string{"P1"}}}
	handler.Classifier = classifier
	handler.Pairings = pairer
	handler.Catalog = &fakeCodeLookup{refs: []catalog.ProductRef{ref("P1", "Aloe Gel")}}
	router := chatRouter(handler)

	doChat(t, router, `{"message":"the first one","resolved_tag":"dry skin"}`)
	if classifier.called {
		t.Fatal("expected classifier skipped when a tag is resolved")
	}
	if !pairer.called {
		t.Fatal("expected pairing lookup with the resolved tag")
	}
}

func TestHandleChat_Validation(t *testing.T) {
	handler := newTestHandler(&fakeAnswers{}, &fakeProducts{})
	router := chatRouter(handler)

	rec := doChat(t, router, `{"message":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}

	rec = doChat(t, router, `{"session_id":"missing","message":"hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}

	long := strings.Repeat("x", maxMessageRunes+1)
	rec = doChat(t, router, `{"message":"`+long+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized message, got %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	handler := newTestHandler(&fakeAnswers{resp: answerResponse("ok")}, &fakeProducts{})
	router := chatRouter(handler)

	session := handler.Sessions.Create()
	session.AppendTurn(Turn{Role: "user", RawText: "hello"})

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: %d", rec.Code)
	}
	var body struct {
		Turns []Turn `json:"turns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Turns) != 1 || body.Turns[0].RawText != "hello" {
		t.Fatalf("unexpected turns: %v", body.Turns)
	}

	req = httptest.NewRequest(http.MethodPost, "/sessions/"+session.ID+"/reset", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset session: %d", rec.Code)
	}
	fresh, _ := handler.Sessions.Get(session.ID)
	if len(fresh.Turns()) != 0 {
		t.Fatal("expected reset session to be empty")
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
}
