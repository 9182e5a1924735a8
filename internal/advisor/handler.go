package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/history"
	"github.com/naturia/advisor/internal/workflow"
	"github.com/naturia/advisor/pkg/logging"
)

const maxMessageRunes = 10000

const defaultMaxHistoryMessages = 20

const funnelFallbackText = "Based on what you've told me, these two products fit your needs best."

// Annotator resolves product mentions in answer text into inline markers.
type Annotator interface {
	Annotate(ctx context.Context, text string, known []catalog.ProductRef, categories []string) Annotation
}

// Classifier maps a customer message to problem tags.
type Classifier interface {
	Classify(ctx context.Context, message string) (Classification, error)
}

// Pairer looks up curated product pairings for problem tags.
type Pairer interface {
	Pair(ctx context.Context, problemTags []string) (Pairing, error)
}

// CodeLookup fetches catalog products by code, preserving request order.
type CodeLookup interface {
	ByCodes(ctx context.Context, codes []string) ([]catalog.ProductRef, error)
}

// ExchangeSink persists completed exchanges. May be nil when persistence is
// disabled.
type ExchangeSink interface {
	InsertExchange(ctx context.Context, ex history.Exchange) error
}

type ChatHandler struct {
	Sessions           *SessionStore
	Coordinator        *Coordinator
	Router             *IntentRouter
	Answers            AnswerBackend
	Resolver           Annotator
	Classifier         Classifier
	Pairings           Pairer
	Catalog            CodeLookup
	History            ExchangeSink
	Summarizer         *Summarizer
	Logger             logging.Logger
	ChatbotID          string
	MaxHistoryMessages int

	// sessionLocks serializes concurrent requests to the same session.
	sessionLocks sync.Map
}

type ChatRequest struct {
	SessionID   string             `json:"session_id,omitempty"`
	Message     string             `json:"message"`
	ResolvedTag string             `json:"resolved_tag,omitempty"`
	Metadata    *workflow.Metadata `json:"metadata,omitempty"`
	User        *workflow.User     `json:"user,omitempty"`
}

type sseAnswer struct {
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	Sources     []workflow.Source `json:"sources,omitempty"`
	SupplementA bool              `json:"supplement_a,omitempty"`
	SupplementB bool              `json:"supplement_b,omitempty"`
	Degraded    bool              `json:"degraded,omitempty"`
}

type sseProducts struct {
	Type     string               `json:"type"`
	Items    []catalog.ProductRef `json:"items"`
	Degraded bool                 `json:"degraded,omitempty"`
}

type sseFunnel struct {
	Type   string               `json:"type"`
	Text   string               `json:"text"`
	Items  []catalog.ProductRef `json:"items"`
	Update bool                 `json:"update,omitempty"`
}

type sseMeta struct {
	Type            string   `json:"type"`
	NeedsMoreDetail bool     `json:"needs_more_detail,omitempty"`
	MatchedProducts int      `json:"matched_products"`
	CandidateTags   []string `json:"candidate_tags,omitempty"`
}

type sseDone struct {
	Type string `json:"type"`
}

func RegisterRoutes(router gin.IRoutes, handler *ChatHandler) {
	router.POST("/chat", handler.HandleChat)
	router.GET("/sessions/:id", handler.HandleGetSession)
	router.POST("/sessions/:id/reset", handler.HandleResetSession)
}

func (h *ChatHandler) HandleChat(c *gin.Context) {
	if h == nil || h.Coordinator == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handler unavailable"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	var session *Session
	if id := strings.TrimSpace(req.SessionID); id == "" {
		session = h.Sessions.Create()
	} else {
		var err error
		session, err = h.Sessions.Get(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
	}

	lockVal, _ := h.sessionLocks.LoadOrStore(session.ID, &sync.Mutex{})
	sessMu, ok := lockVal.(*sync.Mutex)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal lock error"})
		return
	}
	sessMu.Lock()
	defer func() {
		sessMu.Unlock()
		if sessMu.TryLock() {
			h.sessionLocks.Delete(session.ID)
			sessMu.Unlock()
		}
	}()

	streamer, err := newSSEStreamer(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unavailable"})
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Session-ID", session.ID)
	c.Status(http.StatusOK)

	ctx := c.Request.Context()

	session.AppendTurn(Turn{Role: "user", RawText: req.Message})

	decision := h.Router.Route(ctx, session, req.Message)
	if decision.EnterFunnel {
		if h.handleFunnelTurn(ctx, streamer, session, req, decision) {
			return
		}
		// No candidates survived; the turn falls through to a plain exchange.
	}
	h.handlePlainTurn(ctx, streamer, session, req)
}

// handleFunnelTurn runs the two-product funnel flow. Returns false when the
// candidate set was empty, in which case the caller degrades to a plain turn.
func (h *ChatHandler) handleFunnelTurn(ctx context.Context, streamer *sseStreamer, session *Session, req ChatRequest, decision Decision) bool {
	picked := h.Router.SelectFunnelProducts(ctx, session, decision.Symptoms)
	if len(picked) == 0 {
		return false
	}

	text := funnelFallbackText
	if h.Answers != nil {
		resp, err := h.Answers.Generate(ctx, workflow.AnswerRequest{
			SessionID:   session.ID,
			Action:      "funnel",
			ChatInput:   req.Message,
			ChatHistory: h.buildHistory(session),
			Intent:      strings.Join(decision.Symptoms, "; "),
			Metadata:    req.Metadata,
			User:        req.User,
		})
		if err != nil {
			branchFailures.WithLabelValues("answer").Inc()
			h.Logger.WithError(err).WithField("session_id", session.ID).Warn("Funnel message generation failed, using fallback copy")
		} else if strings.TrimSpace(resp.Text) != "" {
			text = resp.Text
		}
	}

	if err := streamer.send(sseFunnel{Type: "funnel", Text: text, Items: picked, Update: decision.Update}); err != nil {
		h.Logger.WithError(err).Warn("Failed to send funnel event")
		return true
	}
	_ = streamer.send(sseMeta{Type: "meta", MatchedProducts: len(picked)})
	_ = streamer.SendDone()

	mode := "funnel"
	if decision.Update {
		mode = "funnel_update"
	}
	turnsTotal.WithLabelValues(mode).Inc()

	session.AppendTurn(Turn{
		Role:            "assistant",
		RawText:         text,
		MatchedProducts: picked,
		Flags: TurnFlags{
			IsFunnelTurn:         true,
			IsFunnelUpdate:       decision.Update,
			SuppressProductPanel: true,
		},
	})
	h.finishTurn(ctx, session, req, text, text)
	return true
}

func (h *ChatHandler) handlePlainTurn(ctx context.Context, streamer *sseStreamer, session *Session, req ChatRequest) {
	pairing, pairedRefs, candidateTags := h.lookupPairing(ctx, req)

	sink := &turnSink{
		handler:    h,
		ctx:        ctx,
		streamer:   streamer,
		pairing:    pairing,
		pairedRefs: pairedRefs,
		categories: requestCategories(req),
	}

	merged, err := h.Coordinator.Coordinate(ctx, workflow.AnswerRequest{
		SessionID:   session.ID,
		Action:      "sendMessage",
		ChatInput:   req.Message,
		ChatHistory: h.buildHistory(session),
		Metadata:    req.Metadata,
		User:        req.User,
	}, sink)
	if err != nil {
		h.Logger.WithError(err).WithField("session_id", session.ID).Warn("Turn coordination aborted")
		_ = streamer.SendError("An error occurred processing your request.")
		_ = streamer.SendDone()
		return
	}

	matched := catalog.DedupeByCode(append(sink.annotation.Products, merged.Products...))
	needsMore := len(matched) > detailThreshold
	if needsMore {
		session.SetState(StateAwaitingDetail)
		session.AddCandidates(matched)
	}

	_ = streamer.send(sseMeta{
		Type:            "meta",
		NeedsMoreDetail: needsMore,
		MatchedProducts: len(matched),
		CandidateTags:   candidateTags,
	})
	_ = streamer.SendDone()
	turnsTotal.WithLabelValues("chat").Inc()

	session.AppendTurn(Turn{
		Role:            "assistant",
		RawText:         merged.Text,
		AnnotatedText:   sink.annotation.Text,
		Sources:         merged.Sources,
		MatchedProducts: matched,
		Flags:           TurnFlags{NeedsMoreDetail: needsMore},
	})
	h.finishTurn(ctx, session, req, merged.Text, sink.annotation.Text)
}

// lookupPairing classifies the message and fetches the curated pairing. Any
// failure degrades to no pairing; an ambiguous classification defers to the
// customer via candidate tags unless the request already resolved one.
func (h *ChatHandler) lookupPairing(ctx context.Context, req ChatRequest) (Pairing, []catalog.ProductRef, []string) {
	if h.Classifier == nil || h.Pairings == nil {
		return Pairing{}, nil, nil
	}

	tags := []string{strings.TrimSpace(req.ResolvedTag)}
	if tags[0] == "" {
		classification, err := h.Classifier.Classify(ctx, req.Message)
		if err != nil {
			h.Logger.WithError(err).Warn("Problem classification failed, skipping pairing")
			return Pairing{}, nil, nil
		}
		if classification.Ambiguous {
			return Pairing{}, nil, classification.Tags
		}
		tags = classification.Tags
	}
	if len(tags) == 0 || tags[0] == "" {
		return Pairing{}, nil, nil
	}

	pairing, err := h.Pairings.Pair(ctx, tags)
	if err != nil {
		h.Logger.WithError(err).Warn("Pairing lookup failed, skipping pairing")
		return Pairing{}, nil, nil
	}
	if len(pairing.ProductCodes) == 0 || h.Catalog == nil {
		return pairing, nil, nil
	}

	refs, err := h.Catalog.ByCodes(ctx, pairing.ProductCodes)
	if err != nil {
		h.Logger.WithError(err).Warn("Pairing product lookup failed")
		return pairing, nil, nil
	}
	return pairing, refs, nil
}

// buildHistory maps recent turns into the workflow history shape, with the
// rolling summaries injected ahead of them as compact context.
func (h *ChatHandler) buildHistory(session *Session) []workflow.HistoryMessage {
	limit := h.MaxHistoryMessages
	if limit <= 0 {
		limit = defaultMaxHistoryMessages
	}
	recent := session.History(limit)

	summaries := session.RollingSummaries()
	if len(summaries) == 0 {
		return recent
	}
	messages := make([]workflow.HistoryMessage, 0, len(recent)+1)
	messages = append(messages, workflow.HistoryMessage{
		Role: "system",
		Text: "Summary of earlier conversation: " + strings.Join(summaries, " "),
	})
	return append(messages, recent...)
}

// finishTurn persists the exchange and schedules the rolling summary. Both
// run off the request path; neither can fail the turn.
func (h *ChatHandler) finishTurn(ctx context.Context, session *Session, req ChatRequest, rawAnswer, annotatedAnswer string) {
	if h.History != nil {
		go func(ctx context.Context) {
			metadata, _ := json.Marshal(req.Metadata)
			ex := history.Exchange{
				SessionID: session.ID,
				ChatbotID: h.ChatbotID,
				Question:  req.Message,
				Answer:    rawAnswer,
				Metadata:  metadata,
			}
			if req.User != nil {
				ex.UserID = req.User.ID
			}
			if err := h.History.InsertExchange(ctx, ex); err != nil {
				h.Logger.WithError(err).WithField("session_id", session.ID).Warn("Failed to persist exchange")
			}
		}(context.WithoutCancel(ctx))
	}
	if h.Summarizer != nil {
		h.Summarizer.OnTurnCompleted(session, req.Message, annotatedAnswer)
	}
}

func requestCategories(req ChatRequest) []string {
	if req.Metadata == nil {
		return nil
	}
	return req.Metadata.Categories
}

func (h *ChatHandler) HandleGetSession(c *gin.Context) {
	session, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"state":      session.State(),
		"turns":      session.Turns(),
		"summaries":  session.RollingSummaries(),
	})
}

func (h *ChatHandler) HandleResetSession(c *gin.Context) {
	session, err := h.Sessions.Reset(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "state": session.State()})
}

// turnSink adapts the coordinator's two result halves onto the SSE stream.
// The answer half is annotated before it goes out so the widget always
// receives marker-bearing text.
type turnSink struct {
	handler    *ChatHandler
	ctx        context.Context
	streamer   *sseStreamer
	pairing    Pairing
	pairedRefs []catalog.ProductRef
	categories []string

	annotation Annotation
}

func (t *turnSink) SendAnswer(update AnswerUpdate) error {
	if update.Degraded || t.handler.Resolver == nil {
		t.annotation = Annotation{Text: update.Text}
	} else {
		t.annotation = t.handler.Resolver.Annotate(t.ctx, update.Text, t.pairedRefs, t.categories)
	}
	return t.streamer.send(sseAnswer{
		Type:        "answer",
		Text:        t.annotation.Text,
		Sources:     update.Sources,
		SupplementA: t.pairing.SupplementA,
		SupplementB: t.pairing.SupplementB,
		Degraded:    update.Degraded,
	})
}

func (t *turnSink) SendProducts(update ProductUpdate) error {
	items := update.Products
	if items == nil {
		items = []catalog.ProductRef{}
	}
	return t.streamer.send(sseProducts{Type: "products", Items: items, Degraded: update.Degraded})
}

type sseStreamer struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func newSSEStreamer(writer http.ResponseWriter) (*sseStreamer, error) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	return &sseStreamer{writer: writer, flusher: flusher}, nil
}

func (s *sseStreamer) SendError(msg string) error {
	return s.send(map[string]string{"type": "error", "message": msg})
}

func (s *sseStreamer) SendDone() error {
	if err := s.send(sseDone{Type: "done"}); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.writer, "data: [DONE]\n\n")
	if err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStreamer) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
