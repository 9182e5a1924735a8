package advisor

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/naturia/advisor/internal/catalog"
	"github.com/naturia/advisor/internal/textgen"
	"github.com/naturia/advisor/pkg/logging"
)

// detailThreshold is the matched-product count above which a turn asks the
// customer for more detail instead of showing everything.
const detailThreshold = 2

// funnelProductCount is the exact size of a funnel recommendation.
const funnelProductCount = 2

// Decision is the router's verdict for one incoming message.
type Decision struct {
	EnterFunnel bool
	Update      bool
	Symptoms    []string
}

// IntentRouter decides whether a message on a detail-awaiting session
// answers the advisor's question or abandons it. Sessions in the plain state
// never reach the model; routing cost is only paid when it matters.
type IntentRouter struct {
	provider textgen.Provider
	logger   logging.Logger
}

func NewIntentRouter(provider textgen.Provider, logger logging.Logger) *IntentRouter {
	return &IntentRouter{provider: provider, logger: logger}
}

// Route classifies the message and transitions the session's router state.
// A session is routed while it awaits detail, and for one more turn after a
// funnel so a refinement can re-enter the selection as an update. A chat
// verdict while awaiting detail keeps the detail signal armed; the signal
// only clears once a funnel completes or the session resets. Classification
// failures fall back to a plain chat turn so the conversation never stalls
// on the router.
func (r *IntentRouter) Route(ctx context.Context, session *Session, message string) Decision {
	awaiting := session.State() == StateAwaitingDetail
	postFunnel := session.LastTurnWasFunnel()
	if !awaiting && !postFunnel {
		return Decision{}
	}

	verdict, err := r.classify(ctx, message, session.Candidates())
	if err != nil {
		r.logger.WithError(err).WithField("session_id", session.ID).Warn("Intent routing failed, treating turn as plain chat")
		routedIntents.WithLabelValues("error").Inc()
		return Decision{}
	}

	switch verdict.Intent {
	case "funnel", "update_funnel":
		routedIntents.WithLabelValues(verdict.Intent).Inc()
		session.SetState(StateFunnelActive)
		symptoms := verdict.Symptoms
		if len(symptoms) == 0 {
			symptoms = []string{strings.TrimSpace(message)}
		}
		update := verdict.Intent == "update_funnel" || postFunnel
		return Decision{EnterFunnel: true, Update: update, Symptoms: symptoms}
	default:
		routedIntents.WithLabelValues("chat").Inc()
		if postFunnel && !awaiting {
			// The funnel is done and the customer moved on.
			session.ResetCandidates()
			session.SetState(StatePlain)
		}
		return Decision{}
	}
}

type routeVerdict struct {
	Intent   string   `json:"intent"`
	Symptoms []string `json:"symptoms"`
}

func (r *IntentRouter) classify(ctx context.Context, message string, candidates []catalog.ProductRef) (routeVerdict, error) {
	var input strings.Builder
	if len(candidates) > 0 {
		input.WriteString("Products under discussion: ")
		for i, ref := range candidates {
			if i > 0 {
				input.WriteString(", ")
			}
			input.WriteString(ref.DisplayName)
		}
		input.WriteString("\n\n")
	}
	input.WriteString("Customer message: ")
	input.WriteString(message)

	raw, err := r.provider.Complete(ctx, routeIntentPrompt, input.String())
	if err != nil {
		return routeVerdict{}, err
	}
	var verdict routeVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &verdict); err != nil {
		// A bare keyword is close enough; some models skip the JSON shell.
		word := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "\"`"))
		switch word {
		case "funnel", "update_funnel", "chat":
			return routeVerdict{Intent: word}, nil
		}
		return routeVerdict{}, err
	}
	return verdict, nil
}

// extractJSONObject strips code fences and surrounding prose around the
// first top-level JSON object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

// SelectFunnelProducts picks exactly two products from the session's
// accumulated candidate set for the stated symptoms. The selection call may
// only choose from the candidates; anything else it returns is discarded and
// backfilled from the candidate set in accumulation order. An empty
// candidate set returns nil so the caller can fall back to a plain turn.
//
// A completed selection is single shot: the state returns to plain. The
// candidate set survives so a follow-up refinement can re-select from it;
// it clears once the customer changes the subject or the session resets.
func (r *IntentRouter) SelectFunnelProducts(ctx context.Context, session *Session, symptoms []string) []catalog.ProductRef {
	candidates := session.Candidates()
	if len(candidates) == 0 {
		funnelSelections.WithLabelValues("no_candidates").Inc()
		session.SetState(StatePlain)
		return nil
	}
	defer session.SetState(StatePlain)

	byCode := make(map[string]catalog.ProductRef, len(candidates))
	var listing strings.Builder
	for i, ref := range candidates {
		byCode[ref.Code] = ref
		listing.WriteString(formatCandidateLine(i+1, ref))
	}
	listing.WriteString("\nCustomer needs: ")
	listing.WriteString(strings.Join(symptoms, "; "))

	outcome := "ok"
	var picked []catalog.ProductRef
	raw, err := r.provider.Complete(ctx, selectFunnelPrompt, listing.String())
	if err != nil {
		r.logger.WithError(err).WithField("session_id", session.ID).Warn("Funnel selection call failed, falling back to candidate order")
		outcome = "fallback"
	} else {
		seen := make(map[string]bool)
		for _, code := range textgen.ParseStringArray(raw) {
			ref, ok := byCode[strings.TrimSpace(code)]
			if !ok || seen[ref.Code] {
				continue
			}
			seen[ref.Code] = true
			picked = append(picked, ref)
			if len(picked) == funnelProductCount {
				break
			}
		}
	}

	if len(picked) < funnelProductCount {
		if outcome == "ok" {
			outcome = "refilled"
		}
		picked = refillFromCandidates(picked, candidates)
	}
	funnelSelections.WithLabelValues(outcome).Inc()
	return picked
}

func formatCandidateLine(n int, ref catalog.ProductRef) string {
	line := strconv.Itoa(n) + ". " + ref.DisplayName + " (code: " + ref.Code + ")"
	if ref.Description != "" {
		line += " - " + ref.Description
	}
	return line + "\n"
}

func refillFromCandidates(picked, candidates []catalog.ProductRef) []catalog.ProductRef {
	have := make(map[string]bool, len(picked))
	for _, ref := range picked {
		have[ref.Code] = true
	}
	for _, ref := range candidates {
		if len(picked) >= funnelProductCount {
			break
		}
		if have[ref.Code] {
			continue
		}
		have[ref.Code] = true
		picked = append(picked, ref)
	}
	return picked
}
