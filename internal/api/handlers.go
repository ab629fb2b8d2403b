package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oachxalach/campaign-engine/internal/drip"
	"github.com/oachxalach/campaign-engine/internal/ingest"
)

// Trigger handles one decoded ingest request.
type Trigger interface {
	Handle(ctx context.Context, req ingest.Request) ingest.Response
}

// FollowUpRunner runs a drip follow-up pass.
type FollowUpRunner interface {
	ProcessFollowUp(ctx context.Context, campaignID string) (drip.Result, error)
}

// Handlers holds the HTTP handlers for campaign triggers.
type Handlers struct {
	router    Trigger
	segmenter FollowUpRunner
}

// NewHandlers creates the handler set.
func NewHandlers(router Trigger, segmenter FollowUpRunner) *Handlers {
	return &Handlers{router: router, segmenter: segmenter}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Resend triggers a resend-to-unopened for the campaign in the path.
func (h *Handlers) Resend(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	resp := h.router.Handle(r.Context(), ingest.ResendRequest{CampaignID: campaignID})
	writeJSON(w, resp.StatusCode, map[string]string{"message": resp.Message})
}

// DirectSend performs an ad-hoc single-shot send.
func (h *Handlers) DirectSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      json.RawMessage `json:"to"`
		Subject string          `json:"subject"`
		Body    string          `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}

	send := ingest.DirectSend{
		To:      decodeToList(req.To),
		Subject: req.Subject,
		Body:    req.Body,
	}
	if len(send.To) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Missing recipients"})
		return
	}

	resp := h.router.Handle(r.Context(), send)
	writeJSON(w, resp.StatusCode, map[string]string{"message": resp.Message})
}

// DripFollowUp triggers engagement segmentation and follow-up enqueue for a
// drip campaign. The segmenter blocks for the settle delay, so callers
// should expect a slow response.
func (h *Handlers) DripFollowUp(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "id")
	if campaignID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Missing campaign_id"})
		return
	}

	result, err := h.segmenter.ProcessFollowUp(r.Context(), campaignID)
	if err != nil {
		log.Printf("[api] drip follow-up for %s: %v", campaignID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}

	status := "success"
	if result.Skipped {
		status = "skipped"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"sent_to_opened":   result.SentToOpened,
		"sent_to_unopened": result.SentToUnopened,
	})
}

// decodeToList accepts either a single address string or a list.
func decodeToList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[api] writing response: %v", err)
	}
}
