package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

// HealthHandler serves liveness (/healthz) and readiness (/ready).
// Readiness only checks that the store answers a query; the event bus
// and the scheduler are not checked.
type HealthHandler struct {
	store store.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(st store.Store) *HealthHandler {
	return &HealthHandler{store: st}
}

// Healthz handles GET /healthz — process is up.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "talktime-meeting-engine"})
}

// Ready handles GET /ready — dependencies are reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.ListByStatus(ctx, meeting.StatusScheduled); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "talktime-meeting-engine"})
}
