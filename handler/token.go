package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/secretmanager"
	"github.com/nellylemmy/talktime-meeting-engine/store"
	"github.com/nellylemmy/talktime-meeting-engine/token"
)

// TokenHandler verifies a secure meeting link token: a three-segment
// HS256 token an external collaborator mints and hands to a student,
// which must match the meeting it names.
type TokenHandler struct {
	store   store.Store
	secrets *secretmanager.Manager
	logger  zerolog.Logger
}

// NewTokenHandler creates a new link-token verification handler.
func NewTokenHandler(st store.Store, secrets *secretmanager.Manager, logger zerolog.Logger) *TokenHandler {
	return &TokenHandler{store: st, secrets: secrets, logger: logger.With().Str("handler", "token").Logger()}
}

// VerifyLinkToken handles GET /v1/meetings/{id}/link-token/verify.
func (h *TokenHandler) VerifyLinkToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tok := r.URL.Query().Get("token")
	if tok == "" {
		writeBadRequest(w, "token query parameter is required")
		return
	}

	m, found, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !found {
		writeEngineError(w, meeting.NewError(meeting.KindNotFound, "meeting not found", nil))
		return
	}

	secret, err := h.secrets.Get(r.Context())
	if err != nil {
		writeEngineError(w, meeting.NewError(meeting.KindServiceUnavailable, "signing secret unavailable", nil))
		return
	}

	claims, err := token.Validate(tok, secret, m, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"meetingId": claims.MeetingID,
		"roomId":    claims.RoomID,
		"expiresAt": claims.ExpiresAt,
	})
}
