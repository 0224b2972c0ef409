package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/configcache"
)

// SettingsSaver persists a settings snapshot for every process's
// ConfigLoader to pick up — backed by redisclient.Client.SaveSettings
// in production, nil when no shared backing store is configured.
type SettingsSaver func(ctx context.Context, s configcache.Settings) error

// ConfigCacheHandler exposes the Config Cache's explicit admin
// invalidation hook, in the same shape as a FlushAll/FlushNamespace
// admin endpoint over a TTL-backed cache.
type ConfigCacheHandler struct {
	cache  *configcache.Cache
	saver  SettingsSaver
	logger zerolog.Logger
}

// NewConfigCacheHandler creates a new config-cache admin handler.
// saver may be nil, in which case Update stores the submitted settings
// nowhere: it only invalidates this process's cache, which then reloads
// from its own loader, and other processes are not told anything.
func NewConfigCacheHandler(cache *configcache.Cache, saver SettingsSaver, logger zerolog.Logger) *ConfigCacheHandler {
	return &ConfigCacheHandler{cache: cache, saver: saver, logger: logger.With().Str("handler", "config_cache").Logger()}
}

// Get handles GET /v1/admin/config — current settings snapshot.
func (h *ConfigCacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings := h.cache.Get(r.Context())
	writeJSON(w, http.StatusOK, settings)
}

// Invalidate handles POST /v1/admin/config/invalidate — forces the
// next read to refresh from the backing loader regardless of TTL.
func (h *ConfigCacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	h.cache.Invalidate()
	h.logger.Info().Msg("config cache invalidated")
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}

// Update handles PUT /v1/admin/config — the runtime-knob editing
// endpoint. It persists the new settings through saver (if configured)
// so every other process's loader picks them up, then invalidates this
// process's own cache so it doesn't wait out the TTL either.
func (h *ConfigCacheHandler) Update(w http.ResponseWriter, r *http.Request) {
	var settings configcache.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	if h.saver != nil {
		if err := h.saver(r.Context(), settings); err != nil {
			h.logger.Error().Err(err).Msg("failed to persist config cache settings")
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error": map[string]string{"kind": "service_unavailable", "message": "failed to persist settings"},
			})
			return
		}
	}
	h.cache.Invalidate()
	h.logger.Info().Msg("config cache settings updated")
	writeJSON(w, http.StatusOK, settings)
}
