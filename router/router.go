package router

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/config"
	"github.com/nellylemmy/talktime-meeting-engine/engine"
	"github.com/nellylemmy/talktime-meeting-engine/handler"
	appmw "github.com/nellylemmy/talktime-meeting-engine/middleware"
	"github.com/nellylemmy/talktime-meeting-engine/observability"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

// Deps carries the already-constructed collaborators NewRouter mounts
// handlers against. Metrics and Tracer are optional — nil disables the
// corresponding middleware/endpoint.
type Deps struct {
	Engine      *engine.Engine
	Store       store.Store
	AuthMW      *appmw.AuthMiddleware
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	ConfigCache *handler.ConfigCacheHandler
	Token       *handler.TokenHandler
}

// NewRouter returns a configured chi Router with the full middleware
// chain and all Admission API routes mounted.
func NewRouter(cfg *config.Config, appLogger zerolog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()

	// --- Middleware chain (order matters) ---
	r.Use(appmw.CORSMiddleware([]string{"*"}))
	r.Use(appmw.SecurityHeadersMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mwRequestLogger(appLogger))
	if deps.Tracer != nil {
		r.Use(observability.TracingMiddleware(deps.Tracer))
	}
	r.Use(mwMaxBodySize(cfg.MaxBodyBytes))

	// --- Unauthenticated endpoints ---
	healthHandler := handler.NewHealthHandler(deps.Store)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/ready", healthHandler.Ready)

	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.Handler())
	}

	r.Get("/openapi.json", handler.OpenAPIHandler())
	r.Get("/docs", handler.SwaggerUIHandler())

	// --- Admission API (auth + rate limiting required) ---
	meetingsHandler := handler.NewMeetingsHandler(deps.Engine, appLogger)
	rateLimiter := appmw.NewRateLimiter(appLogger, cfg.RateLimitEnabled, cfg.RateLimitRPM, cfg.RateLimitBurst)
	headerNorm := appmw.NewHeaderNormalization(appLogger)
	timeoutMW := appmw.NewTimeoutMiddleware(appLogger, cfg)
	concurrencyGuard := appmw.NewConcurrencyGuard(cfg.MaxConcurrentPerCaller, cfg.ConcurrencyWaitTimeout, appLogger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(deps.AuthMW.Handler)
		r.Use(rateLimiter.Handler)
		r.Use(headerNorm.Handler)
		r.Use(timeoutMW.Handler)
		r.Use(concurrencyGuard.Middleware)

		r.Post("/meetings", meetingsHandler.CreateMeeting)
		r.Post("/meetings/{id}/reschedule", meetingsHandler.RescheduleMeeting)
		r.Post("/meetings/{id}/cancel", meetingsHandler.CancelMeeting)
		r.Post("/meetings/{idOrRoomId}/end", meetingsHandler.EndMeeting)
		r.Post("/rooms/{roomId}/join", meetingsHandler.PeerJoin)

		r.Get("/students/{studentId}/meetings", meetingsHandler.ListByStudent)
		r.Get("/users/{userId}/meetings/upcoming", meetingsHandler.ListUpcoming)
		r.Get("/users/{userId}/meetings/past", meetingsHandler.ListPast)

		if deps.Token != nil {
			r.Get("/meetings/{id}/link-token/verify", deps.Token.VerifyLinkToken)
		}

		if deps.ConfigCache != nil {
			r.Get("/admin/config", deps.ConfigCache.Get)
			r.Put("/admin/config", deps.ConfigCache.Update)
			r.Post("/admin/config/invalidate", deps.ConfigCache.Invalidate)
		}
	})

	return r
}

// mwMaxBodySize returns middleware that limits the request body size.
func mwMaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 1 * 1024 * 1024
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			max := maxBytes
			if v := os.Getenv("ENGINE_MAX_BODY_BYTES"); v != "" {
				if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
					max = parsed
				}
			}

			if r.ContentLength > 0 && r.ContentLength > max {
				http.Error(w, `{"error":{"kind":"bad_request","message":"request body too large"}}`, http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, max)
			next.ServeHTTP(w, r)
		})
	}
}

func mwRequestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			dur := time.Since(start)
			reqID := chimw.GetReqID(r.Context())
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", reqID).
				Int("status", rw.Status()).
				Dur("duration", dur).
				Msg("request completed")
		})
	}
}
