// Package middleware holds the HTTP-layer collaborators in front of
// the engine: caller identity extraction, CORS, rate limiting,
// request timeouts, and response headers.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	// CallerTokenContextKey stores the raw bearer token in request context.
	CallerTokenContextKey contextKey = "caller_token"
	// CallerUserIDContextKey stores the authenticated caller's user id.
	CallerUserIDContextKey contextKey = "caller_user_id"
)

// AuthMiddleware extracts the caller's identity from the Authorization
// header. Token validation itself belongs to an external identity
// collaborator, out of scope for this engine; this middleware only
// extracts the bearer token and, once CacheValidation has recorded a
// mapping for it,
// stores the associated user id in the request context (CallerUserID).
// The meeting handlers do not read it: byUserId comes from the request
// body and the engine checks it against the meeting's participants.
type AuthMiddleware struct {
	logger    zerolog.Logger
	cache     sync.Map // token -> *cachedAuth
	cacheTTL  time.Duration
	headerKey string
}

type cachedAuth struct {
	userID    string
	expiresAt time.Time
}

// NewAuthMiddleware creates a new caller-identity middleware.
func NewAuthMiddleware(logger zerolog.Logger, headerKey string) *AuthMiddleware {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &AuthMiddleware{
		logger:    logger,
		cacheTTL:  5 * time.Minute,
		headerKey: headerKey,
	}
}

// Handler returns the middleware handler function.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get(am.headerKey)
		if authHeader == "" {
			http.Error(w, `{"error":"missing authentication","message":"Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		tok := authHeader
		if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			tok = authHeader[7:]
		}
		if tok == "" {
			http.Error(w, `{"error":"invalid authentication","message":"token cannot be empty"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), CallerTokenContextKey, tok)
		if cached, ok := am.cache.Load(tok); ok {
			ca := cached.(*cachedAuth)
			if time.Now().Before(ca.expiresAt) {
				ctx = context.WithValue(ctx, CallerUserIDContextKey, ca.userID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			am.cache.Delete(tok)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CacheValidation records the user id the identity collaborator
// resolved for tok, so subsequent requests bearing the same token skip
// re-validation until the TTL lapses.
func (am *AuthMiddleware) CacheValidation(tok, userID string) {
	am.cache.Store(tok, &cachedAuth{
		userID:    userID,
		expiresAt: time.Now().Add(am.cacheTTL),
	})
}

// CallerToken extracts the bearer token from the request context.
func CallerToken(ctx context.Context) string {
	if v, ok := ctx.Value(CallerTokenContextKey).(string); ok {
		return v
	}
	return ""
}

// CallerUserID extracts the authenticated caller's user id from the
// request context, empty if not yet resolved.
func CallerUserID(ctx context.Context) string {
	if v, ok := ctx.Value(CallerUserIDContextKey).(string); ok {
		return v
	}
	return ""
}
