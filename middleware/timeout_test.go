package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/config"
)

func TestTimeoutMiddlewarePassesThroughFastHandler(t *testing.T) {
	cfg := &config.Config{RequestTimeout: time.Second}
	tm := NewTimeoutMiddleware(zerolog.New(io.Discard), cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	tm.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a fast handler, got %d", rec.Code)
	}
}

func TestTimeoutMiddlewareAbortsSlowHandler(t *testing.T) {
	cfg := &config.Config{RequestTimeout: 10 * time.Millisecond}
	tm := NewTimeoutMiddleware(zerolog.New(io.Discard), cfg)

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	tm.Handler(slow).ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on timeout, got %d", rec.Code)
	}
}

func TestTimeoutMiddlewareClientCannotExceedConfiguredMax(t *testing.T) {
	cfg := &config.Config{RequestTimeout: 50 * time.Millisecond}
	tm := NewTimeoutMiddleware(zerolog.New(io.Discard), cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Timeout-Seconds", "9999")
	got := tm.resolveTimeout(req)

	if got != cfg.RequestTimeout {
		t.Fatalf("expected client-requested timeout to be capped at the configured max, got %v", got)
	}
}

func TestTimeoutMiddlewareClientCanRequestShorterTimeout(t *testing.T) {
	cfg := &config.Config{RequestTimeout: time.Minute}
	tm := NewTimeoutMiddleware(zerolog.New(io.Discard), cfg)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Timeout-Seconds", "5")
	got := tm.resolveTimeout(req)

	if got != 5*time.Second {
		t.Fatalf("expected a shorter client-requested timeout honored, got %v", got)
	}
}
