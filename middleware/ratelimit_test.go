package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRateLimiterDisabledAllowsAllRequests(t *testing.T) {
	rl := NewRateLimiter(zerolog.New(io.Discard), false, 1, 1)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	rl.Handler(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when disabled, got %d", rec.Code)
	}
}

func TestRateLimiterEnforcesPerKeyLimit(t *testing.T) {
	rl := NewRateLimiter(zerolog.New(io.Discard), true, 2, 2)

	makeReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := context.WithValue(req.Context(), CallerTokenContextKey, "tok-12345678")
		return req.WithContext(ctx)
	}

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		rl.Handler(okHandler()).ServeHTTP(rec, makeReq())
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected the first 2 requests within the limit to succeed, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected the 3rd request to be rate limited, got %v", codes)
	}
}

func TestRateLimiterDistinctKeysDoNotShareBudget(t *testing.T) {
	rl := NewRateLimiter(zerolog.New(io.Discard), true, 1, 1)

	req1 := httptest.NewRequest(http.MethodGet, "/", nil)
	req1 = req1.WithContext(context.WithValue(req1.Context(), CallerTokenContextKey, "tok-aaaaaaaa"))
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2 = req2.WithContext(context.WithValue(req2.Context(), CallerTokenContextKey, "tok-bbbbbbbb"))

	rec1 := httptest.NewRecorder()
	rl.Handler(okHandler()).ServeHTTP(rec1, req1)
	rec2 := httptest.NewRecorder()
	rl.Handler(okHandler()).ServeHTTP(rec2, req2)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Fatalf("expected independent keys to each get their own budget, got %d and %d", rec1.Code, rec2.Code)
	}
}
