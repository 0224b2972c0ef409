package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSemaphoreLimitsConcurrentHolders(t *testing.T) {
	s := NewSemaphore(1)
	if !s.Acquire("k", time.Second) {
		t.Fatal("expected first acquire to succeed")
	}
	if s.Acquire("k", 10*time.Millisecond) {
		t.Fatal("expected second acquire to block and time out while the slot is held")
	}
	s.Release("k")
	if !s.Acquire("k", time.Second) {
		t.Fatal("expected acquire to succeed again after release")
	}
}

func TestDeduplicatorCollapsesIdenticalFingerprints(t *testing.T) {
	d := NewDeduplicator()
	fp := Fingerprint("caller1", "v1", "s1", "2026-08-01T10:00:00Z")

	entry1, isNew1 := d.TryStart(fp)
	if !isNew1 {
		t.Fatal("expected the first TryStart to be new")
	}
	_, isNew2 := d.TryStart(fp)
	if isNew2 {
		t.Fatal("expected the second TryStart for the same fingerprint to join the in-flight entry")
	}

	d.Complete(fp, []byte("ok"), http.StatusOK, nil)
	select {
	case <-entry1.Done:
	default:
		t.Fatal("expected Complete to close the Done channel")
	}
	if d.InFlightCount() != 0 {
		t.Fatalf("expected in-flight count 0 after complete, got %d", d.InFlightCount())
	}
}

func TestFingerprintIsStableAndDistinguishesInputs(t *testing.T) {
	a := Fingerprint("c1", "v1", "s1", "2026-08-01T10:00:00Z")
	b := Fingerprint("c1", "v1", "s1", "2026-08-01T10:00:00Z")
	if a != b {
		t.Fatal("expected identical inputs to produce the same fingerprint")
	}
	c := Fingerprint("c1", "v1", "s2", "2026-08-01T10:00:00Z")
	if a == c {
		t.Fatal("expected different studentId to change the fingerprint")
	}
}

func TestAtomicCounter(t *testing.T) {
	var c AtomicCounter
	c.Inc()
	c.Add(4)
	if got := c.Get(); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if old := c.Reset(); old != 5 {
		t.Fatalf("expected Reset to return the prior value 5, got %d", old)
	}
	if got := c.Get(); got != 0 {
		t.Fatalf("expected 0 after reset, got %d", got)
	}
}

func TestConcurrencyGuardRejectsOverLimit(t *testing.T) {
	cg := NewConcurrencyGuard(1, 10*time.Millisecond, zerolog.New(io.Discard))
	release := make(chan struct{})
	blocking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})
	handler := cg.Middleware(blocking)

	done := make(chan struct{})
	go func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		close(done)
	}()
	time.Sleep(5 * time.Millisecond) // let the first request acquire its slot

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over the concurrency limit, got %d", rec2.Code)
	}

	close(release)
	<-done
}
