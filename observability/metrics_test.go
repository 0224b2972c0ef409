package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCounterIncAndAdd(t *testing.T) {
	var c Counter
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("expected 5, got %d", c.Value())
	}
}

func TestGaugeSetIncDec(t *testing.T) {
	var g Gauge
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 9 {
		t.Fatalf("expected 9, got %v", g.Value())
	}
}

func TestHistogramObserveBucketsCorrectly(t *testing.T) {
	h := NewHistogram([]float64{10, 20})
	h.Observe(5)
	h.Observe(15)
	h.Observe(1000)

	if h.count != 3 {
		t.Fatalf("expected count 3, got %d", h.count)
	}
	if h.counts[0] != 1 { // <=10
		t.Fatalf("expected 1 value in the <=10 bucket, got %d", h.counts[0])
	}
	if h.counts[1] != 1 { // <=20
		t.Fatalf("expected 1 value in the <=20 bucket, got %d", h.counts[1])
	}
	if h.counts[2] != 1 { // +Inf
		t.Fatalf("expected 1 value in the +Inf bucket, got %d", h.counts[2])
	}
}

func TestMetricsGetCounterIsIdempotentPerLabelSet(t *testing.T) {
	m := NewMetrics(zerolog.New(io.Discard))
	m.CounterInc("requests_total", map[string]string{"route": "/x"})
	m.CounterInc("requests_total", map[string]string{"route": "/x"})
	m.CounterInc("requests_total", map[string]string{"route": "/y"})

	if got := m.getCounter("requests_total", map[string]string{"route": "/x"}).Value(); got != 2 {
		t.Fatalf("expected 2 for route /x, got %d", got)
	}
	if got := m.getCounter("requests_total", map[string]string{"route": "/y"}).Value(); got != 1 {
		t.Fatalf("expected 1 for route /y, got %d", got)
	}
}

func TestTrackRequestRecordsCounterAndHistogram(t *testing.T) {
	m := NewMetrics(zerolog.New(io.Discard))
	m.TrackRequest("/v1/meetings", "POST", 201, 42.5)

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "meeting_engine_requests_total") {
		t.Fatal("expected requests_total counter in exposition output")
	}
	if !strings.Contains(body, "meeting_engine_request_duration_ms") {
		t.Fatal("expected request_duration_ms histogram in exposition output")
	}
}

func TestMetricsHandlerServesPrometheusContentType(t *testing.T) {
	m := NewMetrics(zerolog.New(io.Discard))
	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	ct := rec.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected a text/plain content type, got %q", ct)
	}
}

func TestLabelKeyIsOrderIndependent(t *testing.T) {
	a := labelKey(map[string]string{"b": "2", "a": "1"})
	b := labelKey(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("expected label key to be stable regardless of map insertion order, got %q vs %q", a, b)
	}
}
