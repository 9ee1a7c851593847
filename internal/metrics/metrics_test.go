package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCountsByOutcome(t *testing.T) {
	r := New()
	ctx := context.Background()
	r.Observe(ctx, "submission.submit", "ok", 3*time.Millisecond)
	r.Observe(ctx, "submission.submit", "ok", 5*time.Millisecond)
	r.Observe(ctx, "submission.submit", "conflict", time.Millisecond)

	if got := testutil.ToFloat64(r.operations.WithLabelValues("submission.submit", "ok")); got != 2 {
		t.Fatalf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.operations.WithLabelValues("submission.submit", "conflict")); got != 1 {
		t.Fatalf("conflict count = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.durations); n != 1 {
		t.Fatalf("histogram series = %d, want 1", n)
	}
}

func TestObservePhaseKeepsOneActive(t *testing.T) {
	r := New()
	r.ObservePhase("COLLECTION_OPEN")
	r.ObservePhase("PROCESSING_CLOSED")
	if got := testutil.ToFloat64(r.phase.WithLabelValues("COLLECTION_OPEN")); got != 0 {
		t.Fatalf("COLLECTION_OPEN = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.phase.WithLabelValues("PROCESSING_CLOSED")); got != 1 {
		t.Fatalf("PROCESSING_CLOSED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.phase.WithLabelValues("PUBLICATION_LIVE")); got != 0 {
		t.Fatalf("PUBLICATION_LIVE = %v, want 0", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.Observe(context.Background(), "phase.resolve", "ok", time.Millisecond)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pulse_operations_total{operation="phase.resolve",outcome="ok"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
