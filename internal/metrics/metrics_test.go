package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.OpDone("join", "ok", 10*time.Millisecond)
	c.OpDone("join", "ok", 5*time.Millisecond)
	c.OpDone("call-next", "empty", time.Millisecond)
	c.TxnConflict("join")
	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()
	c.SetWaiting("shop-a", 3)

	if got := testutil.ToFloat64(c.opTotal.WithLabelValues("join", "ok")); got != 2 {
		t.Fatalf("join ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.conflicts.WithLabelValues("join")); got != 1 {
		t.Fatalf("conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.cacheHits); got != 2 {
		t.Fatalf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.waiting.WithLabelValues("shop-a")); got != 3 {
		t.Fatalf("waiting = %v, want 3", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollector()
	c.OpDone("join", "ok", time.Millisecond)
	c.ObserveRead(time.Millisecond, 64)
	c.ObserveBatchCommit(time.Millisecond, 4, 256)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"pitline_queue_ops_total",
		"pitline_store_read_seconds",
		"pitline_store_batch_ops",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %s", want)
		}
	}
}

func TestCollectorSatisfiesObserverSeams(t *testing.T) {
	// Compile-time checks live in the runtime wiring; here we only make
	// sure repeated collectors do not collide on a shared registry.
	a := NewCollector()
	b := NewCollector()
	a.CacheHit()
	b.CacheHit()
	if testutil.ToFloat64(a.cacheHits) != 1 || testutil.ToFloat64(b.cacheHits) != 1 {
		t.Fatalf("collectors share state")
	}
}
