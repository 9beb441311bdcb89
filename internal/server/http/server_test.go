package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/pitlinehq/pitline/internal/config"
	"github.com/pitlinehq/pitline/internal/queue"
	"github.com/pitlinehq/pitline/internal/runtime"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.FsyncMode = "never"
	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	if w := doJSON(t, s, http.MethodGet, "/v1/healthz", ""); w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestJoinAndSnapshot(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/v1/queue/join", `{"locationId":"shop-a","customerRef":"c1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("join status: %d body=%s", w.Code, w.Body.String())
	}
	var ent queue.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &ent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ent.Position != 1 || ent.Status != queue.StatusWaiting {
		t.Fatalf("entry = %+v", ent)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/queue/snapshot?location=shop-a", "")
	if w.Code != 200 {
		t.Fatalf("snapshot status: %d", w.Code)
	}
	var snap queue.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Waiting) != 1 {
		t.Fatalf("waiting = %d", len(snap.Waiting))
	}
}

func TestCallNextEmptyQueueIsOK(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/locations/ensure", `{"id":"shop-a"}`)
	w := doJSON(t, s, http.MethodPost, "/v1/queue/call-next", `{"locationId":"shop-a"}`)
	if w.Code != 200 {
		t.Fatalf("status: %d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Empty bool `json:"empty"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || !out.Empty {
		t.Fatalf("body = %s, err = %v", w.Body.String(), err)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/v1/queue/join", `{"locationId":"shop-a","customerRef":"c1"}`)
	var ent queue.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &ent); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w := doJSON(t, s, http.MethodPost, "/v1/queue/call-next", `{"locationId":"shop-a"}`); w.Code != 200 {
		t.Fatalf("call-next status: %d", w.Code)
	}
	body := `{"locationId":"shop-a","entryId":"` + ent.ID + `"}`
	if w := doJSON(t, s, http.MethodPost, "/v1/queue/start", body); w.Code != 200 {
		t.Fatalf("start status: %d body=%s", w.Code, w.Body.String())
	}
	if w := doJSON(t, s, http.MethodPost, "/v1/queue/complete", body); w.Code != 200 {
		t.Fatalf("complete status: %d", w.Code)
	}
	// A terminal entry rejects further transitions.
	if w := doJSON(t, s, http.MethodPost, "/v1/queue/cancel", body); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("cancel-after-complete status: %d, want 422", w.Code)
	}
}

func TestNotFoundMapping(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/locations/ensure", `{"id":"shop-a"}`)
	body := `{"locationId":"shop-a","entryId":"missing"}`
	if w := doJSON(t, s, http.MethodPost, "/v1/queue/start", body); w.Code != http.StatusNotFound {
		t.Fatalf("status: %d, want 404", w.Code)
	}
}

func TestQueueFullMapsToConflict(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/locations/ensure", `{"id":"tight","maxQueueSize":1}`)
	doJSON(t, s, http.MethodPost, "/v1/queue/join", `{"locationId":"tight","customerRef":"c1"}`)
	w := doJSON(t, s, http.MethodPost, "/v1/queue/join", `{"locationId":"tight","customerRef":"c2"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status: %d, want 409", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/queue/join", `{"locationId":"shop-a","customerRef":"c1"}`)
	doJSON(t, s, http.MethodPost, "/v1/queue/call-next", `{"locationId":"shop-a"}`)

	w := doJSON(t, s, http.MethodGet, "/v1/queue/events?location=shop-a", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var out struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(out.Events))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/queue/join", `{"locationId":"shop-a","customerRef":"c1"}`)
	w := doJSON(t, s, http.MethodGet, "/metrics", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pitline_queue_ops_total") {
		t.Fatalf("exposition missing op counter")
	}
}
