package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pitlinehq/pitline/internal/queue"
	"github.com/pitlinehq/pitline/internal/runtime"
	"github.com/pitlinehq/pitline/internal/store"
	"github.com/pitlinehq/pitline/internal/txn"
	"github.com/pitlinehq/pitline/internal/updates"
)

type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/locations/ensure", s.handleLocationEnsure)
	mux.HandleFunc("/v1/locations", s.handleLocationList)
	mux.HandleFunc("/v1/queue/join", s.handleJoin)
	mux.HandleFunc("/v1/queue/call-next", s.handleCallNext)
	mux.HandleFunc("/v1/queue/start", s.handleStart)
	mux.HandleFunc("/v1/queue/complete", s.handleComplete)
	mux.HandleFunc("/v1/queue/cancel", s.handleCancel)
	mux.HandleFunc("/v1/queue/snapshot", s.handleSnapshot)
	mux.HandleFunc("/v1/queue/entry", s.handleEntry)
	mux.HandleFunc("/v1/queue/expire", s.handleExpire)
	mux.HandleFunc("/v1/queue/events", s.handleEvents)
	mux.HandleFunc("/v1/queue/subscribe", s.handleSubscribeSSE)
	mux.Handle("/metrics", rt.Metrics().Handler())
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeEngineError maps engine errors onto HTTP statuses. EmptyQueue is
// handled at its call site; it is a result, not an error.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrEntryNotFound), errors.Is(err, queue.ErrLocationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, txn.ErrPreconditionFailed):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLocationEnsure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var loc queue.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil || loc.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	out, err := s.rt.Engine().EnsureLocation(r.Context(), loc)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleLocationList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locs, err := s.rt.Engine().Locations(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locs})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req queue.JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ent, err := s.rt.Engine().Join(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ent)
}

type entryRef struct {
	LocationID string `json:"locationId"`
	EntryID    string `json:"entryId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req entryRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocationID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ent, err := s.rt.Engine().CallNext(r.Context(), req.LocationID)
	if errors.Is(err, queue.ErrEmptyQueue) {
		writeJSON(w, http.StatusOK, map[string]any{"empty": true})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"empty": false, "entry": ent})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.rt.Engine().StartService)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.rt.Engine().Complete)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) (queue.Entry, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req entryRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocationID == "" || req.EntryID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ent, err := op(r.Context(), req.LocationID, req.EntryID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req entryRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocationID == "" || req.EntryID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ent, err := s.rt.Engine().Cancel(r.Context(), req.LocationID, req.EntryID, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	loc := r.URL.Query().Get("location")
	if loc == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	snap, err := s.rt.Engine().GetSnapshot(r.Context(), loc)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	loc, id := q.Get("location"), q.Get("id")
	if loc == "" || id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ent, err := s.rt.Engine().Entry(r.Context(), loc, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

type expireReq struct {
	LocationID string `json:"locationId"`
	MaxAgeMs   int64  `json:"maxAgeMs"`
	PageSize   int    `json:"pageSize"`
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req expireReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocationID == "" || req.MaxAgeMs <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	expired, err := s.rt.Engine().ExpireStale(r.Context(), req.LocationID, time.Duration(req.MaxAgeMs)*time.Millisecond, req.PageSize)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": len(expired), "entries": expired})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	loc := q.Get("location")
	if loc == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	evs, err := s.rt.Journal().Recent(r.Context(), loc, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	loc := q.Get("location")
	if loc == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	mode, err := updates.ParseMode(q.Get("mode"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sub, err := s.rt.Updates().Subscribe(r.Context(), updates.SubscribeRequest{
		LocationID: loc,
		Mode:       mode,
		Filter:     q.Get("filter"),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			b, err := json.Marshal(u)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(b); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
