package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pitlinehq/pitline/internal/cache"
	"github.com/pitlinehq/pitline/internal/events"
	"github.com/pitlinehq/pitline/internal/store"
	"github.com/pitlinehq/pitline/internal/txn"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

var (
	// ErrEmptyQueue reports call-next on a queue with no eligible entry.
	// It is an expected condition, not a failure.
	ErrEmptyQueue = errors.New("queue: no eligible entry")
	// ErrInvalidTransition reports a state change the machine forbids.
	ErrInvalidTransition = errors.New("queue: invalid status transition")
	// ErrEntryNotFound reports an unknown entry id.
	ErrEntryNotFound = errors.New("queue: entry not found")
	// ErrLocationNotFound reports an unregistered location.
	ErrLocationNotFound = errors.New("queue: location not found")
	// ErrQueueFull reports a join against a location at MaxQueueSize.
	ErrQueueFull = errors.New("queue: waiting set is full")
)

// duplicateJoin aborts a join batch when the request id was already used.
type duplicateJoin struct{ entryID string }

func (d duplicateJoin) Error() string { return "queue: duplicate join for entry " + d.entryID }

// Observer receives engine observations. Optional.
type Observer interface {
	OpDone(op, outcome string, elapsed time.Duration)
	SetWaiting(location string, count int)
}

type noopObserver struct{}

func (noopObserver) OpDone(string, string, time.Duration) {}
func (noopObserver) SetWaiting(string, int)               {}

// Options wires the engine's collaborators.
type Options struct {
	Store    *store.Store
	Cache    *cache.Cache
	Executor *txn.Executor
	Bus      *events.Bus
	Journal  *events.Journal
	Logger   logpkg.Logger
	Observer Observer
	// SnapshotTTL bounds snapshot staleness; default 3s.
	SnapshotTTL time.Duration
	// AutoCreateLocations registers unknown locations on first join.
	AutoCreateLocations bool
	// NowMs overrides the clock. Test use only.
	NowMs func() int64
}

// Engine is the queue state machine over the versioned store.
type Engine struct {
	store       *store.Store
	cache       *cache.Cache
	exec        *txn.Executor
	bus         *events.Bus
	journal     *events.Journal
	logger      logpkg.Logger
	observer    Observer
	snapshotTTL time.Duration
	autoCreate  bool
	nowMs       func() int64
}

// New returns an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger().WithComponent("queue")
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 3 * time.Second
	}
	if opts.NowMs == nil {
		opts.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Engine{
		store:       opts.Store,
		cache:       opts.Cache,
		exec:        opts.Executor,
		bus:         opts.Bus,
		journal:     opts.Journal,
		logger:      opts.Logger,
		observer:    opts.Observer,
		snapshotTTL: opts.SnapshotTTL,
		autoCreate:  opts.AutoCreateLocations,
		nowMs:       opts.NowMs,
	}
}

// JoinRequest carries the inputs for Join.
type JoinRequest struct {
	LocationID    string   `json:"locationId"`
	CustomerRef   string   `json:"customerRef"`
	MotorcycleRef string   `json:"motorcycleRef"`
	ServiceRefs   []string `json:"serviceRefs,omitempty"`
	Priority      Priority `json:"priority,omitempty"`
	// RequestID makes the join idempotent: a duplicate returns the entry
	// created by the first request.
	RequestID string `json:"requestId,omitempty"`
}

// storedEntry pairs an entry with its store version for batch guards.
type storedEntry struct {
	Entry
	version uint64
}

// counterDoc is the position allocator for a location+day partition.
// Tail always equals the current waiting count.
type counterDoc struct {
	Tail int `json:"tail"`
}

// Join appends a customer to the location's waiting set, assigning the
// next dense position through the partition counter.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (entry Entry, err error) {
	defer e.observe("join", time.Now(), &err)

	if req.LocationID == "" || req.CustomerRef == "" {
		return Entry{}, fmt.Errorf("queue: locationId and customerRef are required")
	}
	switch req.Priority {
	case "":
		req.Priority = PriorityNormal
	case PriorityNormal, PriorityUrgent:
	default:
		return Entry{}, fmt.Errorf("queue: unknown priority %q", req.Priority)
	}

	loc, err := e.Location(ctx, req.LocationID)
	if errors.Is(err, ErrLocationNotFound) && e.autoCreate {
		loc, err = e.EnsureLocation(ctx, Location{ID: req.LocationID})
	}
	if err != nil {
		return Entry{}, err
	}

	var created Entry
	err = e.exec.ExecuteBatch(ctx, "join", func(ctx context.Context) ([]store.Put, error) {
		if req.RequestID != "" {
			doc, rerr := e.store.Read(requestKey(loc.ID, req.RequestID))
			if rerr == nil {
				var existingID string
				_ = json.Unmarshal(doc.Data, &existingID)
				return nil, duplicateJoin{entryID: existingID}
			}
			if !errors.Is(rerr, store.ErrNotFound) {
				return nil, rerr
			}
		}

		waiting, _, err := e.loadLive(loc.ID)
		if err != nil {
			return nil, err
		}
		now := e.nowMs()
		ctrKey := counterKey(loc.ID, dayFromMs(now))
		tail, ctrVersion, err := e.readCounter(ctrKey, len(waiting))
		if err != nil {
			return nil, err
		}
		if loc.MaxQueueSize > 0 && tail >= loc.MaxQueueSize {
			return nil, ErrQueueFull
		}

		created = Entry{
			ID:            uuid.NewString(),
			LocationID:    loc.ID,
			CustomerRef:   req.CustomerRef,
			MotorcycleRef: req.MotorcycleRef,
			ServiceRefs:   req.ServiceRefs,
			Status:        StatusWaiting,
			Position:      tail + 1,
			Priority:      req.Priority,
			RequestID:     req.RequestID,
			CreatedAtMs:   now,
		}
		puts := []store.Put{
			{Key: ctrKey, ExpectedVersion: ctrVersion, Data: mustJSON(counterDoc{Tail: tail + 1})},
			{Key: entryKey(loc.ID, created.ID), ExpectedVersion: 0, Data: mustJSON(created)},
		}
		if req.RequestID != "" {
			puts = append(puts, store.Put{
				Key:             requestKey(loc.ID, req.RequestID),
				ExpectedVersion: 0,
				Data:            mustJSON(created.ID),
			})
		}
		return puts, nil
	})

	var dup duplicateJoin
	if errors.As(err, &dup) {
		return e.Entry(ctx, req.LocationID, dup.entryID)
	}
	if err != nil {
		return Entry{}, err
	}

	e.invalidate(loc.ID)
	e.emit(ctx, events.TypeAdded, created)
	e.observer.SetWaiting(loc.ID, created.Position)
	return created, nil
}

// CallNext transitions the head of the waiting set (urgent first, then
// position ascending) to called and renumbers the remainder. The head is
// re-validated at commit time; a concurrent caller taking the same head
// conflicts and this call retries against the new head.
func (e *Engine) CallNext(ctx context.Context, locationID string) (entry Entry, err error) {
	defer e.observe("call-next", time.Now(), &err)

	var called Entry
	var remaining int
	err = e.exec.ExecuteBatch(ctx, "call-next", func(ctx context.Context) ([]store.Put, error) {
		waiting, _, err := e.loadLive(locationID)
		if err != nil {
			return nil, err
		}
		if len(waiting) == 0 {
			return nil, ErrEmptyQueue
		}
		head := waiting[0]
		upd := head.Entry
		upd.Status = StatusCalled
		upd.CalledAtMs = e.nowMs()
		freed := upd.Position
		upd.Position = 0
		called = upd
		remaining = len(waiting) - 1

		puts := []store.Put{{Key: entryKey(locationID, upd.ID), ExpectedVersion: head.version, Data: mustJSON(upd)}}
		puts = append(puts, e.renumberPuts(locationID, waiting[1:], []int{freed})...)
		ctrPut, err := e.counterPut(locationID, remaining)
		if err != nil {
			return nil, err
		}
		return append(puts, ctrPut), nil
	})
	if err != nil {
		return Entry{}, err
	}

	e.invalidate(locationID)
	e.emit(ctx, events.TypeCalled, called)
	e.observer.SetWaiting(locationID, remaining)
	return called, nil
}

// StartService moves a called entry into service.
func (e *Engine) StartService(ctx context.Context, locationID, entryID string) (entry Entry, err error) {
	defer e.observe("start-service", time.Now(), &err)
	entry, err = e.transition(ctx, "start-service", locationID, entryID, StatusInService, func(upd *Entry) {
		upd.StartedAtMs = e.nowMs()
	})
	if err != nil {
		return Entry{}, err
	}
	e.invalidate(locationID)
	e.emit(ctx, events.TypeStarted, entry)
	return entry, nil
}

// Complete finishes an in-service entry.
func (e *Engine) Complete(ctx context.Context, locationID, entryID string) (entry Entry, err error) {
	defer e.observe("complete", time.Now(), &err)
	entry, err = e.transition(ctx, "complete", locationID, entryID, StatusCompleted, func(upd *Entry) {
		upd.CompletedAtMs = e.nowMs()
	})
	if err != nil {
		return Entry{}, err
	}
	e.invalidate(locationID)
	e.emit(ctx, events.TypeCompleted, entry)
	return entry, nil
}

// Cancel removes a waiting or called entry. Cancelling a waiting entry
// renumbers everything behind it in the same batch.
func (e *Engine) Cancel(ctx context.Context, locationID, entryID, reason string) (entry Entry, err error) {
	defer e.observe("cancel", time.Now(), &err)

	var cancelled Entry
	var remaining = -1
	err = e.exec.ExecuteBatch(ctx, "cancel", func(ctx context.Context) ([]store.Put, error) {
		se, err := e.readEntry(locationID, entryID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(se.Status, StatusCancelled) {
			return nil, fmt.Errorf("%w: %s -> %s for entry %s", ErrInvalidTransition, se.Status, StatusCancelled, entryID)
		}
		upd := se.Entry
		wasWaiting := upd.Status == StatusWaiting
		freed := upd.Position
		upd.Status = StatusCancelled
		upd.CancelledAtMs = e.nowMs()
		upd.CancelReason = reason
		upd.Position = 0
		cancelled = upd

		puts := []store.Put{{Key: entryKey(locationID, upd.ID), ExpectedVersion: se.version, Data: mustJSON(upd)}}
		if wasWaiting {
			waiting, _, err := e.loadLive(locationID)
			if err != nil {
				return nil, err
			}
			var rest []storedEntry
			for _, w := range waiting {
				if w.ID != upd.ID {
					rest = append(rest, w)
				}
			}
			remaining = len(rest)
			puts = append(puts, e.renumberPuts(locationID, rest, []int{freed})...)
			ctrPut, err := e.counterPut(locationID, remaining)
			if err != nil {
				return nil, err
			}
			puts = append(puts, ctrPut)
		}
		return puts, nil
	})
	if err != nil {
		return Entry{}, err
	}

	e.invalidate(locationID)
	e.emit(ctx, events.TypeCancelled, cancelled)
	if remaining >= 0 {
		e.observer.SetWaiting(locationID, remaining)
	}
	return cancelled, nil
}

// ExpireStale transitions waiting entries older than maxAge to expired,
// renumbering survivors in the same batch. pageSize bounds one sweep pass;
// the operation is idempotent and safe to invoke concurrently.
func (e *Engine) ExpireStale(ctx context.Context, locationID string, maxAge time.Duration, pageSize int) (expired []Entry, err error) {
	defer e.observe("expire", time.Now(), &err)

	if pageSize <= 0 {
		pageSize = 128
	}
	var remaining int
	err = e.exec.ExecuteBatch(ctx, "expire", func(ctx context.Context) ([]store.Put, error) {
		expired = expired[:0]
		waiting, _, err := e.loadLive(locationID)
		if err != nil {
			return nil, err
		}
		now := e.nowMs()
		cutoff := now - maxAge.Milliseconds()

		var doomed []storedEntry
		var survivors []storedEntry
		for _, w := range waiting {
			if len(doomed) < pageSize && w.CreatedAtMs <= cutoff {
				doomed = append(doomed, w)
			} else {
				survivors = append(survivors, w)
			}
		}
		if len(doomed) == 0 {
			return nil, nil
		}

		var puts []store.Put
		freed := make([]int, 0, len(doomed))
		for _, d := range doomed {
			upd := d.Entry
			freed = append(freed, upd.Position)
			upd.Status = StatusExpired
			upd.ExpiredAtMs = now
			upd.Position = 0
			expired = append(expired, upd)
			puts = append(puts, store.Put{Key: entryKey(locationID, upd.ID), ExpectedVersion: d.version, Data: mustJSON(upd)})
		}
		remaining = len(survivors)
		puts = append(puts, e.renumberPuts(locationID, survivors, freed)...)
		ctrPut, err := e.counterPut(locationID, remaining)
		if err != nil {
			return nil, err
		}
		return append(puts, ctrPut), nil
	})
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}

	e.invalidate(locationID)
	for _, ex := range expired {
		e.emit(ctx, events.TypeExpired, ex)
	}
	e.observer.SetWaiting(locationID, remaining)
	return expired, nil
}

// GetSnapshot returns the ordered waiting+called view, cache-first. When
// the store is unavailable, a snapshot within the cache grace window is
// served instead; mutations never degrade this way.
func (e *Engine) GetSnapshot(ctx context.Context, locationID string) (snap Snapshot, err error) {
	defer e.observe("snapshot", time.Now(), &err)

	key := snapshotCacheKey(locationID)
	if v, ok := e.cache.Get(key); ok {
		return v.(Snapshot), nil
	}
	// Capture the invalidation epoch before reading the store. A mutation
	// that commits between the load and the fill bumps it, and the fill
	// below is discarded instead of pinning a pre-mutation view.
	epoch := e.cache.Epoch(cacheNamespace(locationID))
	snap, deps, err := e.loadSnapshot(locationID)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			if v, ok := e.cache.GetStale(key); ok {
				e.logger.Warn("serving stale snapshot, store unavailable", logpkg.Str("location", locationID))
				return v.(Snapshot), nil
			}
		}
		return Snapshot{}, err
	}
	e.cache.SetAtEpoch(cacheNamespace(locationID), epoch, key, snap, e.snapshotTTL, deps...)
	return snap, nil
}

// WarmSnapshots pre-populates snapshot caches for the given locations,
// avoiding a stampede on first read after start or bulk invalidation.
func (e *Engine) WarmSnapshots(ctx context.Context, locationIDs []string) error {
	keys := make([]string, 0, len(locationIDs))
	byKey := make(map[string]string, len(locationIDs))
	for _, loc := range locationIDs {
		k := snapshotCacheKey(loc)
		keys = append(keys, k)
		byKey[k] = loc
	}
	return e.cache.Warmup(ctx, keys, func(ctx context.Context, key string) (any, []cache.EntityRef, error) {
		snap, deps, err := e.loadSnapshot(byKey[key])
		if err != nil {
			return nil, nil, err
		}
		return snap, deps, nil
	})
}

// Entry returns a single entry by id.
func (e *Engine) Entry(ctx context.Context, locationID, entryID string) (Entry, error) {
	se, err := e.readEntry(locationID, entryID)
	if err != nil {
		return Entry{}, err
	}
	return se.Entry, nil
}

// --- internals ---

func cacheNamespace(locationID string) string { return "queue/" + locationID + "/" }

func snapshotCacheKey(locationID string) string { return cacheNamespace(locationID) + "snapshot" }

// loadLive returns waiting entries in call order and called entries in
// called order, with store versions, reading through to the store.
func (e *Engine) loadLive(locationID string) (waiting, called []storedEntry, err error) {
	kvs, err := e.store.Scan(entryPrefix(locationID), 0)
	if err != nil {
		return nil, nil, err
	}
	for _, kv := range kvs {
		var ent Entry
		if err := json.Unmarshal(kv.Doc.Data, &ent); err != nil {
			continue
		}
		se := storedEntry{Entry: ent, version: kv.Doc.Version}
		switch ent.Status {
		case StatusWaiting:
			waiting = append(waiting, se)
		case StatusCalled, StatusInService:
			called = append(called, se)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if (a.Priority == PriorityUrgent) != (b.Priority == PriorityUrgent) {
			return a.Priority == PriorityUrgent
		}
		return a.Position < b.Position
	})
	sort.Slice(called, func(i, j int) bool {
		return called[i].CalledAtMs < called[j].CalledAtMs
	})
	return waiting, called, nil
}

func (e *Engine) loadSnapshot(locationID string) (Snapshot, []cache.EntityRef, error) {
	waiting, called, err := e.loadLive(locationID)
	if err != nil {
		return Snapshot{}, nil, err
	}
	snap := Snapshot{LocationID: locationID, AtMs: e.nowMs()}
	deps := []cache.EntityRef{{Type: "location", ID: locationID}}
	for _, w := range waiting {
		snap.Waiting = append(snap.Waiting, w.Entry)
		deps = append(deps, cache.EntityRef{Type: "entry", ID: w.ID})
	}
	for _, c := range called {
		snap.Called = append(snap.Called, c.Entry)
		deps = append(deps, cache.EntityRef{Type: "entry", ID: c.ID})
	}
	return snap, deps, nil
}

func (e *Engine) readEntry(locationID, entryID string) (storedEntry, error) {
	doc, err := e.store.Read(entryKey(locationID, entryID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return storedEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return storedEntry{}, err
	}
	var ent Entry
	if err := json.Unmarshal(doc.Data, &ent); err != nil {
		return storedEntry{}, err
	}
	return storedEntry{Entry: ent, version: doc.Version}, nil
}

// readCounter returns the current tail for the partition. A missing
// counter (first join of the day) seeds from the live waiting count.
func (e *Engine) readCounter(key []byte, waitingCount int) (tail int, version uint64, err error) {
	doc, err := e.store.Read(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return waitingCount, 0, nil
		}
		return 0, 0, err
	}
	var ctr counterDoc
	if err := json.Unmarshal(doc.Data, &ctr); err != nil {
		return 0, 0, err
	}
	return ctr.Tail, doc.Version, nil
}

// counterPut writes the authoritative waiting count into today's counter,
// version-guarded so concurrent joins conflict and retry.
func (e *Engine) counterPut(locationID string, waitingCount int) (store.Put, error) {
	key := counterKey(locationID, dayFromMs(e.nowMs()))
	_, version, err := e.readCounter(key, waitingCount)
	if err != nil {
		return store.Put{}, err
	}
	return store.Put{Key: key, ExpectedVersion: version, Data: mustJSON(counterDoc{Tail: waitingCount})}, nil
}

// renumberPuts decrements each survivor's position by the number of freed
// positions ahead of it, keeping the waiting set dense. Entries whose
// position is unaffected are left out of the batch.
func (e *Engine) renumberPuts(locationID string, survivors []storedEntry, freed []int) []store.Put {
	var puts []store.Put
	for _, s := range survivors {
		ahead := 0
		for _, f := range freed {
			if f < s.Position {
				ahead++
			}
		}
		if ahead == 0 {
			continue
		}
		upd := s.Entry
		upd.Position -= ahead
		puts = append(puts, store.Put{Key: entryKey(locationID, upd.ID), ExpectedVersion: s.version, Data: mustJSON(upd)})
	}
	return puts
}

// invalidate drops every cached view of the location before the mutation
// is reported back to the caller.
func (e *Engine) invalidate(locationID string) {
	e.cache.InvalidateNamespace(cacheNamespace(locationID))
	e.cache.InvalidateEntity("location", locationID)
}

func (e *Engine) emit(ctx context.Context, typ events.Type, entry Entry) {
	if e.bus == nil {
		return
	}
	ev := events.Event{
		ID:         e.bus.NextEventID(),
		Type:       typ,
		LocationID: entry.LocationID,
		EntryID:    entry.ID,
		Status:     string(entry.Status),
		Priority:   string(entry.Priority),
		Position:   entry.Position,
		AtMs:       e.nowMs(),
		Entry:      mustJSON(entry),
	}
	if e.journal != nil {
		if err := e.journal.Append(ctx, ev); err != nil {
			e.logger.Warn("journal append failed",
				logpkg.Str("type", string(typ)),
				logpkg.Str("entry", entry.ID),
				logpkg.Err(err),
			)
		}
	}
	e.bus.Publish(ev)
}

// transition applies a single-entry status change through the executor.
func (e *Engine) transition(ctx context.Context, op, locationID, entryID string, to Status, stamp func(*Entry)) (Entry, error) {
	var out Entry
	_, err := e.exec.Execute(ctx, op, entryKey(locationID, entryID), func(cur store.Doc) ([]byte, error) {
		if !cur.Exists() {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		var ent Entry
		if err := json.Unmarshal(cur.Data, &ent); err != nil {
			return nil, err
		}
		if !CanTransition(ent.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s for entry %s", ErrInvalidTransition, ent.Status, to, entryID)
		}
		ent.Status = to
		stamp(&ent)
		out = ent
		return mustJSON(ent), nil
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	outcome := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrEmptyQueue):
		outcome = "empty"
	case errors.Is(*err, ErrInvalidTransition):
		outcome = "invalid"
	case errors.Is(*err, txn.ErrPreconditionFailed):
		outcome = "contended"
	default:
		outcome = "error"
	}
	e.observer.OpDone(op, outcome, time.Since(start))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
