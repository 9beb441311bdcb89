package events

import (
	"context"
	"testing"

	"github.com/pitlinehq/pitline/internal/store"
	pebblestore "github.com/pitlinehq/pitline/internal/storage/pebble"
)

func newTestJournal(t *testing.T) (*Journal, *Bus) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewJournal(store.Open(db)), NewBus(nil)
}

func TestAppendAndRecentOrder(t *testing.T) {
	j, b := newTestJournal(t)
	ctx := context.Background()

	for i, typ := range []Type{TypeAdded, TypeCalled, TypeCompleted} {
		ev := Event{ID: b.NextEventID(), Type: typ, LocationID: "l1", AtMs: int64(1000 + i)}
		if err := j.Append(ctx, ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	// other location must not leak in
	_ = j.Append(ctx, Event{ID: b.NextEventID(), Type: TypeAdded, LocationID: "l2", AtMs: 5000})

	evs, err := j.Recent(ctx, "l1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("want 3 events, got %d", len(evs))
	}
	if evs[0].Type != TypeAdded || evs[2].Type != TypeCompleted {
		t.Fatalf("wrong order: %v %v", evs[0].Type, evs[2].Type)
	}

	evs, _ = j.Recent(ctx, "l1", 2)
	if len(evs) != 2 || evs[0].Type != TypeCalled {
		t.Fatalf("limit should keep the newest: %+v", evs)
	}
}

func TestTrimOlderThan(t *testing.T) {
	j, b := newTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := Event{ID: b.NextEventID(), Type: TypeAdded, LocationID: "l1", AtMs: int64(1000 + i*100)}
		if err := j.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := j.TrimOlderThan(ctx, "l1", 1300, 0)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if n != 3 {
		t.Fatalf("want 3 trimmed, got %d", n)
	}
	evs, _ := j.Recent(ctx, "l1", 0)
	if len(evs) != 2 {
		t.Fatalf("want 2 remaining, got %d", len(evs))
	}
	// idempotent second sweep
	n, err = j.TrimOlderThan(ctx, "l1", 1300, 0)
	if err != nil || n != 0 {
		t.Fatalf("second trim: n=%d err=%v", n, err)
	}
}

func TestTrimOlderThanPages(t *testing.T) {
	j, b := newTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := Event{ID: b.NextEventID(), Type: TypeAdded, LocationID: "l1", AtMs: int64(1000 + i)}
		if err := j.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// oldest first, at most max per call
	for i, want := range []int{2, 2, 1, 0} {
		n, err := j.TrimOlderThan(ctx, "l1", 2000, 2)
		if err != nil {
			t.Fatalf("trim %d: %v", i, err)
		}
		if n != want {
			t.Fatalf("trim %d removed %d, want %d", i, n, want)
		}
	}
	evs, _ := j.Recent(ctx, "l1", 0)
	if len(evs) != 0 {
		t.Fatalf("want empty journal, got %d", len(evs))
	}
}
