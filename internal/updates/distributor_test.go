package updates

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pitlinehq/pitline/internal/events"
	"github.com/pitlinehq/pitline/internal/queue"
)

// snapshotStub serves canned snapshots and counts fetches.
type snapshotStub struct {
	mu    sync.Mutex
	snap  queue.Snapshot
	calls int
}

func (s *snapshotStub) fetch(ctx context.Context, locationID string) (queue.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := s.snap
	out.LocationID = locationID
	return out, nil
}

func (s *snapshotStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func recvUpdate(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case u := <-sub.C:
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
		return Update{}
	}
}

func TestPollModeDeliversOnInterval(t *testing.T) {
	stub := &snapshotStub{snap: queue.Snapshot{AtMs: 1}}
	d, err := New(Options{
		Snapshots:    stub.fetch,
		PollInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	defer d.Close()

	sub, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if sub.Mode != ModePoll {
		t.Fatalf("mode = %s, want poll default", sub.Mode)
	}
	initial := recvUpdate(t, sub)
	if initial.Event != nil || initial.Snapshot.LocationID != "shop-a" {
		t.Fatalf("initial update = %+v", initial)
	}
	tick := recvUpdate(t, sub)
	if tick.Mode != ModePoll || tick.Event != nil {
		t.Fatalf("poll tick = %+v", tick)
	}
	if stub.count() < 2 {
		t.Fatalf("snapshot fetches = %d, want >= 2", stub.count())
	}
}

func TestPushModeCarriesEvents(t *testing.T) {
	bus := events.NewBus(nil)
	stub := &snapshotStub{}
	d, err := New(Options{
		Bus:          bus,
		Snapshots:    stub.fetch,
		PollInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	defer d.Close()

	sub, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a", Mode: ModePush})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if initial := recvUpdate(t, sub); initial.Event != nil {
		t.Fatalf("initial push update carries event: %+v", initial)
	}

	entry, _ := json.Marshal(map[string]string{"id": "e1"})
	bus.Publish(events.Event{
		ID:         "ev-1",
		Type:       events.TypeCalled,
		LocationID: "shop-a",
		EntryID:    "e1",
		Entry:      entry,
	})

	u := recvUpdate(t, sub)
	if u.Mode != ModePush || u.Event == nil || u.Event.Type != events.TypeCalled {
		t.Fatalf("push update = %+v", u)
	}
	if u.Snapshot.LocationID != "shop-a" {
		t.Fatalf("push update snapshot for %q", u.Snapshot.LocationID)
	}
}

func TestPushModeFiltersByLocation(t *testing.T) {
	bus := events.NewBus(nil)
	stub := &snapshotStub{}
	d, err := New(Options{Bus: bus, Snapshots: stub.fetch, PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	defer d.Close()

	sub, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a", Mode: ModePush})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	recvUpdate(t, sub) // initial

	bus.Publish(events.Event{ID: "ev-1", Type: events.TypeAdded, LocationID: "shop-b", EntryID: "e1"})
	select {
	case u := <-sub.C:
		t.Fatalf("received update for another location: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPushModeRequiresBus(t *testing.T) {
	stub := &snapshotStub{}
	d, err := New(Options{Snapshots: stub.fetch})
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	defer d.Close()
	if _, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a", Mode: ModePush}); err == nil {
		t.Fatalf("subscribe succeeded without a bus")
	}
}

func TestSetDefaultMode(t *testing.T) {
	bus := events.NewBus(nil)
	stub := &snapshotStub{}
	d, err := New(Options{Bus: bus, Snapshots: stub.fetch, PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	defer d.Close()

	d.SetDefaultMode(ModePush)
	sub, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if sub.Mode != ModePush {
		t.Fatalf("mode = %s, want push after SetDefaultMode", sub.Mode)
	}
}

func TestCloseStopsSubscriptions(t *testing.T) {
	stub := &snapshotStub{}
	d, err := New(Options{Snapshots: stub.fetch, PollInterval: time.Hour})
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	sub, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	recvUpdate(t, sub)

	d.Close()
	if d.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d after close", d.SubscriberCount())
	}
	if _, err := d.Subscribe(context.Background(), SubscribeRequest{LocationID: "shop-a"}); err == nil {
		t.Fatalf("subscribe succeeded on a closed distributor")
	}
}
