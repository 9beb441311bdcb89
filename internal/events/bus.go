package events

import (
	"sync"

	"github.com/pitlinehq/pitline/pkg/id"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

// Bus fans domain events out to in-process subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64

	gen    *id.Generator
	logger logpkg.Logger
}

type subscriber struct {
	ch       chan Event
	location string
	filter   Filter
}

// Subscription is a live bus attachment. Events arrive on C until Close.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.once.Do(s.cancel) }

// NewBus returns an empty bus.
func NewBus(logger logpkg.Logger) *Bus {
	if logger == nil {
		logger = logpkg.NewLogger().WithComponent("events")
	}
	return &Bus{subs: map[uint64]*subscriber{}, gen: id.NewGenerator(), logger: logger}
}

// NextEventID returns a sortable event id.
func (b *Bus) NextEventID() string { return b.gen.Next().String() }

// Subscribe attaches a subscriber for a location (empty matches all
// locations) with an optional CEL filter expression and buffer size.
func (b *Bus) Subscribe(location, filterExpr string, buf int) (*Subscription, error) {
	filter, err := NewFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	if buf <= 0 {
		buf = 64
	}
	sub := &subscriber{ch: make(chan Event, buf), location: location, filter: filter}

	b.mu.Lock()
	b.nextID++
	sid := b.nextID
	b.subs[sid] = sub
	b.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			b.mu.Lock()
			if s, ok := b.subs[sid]; ok {
				delete(b.subs, sid)
				close(s.ch)
			}
			b.mu.Unlock()
		},
	}, nil
}

// Publish delivers ev to matching subscribers. A full subscriber buffer
// drops the event for that subscriber; mutations must not block on slow
// consumers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.location != "" && sub.location != ev.LocationID {
			continue
		}
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				logpkg.Str("type", string(ev.Type)),
				logpkg.Str("location", ev.LocationID),
			)
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
