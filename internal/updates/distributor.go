package updates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pitlinehq/pitline/internal/events"
	"github.com/pitlinehq/pitline/internal/queue"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

// Mode selects how a subscription receives updates.
type Mode string

const (
	ModePoll Mode = "poll"
	ModePush Mode = "push"
)

// ParseMode maps a mode name to a Mode. Empty selects the default.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "poll":
		return ModePoll, nil
	case "push":
		return ModePush, nil
	}
	return "", fmt.Errorf("updates: unknown mode %q", s)
}

// Update is one delivery to a subscriber. Event is nil on poll ticks and
// on the initial snapshot.
type Update struct {
	Mode     Mode           `json:"mode"`
	Snapshot queue.Snapshot `json:"snapshot"`
	Event    *events.Event  `json:"event,omitempty"`
}

// SnapshotFunc fetches the current snapshot for a location.
type SnapshotFunc func(ctx context.Context, locationID string) (queue.Snapshot, error)

// Options configures a Distributor.
type Options struct {
	Bus       *events.Bus
	Snapshots SnapshotFunc
	Logger    logpkg.Logger
	// DefaultMode applies when a request does not name one; poll if unset.
	DefaultMode Mode
	// PollInterval is the poll-mode delivery cadence; default 15s.
	PollInterval time.Duration
	// Buffer is the per-subscription channel depth; default 16.
	Buffer int
}

// Distributor fans queue updates out to subscribers.
type Distributor struct {
	bus       *events.Bus
	snapshots SnapshotFunc
	logger    logpkg.Logger

	interval time.Duration
	buffer   int

	mu          sync.Mutex
	defaultMode Mode
	closed      bool
	subs        map[*Subscription]struct{}
}

// New returns a Distributor.
func New(opts Options) (*Distributor, error) {
	if opts.Snapshots == nil {
		return nil, errors.New("updates: Options.Snapshots is required")
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger().WithComponent("updates")
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = ModePoll
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	return &Distributor{
		bus:         opts.Bus,
		snapshots:   opts.Snapshots,
		logger:      opts.Logger,
		interval:    opts.PollInterval,
		buffer:      opts.Buffer,
		defaultMode: opts.DefaultMode,
		subs:        make(map[*Subscription]struct{}),
	}, nil
}

// SetDefaultMode switches the mode applied to requests that do not name
// one. Existing subscriptions keep the mode they started with.
func (d *Distributor) SetDefaultMode(m Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultMode = m
}

// DefaultMode reports the current default.
func (d *Distributor) DefaultMode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultMode
}

// SubscriberCount reports the number of live subscriptions.
func (d *Distributor) SubscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// SubscribeRequest names what a client wants to watch.
type SubscribeRequest struct {
	LocationID string
	// Mode overrides the distributor default when set.
	Mode Mode
	// Filter is a CEL expression applied to push-mode events.
	Filter string
}

// Subscription is one client's update stream. Updates that cannot be
// buffered are dropped; the next delivery carries a full snapshot, so a
// drop loses freshness, never state.
type Subscription struct {
	C    <-chan Update
	Mode Mode

	ch     chan Update
	cancel context.CancelFunc
	once   sync.Once
	done   func()
}

// Close stops the subscription and releases its resources.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.done()
	})
}

// Subscribe opens an update stream for a location. ctx bounds the
// subscription's background work; cancelling it is equivalent to Close.
func (d *Distributor) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	if req.LocationID == "" {
		return nil, errors.New("updates: SubscribeRequest.LocationID is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = d.DefaultMode()
	}
	if mode == ModePush && d.bus == nil {
		return nil, errors.New("updates: push mode requires an event bus")
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Update, d.buffer)
	sub := &Subscription{C: ch, Mode: mode, ch: ch, cancel: cancel}
	sub.done = func() {
		d.mu.Lock()
		delete(d.subs, sub)
		d.mu.Unlock()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		return nil, errors.New("updates: distributor closed")
	}
	d.subs[sub] = struct{}{}
	d.mu.Unlock()

	switch mode {
	case ModePush:
		// Attach to the bus before the initial snapshot. A mutation
		// between the two shows up in the snapshot, in the stream, or
		// both; duplicates are harmless, gaps are not.
		busSub, err := d.bus.Subscribe(req.LocationID, req.Filter, d.buffer)
		if err != nil {
			cancel()
			sub.done()
			return nil, err
		}
		snap, err := d.snapshots(ctx, req.LocationID)
		if err != nil {
			busSub.Close()
			cancel()
			sub.done()
			return nil, err
		}
		ch <- Update{Mode: ModePush, Snapshot: snap}
		go d.runPush(ctx, sub, busSub, req.LocationID)
	default:
		snap, err := d.snapshots(ctx, req.LocationID)
		if err != nil {
			cancel()
			sub.done()
			return nil, err
		}
		ch <- Update{Mode: ModePoll, Snapshot: snap}
		go d.runPoll(ctx, sub, req.LocationID)
	}
	return sub, nil
}

// Close tears down every subscription.
func (d *Distributor) Close() {
	d.mu.Lock()
	d.closed = true
	subs := make([]*Subscription, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (d *Distributor) runPoll(ctx context.Context, sub *Subscription, locationID string) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := d.snapshots(ctx, locationID)
			if err != nil {
				d.logger.Warn("poll snapshot failed",
					logpkg.Str("location", locationID),
					logpkg.Err(err),
				)
				continue
			}
			d.deliver(sub, Update{Mode: ModePoll, Snapshot: snap}, locationID)
		}
	}
}

func (d *Distributor) runPush(ctx context.Context, sub *Subscription, busSub *events.Subscription, locationID string) {
	defer busSub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-busSub.C:
			if !ok {
				return
			}
			snap, err := d.snapshots(ctx, locationID)
			if err != nil {
				d.logger.Warn("push snapshot failed",
					logpkg.Str("location", locationID),
					logpkg.Err(err),
				)
				continue
			}
			d.deliver(sub, Update{Mode: ModePush, Snapshot: snap, Event: &ev}, locationID)
		}
	}
}

func (d *Distributor) deliver(sub *Subscription, u Update, locationID string) {
	select {
	case sub.ch <- u:
	default:
		d.logger.Debug("subscriber buffer full, update dropped",
			logpkg.Str("location", locationID),
			logpkg.Str("mode", string(u.Mode)),
		)
	}
}
