package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/pitlinehq/pitline/internal/cache"
	cfgpkg "github.com/pitlinehq/pitline/internal/config"
	"github.com/pitlinehq/pitline/internal/events"
	"github.com/pitlinehq/pitline/internal/metrics"
	"github.com/pitlinehq/pitline/internal/queue"
	pebblestore "github.com/pitlinehq/pitline/internal/storage/pebble"
	"github.com/pitlinehq/pitline/internal/store"
	"github.com/pitlinehq/pitline/internal/txn"
	"github.com/pitlinehq/pitline/internal/updates"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// StartSweeper launches the background expiry loop; off in tests.
	StartSweeper bool
}

// Runtime wires storage and the queue facades for a single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	store   *store.Store
	cache   *cache.Cache
	engine  *queue.Engine
	bus     *events.Bus
	journal *events.Journal
	dist    *updates.Distributor
	sweeper *queue.Sweeper
	metrics *metrics.Collector
	config  cfgpkg.Config
	logger  logpkg.Logger
}

// Open initializes storage and wires every component.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	fsync, err := pebblestore.ParseFsyncMode(cfg.FsyncMode)
	if err != nil {
		return nil, err
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = cfgpkg.DefaultDataDir()
	}
	collector := metrics.NewCollector()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       dataDir,
		Fsync:         fsync,
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
		Metrics:       collector,
	})
	if err != nil {
		return nil, err
	}

	st := store.Open(db)
	c := cache.New(cache.Options{
		DefaultTTL: time.Duration(cfg.Cache.TTLMs) * time.Millisecond,
		Grace:      time.Duration(cfg.Cache.GraceMs) * time.Millisecond,
		Observer:   collector,
	})

	backoff, err := txn.ParseBackoffType(cfg.Txn.Backoff)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	exec := txn.New(st, txn.Policy{
		Type:        backoff,
		Base:        time.Duration(cfg.Txn.BaseMs) * time.Millisecond,
		Cap:         time.Duration(cfg.Txn.CapMs) * time.Millisecond,
		MaxAttempts: cfg.Txn.MaxAttempts,
	}, logger)
	exec.SetObserver(collector)

	bus := events.NewBus(logger)
	journal := events.NewJournal(st)
	engine := queue.New(queue.Options{
		Store:               st,
		Cache:               c,
		Executor:            exec,
		Bus:                 bus,
		Journal:             journal,
		Logger:              logger,
		Observer:            collector,
		SnapshotTTL:         time.Duration(cfg.Cache.TTLMs) * time.Millisecond,
		AutoCreateLocations: cfg.AutoCreateLocations,
	})

	mode, err := updates.ParseMode(cfg.Updates.DefaultMode)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dist, err := updates.New(updates.Options{
		Bus:          bus,
		Snapshots:    engine.GetSnapshot,
		Logger:       logger,
		DefaultMode:  mode,
		PollInterval: time.Duration(cfg.Updates.PollIntervalMs) * time.Millisecond,
		Buffer:       cfg.Updates.Buffer,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{
		db:      db,
		store:   st,
		cache:   c,
		engine:  engine,
		bus:     bus,
		journal: journal,
		dist:    dist,
		metrics: collector,
		config:  cfg,
		logger:  logger,
	}

	rt.sweeper = queue.NewSweeper(engine, journal, queue.SweeperOptions{
		Interval:  time.Duration(cfg.Sweep.IntervalMs) * time.Millisecond,
		MaxAge:    time.Duration(cfg.Sweep.EntryMaxAgeMs) * time.Millisecond,
		Retention: time.Duration(cfg.Sweep.JournalRetentionMs) * time.Millisecond,
		PageSize:  cfg.Sweep.PageSize,
	}, logger)
	if opts.StartSweeper {
		rt.sweeper.Start()
	}

	if err := rt.warm(); err != nil {
		logger.Warn("snapshot warmup failed", logpkg.Err(err))
	}
	return rt, nil
}

// warm pre-populates snapshot caches for every known location.
func (r *Runtime) warm() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locs, err := r.engine.Locations(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(locs))
	for _, l := range locs {
		ids = append(ids, l.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return r.engine.WarmSnapshots(ctx, ids)
}

// Close stops background work and closes storage.
func (r *Runtime) Close() error {
	if r.sweeper != nil {
		r.sweeper.Stop()
	}
	if r.dist != nil {
		r.dist.Close()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage round-trip check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Engine returns the queue engine facade.
func (r *Runtime) Engine() *queue.Engine { return r.engine }

// Updates returns the update distributor.
func (r *Runtime) Updates() *updates.Distributor { return r.dist }

// Bus returns the event bus.
func (r *Runtime) Bus() *events.Bus { return r.bus }

// Journal returns the persisted event journal.
func (r *Runtime) Journal() *events.Journal { return r.journal }

// Sweeper returns the expiry sweeper for one-shot invocations.
func (r *Runtime) Sweeper() *queue.Sweeper { return r.sweeper }

// Metrics returns the Prometheus collector.
func (r *Runtime) Metrics() *metrics.Collector { return r.metrics }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
