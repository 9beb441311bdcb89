package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pitlinehq/pitline/internal/events"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

// Sweeper periodically expires stale waiting entries across all
// registered locations and trims old journal events.
type Sweeper struct {
	engine  *Engine
	journal *events.Journal
	logger  logpkg.Logger

	interval  time.Duration
	maxAge    time.Duration
	retention time.Duration
	pageSize  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweeperOptions configures a Sweeper. Zero values get defaults.
type SweeperOptions struct {
	Interval time.Duration
	// MaxAge is the default waiting age before expiry; a location's
	// EntryMaxAgeMs overrides it.
	MaxAge time.Duration
	// Retention bounds the journal tail kept per location.
	Retention time.Duration
	PageSize  int
}

// NewSweeper creates a sweeper over the engine.
func NewSweeper(engine *Engine, journal *events.Journal, opts SweeperOptions, logger logpkg.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 4 * time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 128
	}
	if logger == nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		engine:    engine,
		journal:   journal,
		logger:    logger.WithComponent("sweeper"),
		interval:  opts.Interval,
		maxAge:    opts.MaxAge,
		retention: opts.Retention,
		pageSize:  opts.PageSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Jitter the period so co-located instances do not sweep in lockstep.
	ticker := time.NewTicker(s.interval + time.Duration(rand.Int63n(int64(s.interval)/4+1)))
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		logpkg.Dur("interval", s.interval),
		logpkg.Dur("max_age", s.maxAge),
	)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(s.ctx)
		}
	}
}

// SweepOnce runs a single sweep pass over every location. It is safe to
// call directly, concurrently with the background loop.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	locs, err := s.engine.Locations(ctx)
	if err != nil {
		s.logger.Warn("sweep: listing locations failed", logpkg.Err(err))
		return
	}
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	for _, loc := range locs {
		maxAge := s.maxAge
		if loc.EntryMaxAgeMs > 0 {
			maxAge = time.Duration(loc.EntryMaxAgeMs) * time.Millisecond
		}
		expired, err := s.engine.ExpireStale(ctx, loc.ID, maxAge, s.pageSize)
		if err != nil {
			s.logger.Warn("sweep: expire failed",
				logpkg.Str("location", loc.ID),
				logpkg.Err(err),
			)
		} else if len(expired) > 0 {
			s.logger.Info("sweep: expired stale entries",
				logpkg.Str("location", loc.ID),
				logpkg.Int("count", len(expired)),
			)
		}
		if s.journal != nil {
			if _, err := s.journal.TrimOlderThan(ctx, loc.ID, cutoff, s.pageSize); err != nil {
				s.logger.Warn("sweep: journal trim failed",
					logpkg.Str("location", loc.ID),
					logpkg.Err(err),
				)
			}
		}
	}
}
