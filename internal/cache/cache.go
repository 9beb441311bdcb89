package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// EntityRef identifies a stored entity a cached record depends on.
type EntityRef struct {
	Type string
	ID   string
}

func (e EntityRef) key() string { return e.Type + "/" + e.ID }

// Observer receives cache hit/miss observations. Optional.
type Observer interface {
	CacheHit()
	CacheMiss()
}

type noopObserver struct{}

func (noopObserver) CacheHit()  {}
func (noopObserver) CacheMiss() {}

type record struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
	deps     []string
}

// Options tunes cache behavior.
type Options struct {
	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// Grace extends expired records for GetStale during store degradation.
	Grace time.Duration
	// Observer hooks hit/miss counts. Optional.
	Observer Observer
}

// Cache is a TTL cache with entity-dependency invalidation.
type Cache struct {
	mu      sync.Mutex
	records map[string]record
	// byEntity maps entity key -> set of cache keys depending on it.
	byEntity map[string]map[string]struct{}

	// gens counts invalidations per key namespace. A fill computed before
	// an invalidation must not land after it, so fills capture the
	// generation with Epoch and store through SetAtEpoch.
	gens map[string]uint64

	defaultTTL time.Duration
	grace      time.Duration
	observer   Observer
	now        func() time.Time
}

// New returns an empty cache.
func New(opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 3 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 30 * time.Second
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &Cache{
		records:    map[string]record{},
		byEntity:   map[string]map[string]struct{}{},
		gens:       map[string]uint64{},
		defaultTTL: opts.DefaultTTL,
		grace:      opts.Grace,
		observer:   obs,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value when present and within TTL.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok || c.now().Sub(rec.storedAt) >= rec.ttl {
		c.observer.CacheMiss()
		return nil, false
	}
	c.observer.CacheHit()
	return rec.value, true
}

// GetStale returns the cached value when within TTL plus the grace window.
// Only snapshot reads under store degradation should use it.
func (c *Cache) GetStale(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok || c.now().Sub(rec.storedAt) >= rec.ttl+c.grace {
		return nil, false
	}
	return rec.value, true
}

// Set stores value under key, replacing any previous record, and registers
// its entity dependencies. ttl <= 0 uses the default TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration, deps ...EntityRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl, deps)
}

// Epoch returns the invalidation generation for a key namespace. Capture
// it before loading a value, then store through SetAtEpoch so a fill
// computed before a concurrent invalidation cannot land after it.
func (c *Cache) Epoch(prefix string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.gens[prefix]; !ok {
		c.gens[prefix] = 0
	}
	return c.gens[prefix]
}

// SetAtEpoch stores like Set, but only while the namespace generation
// still equals epoch. Reports whether the record was stored.
func (c *Cache) SetAtEpoch(prefix string, epoch uint64, key string, value any, ttl time.Duration, deps ...EntityRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[prefix] != epoch {
		return false
	}
	c.setLocked(key, value, ttl, deps)
	return true
}

func (c *Cache) setLocked(key string, value any, ttl time.Duration, deps []EntityRef) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.dropLocked(key)
	depKeys := make([]string, 0, len(deps))
	for _, d := range deps {
		dk := d.key()
		depKeys = append(depKeys, dk)
		set := c.byEntity[dk]
		if set == nil {
			set = map[string]struct{}{}
			c.byEntity[dk] = set
		}
		set[key] = struct{}{}
	}
	c.records[key] = record{value: value, storedAt: c.now(), ttl: ttl, deps: depKeys}
}

// InvalidateEntity removes every record that declared a dependency on the
// given entity and bumps the generation of each namespace a dropped key
// belongs to.
func (c *Cache) InvalidateEntity(entityType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dk := EntityRef{Type: entityType, ID: id}.key()
	dropped := make([]string, 0, len(c.byEntity[dk]))
	for key := range c.byEntity[dk] {
		dropped = append(dropped, key)
	}
	for _, key := range dropped {
		c.dropLocked(key)
	}
	delete(c.byEntity, dk)
	for p := range c.gens {
		for _, key := range dropped {
			if strings.HasPrefix(key, p) {
				c.gens[p]++
				break
			}
		}
	}
}

// InvalidateNamespace removes every record whose key starts with prefix
// and bumps the namespace generation, fencing off in-flight fills.
func (c *Cache) InvalidateNamespace(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.records {
		if strings.HasPrefix(key, prefix) {
			c.dropLocked(key)
		}
	}
	c.gens[prefix]++
}

// Warmup synchronously populates the given keys through loader, so the
// first reads after start or a bulk invalidation do not stampede the store.
func (c *Cache) Warmup(ctx context.Context, keys []string, loader func(ctx context.Context, key string) (any, []EntityRef, error)) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		value, deps, err := loader(ctx, key)
		if err != nil {
			return err
		}
		c.Set(key, value, 0, deps...)
	}
	return nil
}

// Len returns the number of live records, counting expired ones out.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, rec := range c.records {
		if now.Sub(rec.storedAt) < rec.ttl {
			n++
		}
	}
	return n
}

// dropLocked removes a record and unlinks its reverse-index entries.
func (c *Cache) dropLocked(key string) {
	rec, ok := c.records[key]
	if !ok {
		return
	}
	for _, dk := range rec.deps {
		if set := c.byEntity[dk]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(c.byEntity, dk)
			}
		}
	}
	delete(c.records, key)
}
