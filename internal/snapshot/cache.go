package snapshot

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/kpi-atlas/internal/kpi"
)

// CacheConfig bounds the years a Cache serves and how it preloads them.
type CacheConfig struct {
	FromYear         int
	ToYear           int
	Concurrency      int     // parallel year fetches during Preload; <1 means 1
	QueriesPerSecond float64 // fetch pacing; <=0 means unlimited
}

// Cache holds one Snapshot per year for the lifetime of the process. Reads
// never wait for a running preload.
type Cache struct {
	store   Store
	norm    *kpi.Normalizer
	cfg     CacheConfig
	limiter *rate.Limiter
	log     *zap.Logger

	mu    sync.RWMutex
	years map[int]*Snapshot
	ready atomic.Bool

	hooks []func(year int)
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithNormalizer sets the normaliser applied to every loaded record.
func WithNormalizer(n *kpi.Normalizer) CacheOption {
	return func(c *Cache) { c.norm = n }
}

// OnInvalidate registers fn to run whenever a year is invalidated or
// reloaded, so derived per-year state can be dropped with it.
func OnInvalidate(fn func(year int)) CacheOption {
	return func(c *Cache) { c.hooks = append(c.hooks, fn) }
}

// NewCache creates an empty, not yet ready cache over store.
func NewCache(store Store, cfg CacheConfig, opts ...CacheOption) *Cache {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	c := &Cache{
		store: store,
		norm:  kpi.NewNormalizer(nil, nil),
		cfg:   cfg,
		years: make(map[int]*Snapshot),
		log:   zap.L().With(zap.String("component", "snapshot_cache")),
	}
	if cfg.QueriesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Preload fetches every configured year once. A year that fails is logged
// and left absent; only cancellation aborts the preload. The cache is ready
// afterwards even if some years are missing.
func (c *Cache) Preload(ctx context.Context) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	var loaded, failed atomic.Int32
	for year := c.cfg.FromYear; year <= c.cfg.ToYear; year++ {
		g.Go(func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(gctx); err != nil {
					return eris.Wrap(err, "snapshot: preload")
				}
			}
			if err := c.load(gctx, year); err != nil {
				if gctx.Err() != nil {
					return eris.Wrap(gctx.Err(), "snapshot: preload")
				}
				failed.Add(1)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.ready.Store(true)
	c.log.Info("snapshot preload complete",
		zap.Int32("loaded", loaded.Load()),
		zap.Int32("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// load fetches and normalises one year and swaps it into the cache.
func (c *Cache) load(ctx context.Context, year int) error {
	records, err := c.store.LoadYear(ctx, year)
	if err != nil {
		c.log.Error("snapshot fetch failed", zap.Int("year", year), zap.Error(err))
		return eris.Wrapf(kpi.ErrDataSourceUnavailable, "snapshot: year %d: %v", year, err)
	}
	snap := NewSnapshot(year, records, c.norm)

	c.mu.Lock()
	c.years[year] = snap
	c.mu.Unlock()

	c.log.Debug("snapshot loaded", zap.Int("year", year), zap.Int("entities", len(snap.Entities)))
	return nil
}

func (c *Cache) checkRange(year int) error {
	if year < c.cfg.FromYear || year > c.cfg.ToYear {
		return kpi.Invalidf("year %d outside %d-%d", year, c.cfg.FromYear, c.cfg.ToYear)
	}
	return nil
}

// Get returns the snapshot of year.
func (c *Cache) Get(year int) (*Snapshot, error) {
	if err := c.checkRange(year); err != nil {
		return nil, err
	}
	if !c.ready.Load() {
		return nil, eris.Wrap(kpi.ErrUnavailable, "snapshot: cache is preloading")
	}
	c.mu.RLock()
	snap, ok := c.years[year]
	c.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(kpi.ErrUnavailable, "snapshot: year %d not loaded", year)
	}
	return snap, nil
}

// Invalidate drops year from the cache.
func (c *Cache) Invalidate(year int) {
	c.mu.Lock()
	delete(c.years, year)
	c.mu.Unlock()
	for _, fn := range c.hooks {
		fn(year)
	}
}

// Reload invalidates year and fetches it again. On failure the year stays
// absent and the error wraps kpi.ErrDataSourceUnavailable.
func (c *Cache) Reload(ctx context.Context, year int) error {
	if err := c.checkRange(year); err != nil {
		return err
	}
	c.Invalidate(year)
	return c.load(ctx, year)
}

// Ready reports whether Preload has finished.
func (c *Cache) Ready() bool {
	return c.ready.Load()
}

// Years returns the loaded years, ascending.
func (c *Cache) Years() []int {
	c.mu.RLock()
	years := make([]int, 0, len(c.years))
	for y := range c.years {
		years = append(years, y)
	}
	c.mu.RUnlock()
	sort.Ints(years)
	return years
}

// Len returns the number of loaded years.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.years)
}

// Range returns the snapshots loaded between from and to inclusive, in
// year order. Years missing from the cache are skipped; an empty result is
// kpi.ErrUnavailable.
func (c *Cache) Range(from, to int) ([]*Snapshot, error) {
	if from > to {
		return nil, kpi.Invalidf("from %d is after to %d", from, to)
	}
	if err := c.checkRange(from); err != nil {
		return nil, err
	}
	if err := c.checkRange(to); err != nil {
		return nil, err
	}
	if !c.ready.Load() {
		return nil, eris.Wrap(kpi.ErrUnavailable, "snapshot: cache is preloading")
	}
	var out []*Snapshot
	c.mu.RLock()
	for y := from; y <= to; y++ {
		if s, ok := c.years[y]; ok {
			out = append(out, s)
		}
	}
	c.mu.RUnlock()
	if len(out) == 0 {
		return nil, eris.Wrapf(kpi.ErrUnavailable, "snapshot: no year loaded in %d-%d", from, to)
	}
	return out, nil
}

// All returns every loaded snapshot in year order.
func (c *Cache) All() ([]*Snapshot, error) {
	return c.Range(c.cfg.FromYear, c.cfg.ToYear)
}

// Series returns the rows of entity id across all loaded years.
func (c *Cache) Series(id string) ([]kpi.Row, error) {
	snaps, err := c.All()
	if err != nil {
		return nil, err
	}
	var out []kpi.Row
	for _, s := range snaps {
		if e, ok := s.Entity(id); ok {
			out = append(out, e.Row())
		}
	}
	if len(out) == 0 {
		return nil, kpi.Invalidf("unknown entity %q", id)
	}
	return out, nil
}

// SeriesByName is Series keyed by entity name, matched with NameKey. An
// entity renamed over time is followed through its id.
func (c *Cache) SeriesByName(name string) ([]kpi.Row, error) {
	snaps, err := c.All()
	if err != nil {
		return nil, err
	}
	key := NameKey(name)
	for i := len(snaps) - 1; i >= 0; i-- {
		for _, e := range snaps[i].Entities {
			if NameKey(e.Name) == key {
				return c.Series(e.ID)
			}
		}
	}
	return nil, kpi.Invalidf("unknown entity name %q", name)
}
