package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kpi-atlas/internal/analytics"
	"github.com/sells-group/kpi-atlas/internal/atlas"
	"github.com/sells-group/kpi-atlas/internal/db"
	"github.com/sells-group/kpi-atlas/internal/kpi"
	"github.com/sells-group/kpi-atlas/internal/snapshot"
	"github.com/sells-group/kpi-atlas/internal/spatial"
)

// scoreStore is a snapshot store that also holds Moran scores.
type scoreStore interface {
	snapshot.Store
	snapshot.ScoreReader
	snapshot.ScoreWriter
}

// atlasEnv bundles the components shared by serve, analyze and export.
type atlasEnv struct {
	Store scoreStore
	Cache *snapshot.Cache
	Memo  *spatial.Memo
	Svc   *atlas.Service
}

// Close releases the store.
func (e *atlasEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// openStore connects the configured snapshot backend.
func openStore(ctx context.Context) (scoreStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := snapshot.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "connect snapshot database")
		}
		opts := []snapshot.PostgresOption{snapshot.WithColumns(snapshot.Columns{
			ID:       cfg.Store.Columns.ID,
			Name:     cfg.Store.Columns.Name,
			Year:     cfg.Store.Columns.Year,
			Geometry: cfg.Store.Columns.Geometry,
		})}
		if cfg.Store.ScoreTable != "" {
			opts = append(opts, snapshot.WithScoreTable(cfg.Store.ScoreTable))
		}
		return snapshot.NewPostgresStore(pool, cfg.Store.Table, opts...), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// storedScores reports whether the configured store can serve Moran scores.
func storedScores() bool {
	return cfg.Store.Driver == "sqlite" || cfg.Store.ScoreTable != ""
}

// initAtlas opens the store and wires cache, memo and service for the
// years from..to. The cache is not preloaded.
func initAtlas(ctx context.Context, from, to int, opts ...atlas.Option) (*atlasEnv, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env, err := newAtlasEnv(store, from, to, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return env, nil
}

func newAtlasEnv(store scoreStore, from, to int, opts ...atlas.Option) (*atlasEnv, error) {
	presets := analytics.DefaultPresets()
	if cfg.Cluster.PresetsFile != "" {
		p, err := analytics.LoadPresets(cfg.Cluster.PresetsFile)
		if err != nil {
			return nil, err
		}
		presets = p
	}

	memo := spatial.NewMemo(cfg.Cache.AdjacencyTTL)
	// Set below; the cache only fires hooks on Invalidate and Reload.
	var svc *atlas.Service
	cache := snapshot.NewCache(store, snapshot.CacheConfig{
		FromYear:         from,
		ToYear:           to,
		Concurrency:      cfg.Preload.Concurrency,
		QueriesPerSecond: cfg.Preload.QueriesPerSecond,
	},
		snapshot.WithNormalizer(kpi.NewNormalizer(cfg.KPI.IdentifierFields, cfg.KPI.DropFields)),
		snapshot.OnInvalidate(memo.Invalidate),
		snapshot.OnInvalidate(func(year int) { svc.InvalidateScores(year) }),
	)

	base := []atlas.Option{
		atlas.WithMemo(memo),
		atlas.WithPresets(presets),
		atlas.WithTolerance(cfg.Adjacency.Tolerance),
		atlas.WithClusterParams(cfg.Cluster.K, cfg.Cluster.Iterations),
	}
	if storedScores() {
		base = append(base, atlas.WithScoreReader(store))
	}

	svc = atlas.New(cache, append(base, opts...)...)
	return &atlasEnv{
		Store: store,
		Cache: cache,
		Memo:  memo,
		Svc:   svc,
	}, nil
}
