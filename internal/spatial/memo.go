package spatial

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Memo holds per-year adjacency graphs so the quadratic build runs once per
// year instead of once per request. Concurrent misses for the same year
// share a single build.
type Memo struct {
	cache *gocache.Cache
	group singleflight.Group
}

// NewMemo creates a Memo whose entries expire after ttl. A ttl of zero keeps
// entries until they are invalidated.
func NewMemo(ttl time.Duration) *Memo {
	exp := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		exp = ttl
		cleanup = 2 * ttl
	}
	return &Memo{cache: gocache.New(exp, cleanup)}
}

// Get returns the graph for year, calling build on a miss.
func (m *Memo) Get(year int, build func() Graph) Graph {
	key := strconv.Itoa(year)
	if v, ok := m.cache.Get(key); ok {
		return v.(Graph)
	}
	v, _, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.cache.Get(key); ok {
			return v, nil
		}
		g := build()
		m.cache.SetDefault(key, g)
		return g, nil
	})
	return v.(Graph)
}

// Invalidate drops the graph for year.
func (m *Memo) Invalidate(year int) {
	m.cache.Delete(strconv.Itoa(year))
}

// Len returns the number of memoised years.
func (m *Memo) Len() int {
	return m.cache.ItemCount()
}
