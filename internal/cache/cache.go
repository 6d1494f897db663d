package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultFreshFor   = 30 * time.Second
	defaultEvictAfter = 10 * time.Minute
)

type entry struct {
	value    interface{}
	storedAt time.Time
}

// Store is the session read cache. Each value carries a soft freshness
// window inside a hard-eviction TTL store: Get hits only while the
// value is fresh, GetStale hits until eviction. The gap between the two
// is what degraded reads live on.
type Store struct {
	data     *gocache.Cache
	freshFor time.Duration
	now      func() time.Time
}

// New builds a Store. freshFor bounds fresh reads, evictAfter bounds
// stale reads; zero values take defaults.
func New(freshFor, evictAfter time.Duration) *Store {
	if freshFor <= 0 {
		freshFor = defaultFreshFor
	}
	if evictAfter <= 0 {
		evictAfter = defaultEvictAfter
	}
	return &Store{
		data:     gocache.New(evictAfter, evictAfter),
		freshFor: freshFor,
		now:      time.Now,
	}
}

// Put stores a value under the key, restarting both windows.
func (s *Store) Put(key string, value interface{}) {
	s.data.Set(key, entry{value: value, storedAt: s.now()}, gocache.DefaultExpiration)
}

// Get returns the value only while it is fresh.
func (s *Store) Get(key string) (interface{}, bool) {
	raw, ok := s.data.Get(key)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if s.now().Sub(e.storedAt) > s.freshFor {
		return nil, false
	}
	return e.value, true
}

// GetStale returns the value regardless of freshness, as long as it has
// not been evicted.
func (s *Store) GetStale(key string) (interface{}, bool) {
	raw, ok := s.data.Get(key)
	if !ok {
		return nil, false
	}
	return raw.(entry).value, true
}

// Invalidate removes the given keys.
func (s *Store) Invalidate(keys ...string) {
	for _, key := range keys {
		s.data.Delete(key)
	}
}

// InvalidatePrefix removes every key under the prefix and returns how
// many were dropped.
func (s *Store) InvalidatePrefix(prefix string) int {
	removed := 0
	for key := range s.data.Items() {
		if strings.HasPrefix(key, prefix) {
			s.data.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, expired ones included.
func (s *Store) Len() int {
	return s.data.ItemCount()
}
