// internal/cache/cache.go
//
// TTL cache primitives.
//
// Context
// -------
// The panel keeps several independently-expiring in-process caches:
// tenant reachability, per-tenant config snapshots, role-membership
// booleans, grouped log-type counts, and filtered log pages.  Two key
// shapes cover all of them: a flat key (Store) and a composite
// (tenant, filter-set) key (TenantStore, see filter.go).
//
// Entries expire on read; Sweep removes everything past its TTL in one
// pass and is driven by a background ticker in cmd/web.  Each cache
// owns one mutex, so a slow tenant never blocks an unrelated cache,
// and hot reads on one cache never serialize against another.
//
// Notes
// -----
//   - Zero-value TTL means "never expires"; callers here always pass
//     one of the documented TTLs (30 s status, 60 s stats, 120 s
//     counts, 300 s config and roles).
//   - Oxford commas, two spaces after periods.
package cache

import (
	"sync"
	"time"
)

// entry pairs a value with the instant it was stored.
type entry[V any] struct {
	at  time.Time
	val V
}

// Store is a keyed TTL cache.  Safe for concurrent use.
type Store[V any] struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry[V]

	// now is swappable so tests can advance time without sleeping.
	now func() time.Time
}

// NewStore returns an empty Store whose entries live for ttl.
func NewStore[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		ttl: ttl,
		m:   make(map[string]entry[V]),
		now: time.Now,
	}
}

// Get returns the cached value for key.  An entry older than the TTL
// is treated as absent and evicted on the spot.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok {
		var zero V
		return zero, false
	}
	if s.ttl > 0 && s.now().Sub(e.at) >= s.ttl {
		delete(s.m, key)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores or replaces the value for key, resetting its clock.
func (s *Store[V]) Set(key string, val V) {
	s.mu.Lock()
	s.m[key] = entry[V]{at: s.now(), val: val}
	s.mu.Unlock()
}

// Invalidate removes one key.
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// InvalidateAll empties the cache.
func (s *Store[V]) InvalidateAll() {
	s.mu.Lock()
	s.m = make(map[string]entry[V])
	s.mu.Unlock()
}

// Sweep drops every expired entry and reports how many were removed.
func (s *Store[V]) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int
	for k, e := range s.m {
		if now.Sub(e.at) >= s.ttl {
			delete(s.m, k)
			n++
		}
	}
	return n
}

// Len reports the current entry count, expired or not.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
