// internal/cache/filter.go
//
// Filter-aware TTL cache keyed by (tenant, normalized filter set).
//
// Context
// -------
// Filtered log pages and grouped counts are cached per tenant and per
// filter combination.  The composite key is built by sorting filter
// names and joining the non-empty name:value pairs, so the same
// filters always produce the same key regardless of input order.
// InvalidateTenant removes every entry belonging to one tenant and
// leaves the rest untouched; it backs the "any write or config change
// invalidates the tenant's cached views" rule.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// TenantStore is a TTL cache keyed by (tenant, filters).  Safe for
// concurrent use.
type TenantStore[V any] struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry[V]
	now func() time.Time
}

// NewTenantStore returns an empty TenantStore whose entries live for
// ttl.
func NewTenantStore[V any](ttl time.Duration) *TenantStore[V] {
	return &TenantStore[V]{
		ttl: ttl,
		m:   make(map[string]entry[V]),
		now: time.Now,
	}
}

// Key builds the canonical composite key.  Filter names are sorted and
// empty values skipped, so {a:1, b:2} and {b:2, a:1} collide as they
// should.  The tenant id is first so InvalidateTenant can match on
// prefix.
func Key(tenantID string, filters map[string]string) string {
	if len(filters) == 0 {
		return tenantID + "|"
	}
	names := make([]string, 0, len(filters))
	for name, val := range filters {
		if val == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(tenantID)
	b.WriteByte('|')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(filters[name])
	}
	return b.String()
}

// Get returns the value cached for (tenant, filters), expiring on read.
func (s *TenantStore[V]) Get(tenantID string, filters map[string]string) (V, bool) {
	key := Key(tenantID, filters)

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

// Set stores the value for (tenant, filters).
func (s *TenantStore[V]) Set(tenantID string, filters map[string]string, val V) {
	key := Key(tenantID, filters)
	s.mu.Lock()
	s.m[key] = entry[V]{at: s.now(), val: val}
	s.mu.Unlock()
}

// InvalidateTenant removes every entry whose tenant component matches
// tenantID.  Other tenants' entries are untouched.
func (s *TenantStore[V]) InvalidateTenant(tenantID string) {
	prefix := tenantID + "|"
	s.mu.Lock()
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

// InvalidateAll empties the cache.
func (s *TenantStore[V]) InvalidateAll() {
	s.mu.Lock()
	s.m = make(map[string]entry[V])
	s.mu.Unlock()
}

// Sweep drops every expired entry and reports how many were removed.
func (s *TenantStore[V]) Sweep() int {
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
func (s *TenantStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
