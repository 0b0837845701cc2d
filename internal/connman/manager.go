// internal/connman/manager.go
//
// Per-tenant database engine manager.
//
// Context
// -------
// Every tenant owns its own log store, reached through the URI on its
// registry record.  Engines are built lazily on first use, cached, and
// rebuilt transparently when the registry URI drifts from the one the
// cached engine was opened with.  Concurrent first requests for the
// same tenant share one build via singleflight; distinct tenants never
// serialize on each other's dials.
//
// Each Session call runs a trivial liveness probe.  When the probe
// fails against a MySQL target the manager retries once with the
// compatibility DSN under the derived key "<tenant>__compat" and, on
// success, mirrors that engine into the primary slot so later lookups
// hit it directly.  Probe errors that look like credential failures
// tear the cached engine down so the next request redials with fresh
// registry state.
//
// Notes
// -----
// The map mutex only guards map reads and writes.  Dials and probes
// happen outside it, under the per-tenant singleflight group.
package connman

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/guildlogs/panel/internal/metrics"
	"github.com/guildlogs/panel/internal/registry"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrTenantUnknown reports a tenant ID with no registry record.
	ErrTenantUnknown = errors.New("tenant not registered")

	// ErrTenantUnavailable reports a tenant whose store cannot be
	// reached right now.  Callers treat it as transient.
	ErrTenantUnavailable = errors.New("tenant database unavailable")
)

// compatSuffix derives the fallback slot key from a tenant ID.
const compatSuffix = "__compat"

// authErrorMarkers are substrings that mark a probe failure as a
// credential problem rather than plain connectivity loss.
var authErrorMarkers = []string{"access denied", "authentication", "1045"}

// isAuthError reports whether err smells like a credential failure.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// TenantSource yields the registry record the manager dials from.
// *registry.Store satisfies it.
type TenantSource interface {
	Tenant(id string) (registry.Tenant, error)
}

// Conn pairs a live engine with the dialect its queries must use.
type Conn struct {
	DB      *sqlx.DB
	Dialect Dialect
	Tenant  string
}

// record is a cached engine plus the URI it was opened with.
type record struct {
	db      *sqlx.DB
	uri     string
	dialect Dialect
}

// Manager owns the per-tenant engine cache.
type Manager struct {
	src TenantSource

	mu   sync.Mutex
	recs map[string]*record
	sfg  singleflight.Group

	// open is swappable so tests can hand back sqlmock-backed engines.
	open func(target Target, dsn string) (*sqlx.DB, error)
}

// New builds a Manager over the given tenant source.
func New(src TenantSource) *Manager {
	return &Manager{
		src:  src,
		recs: make(map[string]*record),
		open: openEngine,
	}
}

// openEngine dials a target DSN and applies pool tuning.
func openEngine(target Target, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(target.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if target.Dialect == DialectMySQL {
		db.SetMaxOpenConns(60)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(30 * time.Minute)
	}
	return db, nil
}

// Session returns a live engine for the tenant, building or rebuilding
// one as needed.  Unknown tenants return ErrTenantUnknown; reachable
// registry records with dead stores return ErrTenantUnavailable.
func (m *Manager) Session(ctx context.Context, tenantID string) (*Conn, error) {
	t, err := m.src.Tenant(tenantID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTenantUnknown, tenantID)
		}
		return nil, err
	}
	if t.DatabaseURI == "" {
		return nil, fmt.Errorf("%w: %s has no database URI", ErrTenantUnknown, tenantID)
	}

	target, err := ParseURI(t.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTenantUnknown, tenantID, err)
	}

	// Fast path: cached engine opened from the current URI.
	m.mu.Lock()
	rec := m.recs[tenantID]
	if rec != nil && rec.uri != t.DatabaseURI {
		// Registry URI drifted.  Discard and rebuild below.
		stale := rec
		delete(m.recs, tenantID)
		delete(m.recs, tenantID+compatSuffix)
		m.mu.Unlock()
		stale.db.Close()
		metrics.ActiveEngines.Dec()
		zap.S().Infow("tenant database URI changed, rebuilding engine", "tenant", tenantID)
		rec = nil
	} else {
		m.mu.Unlock()
	}

	if rec == nil {
		rec, err = m.build(ctx, tenantID, t.DatabaseURI, target)
		if err != nil {
			return nil, err
		}
	}

	if err := m.probe(ctx, rec.db); err == nil {
		return &Conn{DB: rec.db, Dialect: rec.dialect, Tenant: tenantID}, nil
	} else if rec.dialect == DialectMySQL && target.Compat != "" {
		if conn, ferr := m.fallback(ctx, tenantID, t.DatabaseURI, target); ferr == nil {
			return conn, nil
		}
		return nil, m.probeFailed(tenantID, err)
	} else {
		return nil, m.probeFailed(tenantID, err)
	}
}

// build opens the primary engine for a tenant, deduplicating
// concurrent builds through singleflight.
func (m *Manager) build(ctx context.Context, tenantID, uri string, target Target) (*record, error) {
	v, err, _ := m.sfg.Do(tenantID, func() (any, error) {
		// Double-check under the lock; a racing caller may have won.
		m.mu.Lock()
		if rec := m.recs[tenantID]; rec != nil && rec.uri == uri {
			m.mu.Unlock()
			return rec, nil
		}
		m.mu.Unlock()

		db, err := m.open(target, target.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTenantUnavailable, tenantID, err)
		}

		rec := &record{db: db, uri: uri, dialect: target.Dialect}
		m.mu.Lock()
		m.recs[tenantID] = rec
		m.mu.Unlock()

		metrics.ActiveEngines.Inc()
		metrics.EngineBuildTotal.Inc()
		zap.S().Infow("tenant database engine built",
			"tenant", tenantID,
			"dialect", target.Dialect,
			"host", target.Host,
		)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*record), nil
}

// fallback retries a failed MySQL probe through the compatibility DSN
// under the derived slot key, mirroring the engine into the primary
// slot when the retry succeeds.
func (m *Manager) fallback(ctx context.Context, tenantID, uri string, target Target) (*Conn, error) {
	key := tenantID + compatSuffix

	m.mu.Lock()
	rec := m.recs[key]
	if rec != nil && rec.uri != uri {
		stale := rec
		delete(m.recs, key)
		m.mu.Unlock()
		stale.db.Close()
		metrics.ActiveEngines.Dec()
		rec = nil
	} else {
		m.mu.Unlock()
	}

	if rec == nil {
		v, err, _ := m.sfg.Do(key, func() (any, error) {
			m.mu.Lock()
			if rec := m.recs[key]; rec != nil && rec.uri == uri {
				m.mu.Unlock()
				return rec, nil
			}
			m.mu.Unlock()

			db, err := m.open(target, target.Compat)
			if err != nil {
				return nil, err
			}
			rec := &record{db: db, uri: uri, dialect: target.Dialect}
			m.mu.Lock()
			m.recs[key] = rec
			m.mu.Unlock()
			metrics.ActiveEngines.Inc()
			metrics.EngineBuildTotal.Inc()
			return rec, nil
		})
		if err != nil {
			return nil, err
		}
		rec = v.(*record)
	}

	if err := m.probe(ctx, rec.db); err != nil {
		return nil, err
	}

	// The compat engine works; make it the primary so later requests
	// skip the failed handshake entirely.
	m.mu.Lock()
	if prev := m.recs[tenantID]; prev != nil && prev != rec {
		prev.db.Close()
		metrics.ActiveEngines.Dec()
	}
	m.recs[tenantID] = rec
	m.mu.Unlock()

	metrics.EngineFallbackTotal.Inc()
	zap.S().Warnw("tenant engine fell back to compatibility DSN", "tenant", tenantID)
	return &Conn{DB: rec.db, Dialect: rec.dialect, Tenant: tenantID}, nil
}

// probeFailed converts a probe error into the caller-facing error,
// invalidating the cached engine first when the failure is
// credential-shaped.
func (m *Manager) probeFailed(tenantID string, err error) error {
	if isAuthError(err) {
		zap.S().Warnw("tenant database rejected credentials, invalidating engine",
			"tenant", tenantID, "error", err)
		m.Invalidate(tenantID)
	}
	return fmt.Errorf("%w: %s: %v", ErrTenantUnavailable, tenantID, err)
}

// probe issues the trivial liveness check.
func (m *Manager) probe(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// Invalidate drops the tenant's cached engines, primary and compat.
// The next Session call rebuilds from current registry state.
func (m *Manager) Invalidate(tenantID string) {
	m.mu.Lock()
	var closed []*sqlx.DB
	for _, key := range []string{tenantID, tenantID + compatSuffix} {
		if rec := m.recs[key]; rec != nil {
			delete(m.recs, key)
			closed = append(closed, rec.db)
		}
	}
	m.mu.Unlock()

	seen := make(map[*sqlx.DB]bool, len(closed))
	for _, db := range closed {
		if seen[db] {
			continue // mirrored compat engine shares the primary slot
		}
		seen[db] = true
		db.Close()
		metrics.ActiveEngines.Dec()
		metrics.EngineInvalidateTotal.Inc()
	}
}

// Close tears down every cached engine.  Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	recs := m.recs
	m.recs = make(map[string]*record)
	m.mu.Unlock()

	seen := make(map[*sqlx.DB]bool, len(recs))
	for _, rec := range recs {
		if seen[rec.db] {
			continue
		}
		seen[rec.db] = true
		rec.db.Close()
		metrics.ActiveEngines.Dec()
	}
}

// Len reports the number of cached engine slots.  Mirrored compat
// engines count once per slot they occupy.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}
