// internal/status/status.go
//
// Tenant reachability checks.
//
// Context
// -------
// The server list shows each tenant as online or offline.  A probe is
// one session grab plus a minimal existence check on the log table;
// any failure along the way reads as offline, never as an error.
// Verdicts are cached for thirty seconds so a dashboard full of
// tenants does not hammer their databases on every refresh.
package status

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/cache"
	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/metrics"
)

const statusTTL = 30 * time.Second

// Sessions yields tenant database connections.
type Sessions interface {
	Session(ctx context.Context, tenantID string) (*connman.Conn, error)
}

// Checker answers online/offline per tenant.
type Checker struct {
	conns Sessions
	cache *cache.Store[bool]
}

// New builds a Checker.
func New(conns Sessions) *Checker {
	return &Checker{
		conns: conns,
		cache: cache.NewStore[bool](statusTTL),
	}
}

// Online reports tenant reachability.  useCache=false forces a fresh
// probe, which also refreshes the cached verdict.
func (c *Checker) Online(ctx context.Context, tenantID string, useCache bool) bool {
	if useCache {
		if v, ok := c.cache.Get(tenantID); ok {
			metrics.CacheHitTotal.WithLabelValues("status").Inc()
			return v
		}
		metrics.CacheMissTotal.WithLabelValues("status").Inc()
	}

	online := c.probe(ctx, tenantID)
	c.cache.Set(tenantID, online)
	return online
}

// probe runs the existence check.  All failures collapse to offline.
func (c *Checker) probe(ctx context.Context, tenantID string) bool {
	conn, err := c.conns.Session(ctx, tenantID)
	if err != nil {
		zap.S().Debugw("status probe: no session", "tenant", tenantID, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var one int
	if err := conn.DB.QueryRowContext(ctx, "SELECT 1 FROM vlogs LIMIT 1").Scan(&one); err != nil {
		// An empty vlogs table scans no rows but the tenant is up.
		if errors.Is(err, sql.ErrNoRows) {
			return true
		}
		zap.S().Debugw("status probe failed", "tenant", tenantID, "error", err)
		return false
	}
	return true
}

// Invalidate drops a tenant's cached verdict.
func (c *Checker) Invalidate(tenantID string) {
	c.cache.Invalidate(tenantID)
}

// Sweep evicts expired verdicts.
func (c *Checker) Sweep() int {
	return c.cache.Sweep()
}
