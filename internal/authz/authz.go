// internal/authz/authz.go
//
// Tenant access resolution.
//
// Context
// -------
// Who may see which tenant's logs is decided by Discord roles: a
// tenant record names a staff role (view) and an admin role (manage)
// in its linked guild.  Super admins from the static allowlist bypass
// role checks entirely.
//
// Role lookups are remote, so per-user-per-tenant verdicts are cached
// for five minutes.  Stale grants inside that window are accepted;
// role revocations take effect on the next refresh.
package authz

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/cache"
	"github.com/guildlogs/panel/internal/metrics"
	"github.com/guildlogs/panel/internal/registry"
	"github.com/guildlogs/panel/internal/session"
)

// verdictTTL bounds how long a cached role verdict is trusted.
const verdictTTL = 5 * time.Minute

// RoleDirectory resolves the role IDs a user holds in a guild.
// *directory.Client satisfies it.
type RoleDirectory interface {
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
}

// TenantLister yields registry state.  *registry.Store satisfies it.
type TenantLister interface {
	Tenant(id string) (registry.Tenant, error)
	All() map[string]registry.Tenant
}

// Engine answers access questions.
type Engine struct {
	reg    TenantLister
	dir    RoleDirectory
	supers map[string]struct{}

	access *cache.Store[bool] // key: userID|tenantID
	admin  *cache.Store[bool]
}

// New builds an Engine.  superAdmins is the static allowlist of user
// IDs with unconditional access.
func New(reg TenantLister, dir RoleDirectory, superAdmins []string) *Engine {
	supers := make(map[string]struct{}, len(superAdmins))
	for _, id := range superAdmins {
		supers[id] = struct{}{}
	}
	return &Engine{
		reg:    reg,
		dir:    dir,
		supers: supers,
		access: cache.NewStore[bool](verdictTTL),
		admin:  cache.NewStore[bool](verdictTTL),
	}
}

// IsSuperAdmin reports allowlist membership.
func (e *Engine) IsSuperAdmin(userID string) bool {
	_, ok := e.supers[userID]
	return ok
}

// HasAccess reports whether the user may view a tenant's logs.
func (e *Engine) HasAccess(ctx context.Context, userID, tenantID string) bool {
	if e.IsSuperAdmin(userID) {
		return true
	}
	return e.verdict(ctx, e.access, "access", userID, tenantID, func(t registry.Tenant, roles []string) bool {
		// Admins can always view.
		return holdsRole(roles, t.Identity.StaffRoleID) || holdsRole(roles, t.Identity.AdminRoleID)
	})
}

// IsAdmin reports whether the user may manage a tenant.
func (e *Engine) IsAdmin(ctx context.Context, userID, tenantID string) bool {
	if e.IsSuperAdmin(userID) {
		return true
	}
	return e.verdict(ctx, e.admin, "admin", userID, tenantID, func(t registry.Tenant, roles []string) bool {
		return holdsRole(roles, t.Identity.AdminRoleID)
	})
}

// verdict answers a cached role question, resolving through the
// directory on a miss.  Lookup failures deny without caching so a
// transient directory outage cannot pin a denial for five minutes.
func (e *Engine) verdict(ctx context.Context, store *cache.Store[bool], kind, userID, tenantID string,
	grant func(registry.Tenant, []string) bool) bool {

	key := userID + "|" + tenantID
	if v, ok := store.Get(key); ok {
		metrics.CacheHitTotal.WithLabelValues("authz_" + kind).Inc()
		return v
	}
	metrics.CacheMissTotal.WithLabelValues("authz_" + kind).Inc()

	t, err := e.reg.Tenant(tenantID)
	if err != nil || !t.Identity.Enabled() {
		store.Set(key, false)
		return false
	}

	roles, err := e.dir.MemberRoles(ctx, t.Identity.GuildID, userID)
	if err != nil {
		zap.S().Warnw("role lookup failed, denying",
			"user", userID, "tenant", tenantID, "error", err)
		return false
	}

	v := grant(t, roles)
	store.Set(key, v)
	return v
}

// ResolvePermissions computes the full permission snapshot minted into
// a session at login.
func (e *Engine) ResolvePermissions(ctx context.Context, userID string) session.Permissions {
	if e.IsSuperAdmin(userID) {
		return session.Permissions{
			IsSuperAdmin:      true,
			AccessibleServers: "all",
			AdminServers:      "all",
		}
	}

	var viewable, admin []string
	for _, t := range e.reg.All() {
		if e.HasAccess(ctx, userID, t.ID) {
			viewable = append(viewable, t.ID)
		}
		if e.IsAdmin(ctx, userID, t.ID) {
			admin = append(admin, t.ID)
		}
	}
	if viewable == nil {
		viewable = []string{}
	}
	if admin == nil {
		admin = []string{}
	}
	return session.Permissions{
		AccessibleServers: viewable,
		AdminServers:      admin,
	}
}

// InvalidateAll drops every cached verdict.  Used when an operator
// wants a role change to apply now rather than at TTL expiry.
func (e *Engine) InvalidateAll() {
	e.access.InvalidateAll()
	e.admin.InvalidateAll()
}

// Sweep evicts expired verdicts.  Called from the background sweeper.
func (e *Engine) Sweep() int {
	return e.access.Sweep() + e.admin.Sweep()
}

func holdsRole(roles []string, roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, r := range roles {
		if r == roleID {
			return true
		}
	}
	return false
}
