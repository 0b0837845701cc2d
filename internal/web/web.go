// internal/web/web.go
//
// HTTP surface of the panel.
//
// Route map
// ---------
//
//	GET  /login, /callback, /logout     OAuth session flow
//	POST /api/logs[/{server}]           token-authenticated ingestion
//	GET  /api/servers/status            tenant online/offline summary
//	GET  /api/dashboard/{server}        filtered log pages (session)
//	*    /api/admin/servers[/...]       tenant CRUD (session + admin)
//	GET  /metrics                       Prometheus
//
// Ingestion authenticates with per-tenant API tokens and an IP
// allowlist; everything under /api/dashboard and /api/admin rides the
// session cookie.  The status summary is deliberately public, uptime
// monitors poll it.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildlogs/panel/internal/authz"
	"github.com/guildlogs/panel/internal/directory"
	"github.com/guildlogs/panel/internal/logs"
	"github.com/guildlogs/panel/internal/middleware"
	"github.com/guildlogs/panel/internal/registry"
	"github.com/guildlogs/panel/internal/requestinfo"
	"github.com/guildlogs/panel/internal/session"
	"github.com/guildlogs/panel/internal/status"
)

// Identity is the slice of the directory client the web layer needs.
// *directory.Client satisfies it.
type Identity interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*directory.User, error)
	GuildIcon(ctx context.Context, guildID string) string
	Notify(ctx context.Context, channelID string, embed directory.Embed)
}

// EngineInvalidator drops cached database engines after tenant
// mutations.  *connman.Manager satisfies it.
type EngineInvalidator interface {
	Invalidate(tenantID string)
}

// Server wires handlers to the panel's services.
type Server struct {
	reg      *registry.Store
	logs     *logs.Service
	status   *status.Checker
	authz    *authz.Engine
	sessions *session.Manager
	dir      Identity
	engines  EngineInvalidator
	resolver *requestinfo.Resolver

	// siteName is the configured fallback; the registry document's
	// global section wins when it names one.
	siteName string
}

// Deps names everything a Server needs.
type Deps struct {
	Registry *registry.Store
	Logs     *logs.Service
	Status   *status.Checker
	Authz    *authz.Engine
	Sessions *session.Manager
	Identity Identity
	Engines  EngineInvalidator
	Resolver *requestinfo.Resolver
	SiteName string
}

// New builds a Server.
func New(d Deps) *Server {
	return &Server{
		reg:      d.Registry,
		logs:     d.Logs,
		status:   d.Status,
		authz:    d.Authz,
		sessions: d.Sessions,
		dir:      d.Identity,
		engines:  d.Engines,
		resolver: d.Resolver,
		siteName: d.SiteName,
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Security)
	r.Use(s.resolver.Enrich)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/servers/status", s.handleServersStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAllowedIP)
			r.Post("/logs", s.handleIngest)
			r.Post("/logs/{server}", s.handleIngest)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/dashboard/{server}", s.handleDashboard)

			r.Route("/admin/servers", func(r chi.Router) {
				r.Get("/", s.handleAdminList)
				r.Post("/", s.handleAdminCreate)
				r.Put("/{server}", s.handleAdminUpdate)
				r.Delete("/{server}", s.handleAdminDelete)
			})
		})
	})

	return r
}

// invalidateTenant tears down every cached artifact derived from a
// tenant after its config changed.
func (s *Server) invalidateTenant(tenantID string) {
	s.engines.Invalidate(tenantID)
	s.logs.InvalidateTenant(tenantID)
	s.status.Invalidate(tenantID)
}
