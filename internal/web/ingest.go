// internal/web/ingest.go
//
// Log ingestion endpoint.
//
// Context
// -------
// Producers (bots, game servers) POST log entries with a raw API token
// in the Authorization header.  Ingestion is independent of the
// session cookie: tokens and the source-IP allowlist are the only
// credentials.  On success the tenant's notification channel, when
// configured, receives a fire-and-forget embed.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/directory"
	"github.com/guildlogs/panel/internal/logs"
	"github.com/guildlogs/panel/internal/registry"
	"github.com/guildlogs/panel/internal/requestinfo"
)

// ingestBody is the request payload; server_id is only consulted when
// the tenant is not named in the path.
type ingestBody struct {
	logs.Entry
	ServerID string `json:"server_id"`
}

// requireAllowedIP gates ingestion on the registry-wide IP allowlist.
// A registry with no tenants lets everything through so a fresh
// install is not locked out of its own API.
func (s *Server) requireAllowedIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenants := s.reg.All()
		if len(tenants) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		var ip string
		if info := requestinfo.FromContext(r.Context()); info != nil && info.IP != nil {
			ip = info.IP.String()
		}
		for _, t := range tenants {
			for _, allowed := range t.API.AllowedIPs {
				if ip == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		writeError(w, http.StatusForbidden, "Unauthorized IP")
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Missing JSON body")
		return
	}

	tenantID := chi.URLParam(r, "server")
	if tenantID == "" {
		tenantID = body.ServerID
	}
	if tenantID == "" {
		tenantID = "default"
	}

	id, err := s.logs.Write(r.Context(), tenantID, r.Header.Get("Authorization"), body.Entry)
	if err != nil {
		s.writeIngestError(w, tenantID, err)
		return
	}

	s.notify(tenantID, body.Entry)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"id":      id,
		"server":  tenantID,
	})
}

// writeIngestError maps service errors onto the documented status
// codes without leaking internals.
func (s *Server) writeIngestError(w http.ResponseWriter, tenantID string, err error) {
	switch {
	case errors.Is(err, logs.ErrInvalidTenantID):
		writeError(w, http.StatusBadRequest, "Invalid server_id format")
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusBadRequest, "Unknown server")
	case errors.Is(err, logs.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid token")
	case errors.Is(err, logs.ErrMissingType):
		writeError(w, http.StatusBadRequest, "Missing 'type' field")
	default:
		zap.S().Errorw("ingest failed", "tenant", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// notify posts the new-log embed to the tenant's channel, when one is
// configured.  Runs detached; ingest latency never waits on it.
func (s *Server) notify(tenantID string, e logs.Entry) {
	t, err := s.reg.Tenant(tenantID)
	if err != nil || !t.Identity.Enabled() || t.Identity.ChannelID == "" {
		return
	}

	embed := directory.Embed{
		Title:     "New log: " + logs.Sanitize(e.Type, logs.MaxTypeLen),
		Color:     colorIngest,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []directory.EmbedField{
			{Name: "Server", Value: t.DisplayName, Inline: true},
		},
	}
	if e.Name != "" {
		embed.Fields = append(embed.Fields, directory.EmbedField{
			Name: "Name", Value: logs.Sanitize(e.Name, 256), Inline: true,
		})
	}
	if e.Message != "" {
		embed.Description = logs.Sanitize(e.Message, 2000)
	}

	s.notifyChannelID(t.Identity.ChannelID, embed)
}
