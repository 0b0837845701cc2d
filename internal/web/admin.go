// internal/web/admin.go
//
// Tenant administration endpoints.
//
// Context
// -------
// Create and delete reshape the registry document and are restricted
// to super admins.  Updates are partial merges and are open to a
// tenant's own admins as well.  Every mutation invalidates the
// tenant's cached engines and views, then best-effort resyncs the
// outbound firewall so a new database host is reachable immediately.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/directory"
	"github.com/guildlogs/panel/internal/firewall"
	"github.com/guildlogs/panel/internal/registry"
)

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if !claims.Permissions.IsSuperAdmin {
		writeError(w, http.StatusForbidden, "Super admin access required")
		return
	}

	type row struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Description string `json:"description,omitempty"`
		DatabaseURI string `json:"database_uri"`
		GuildID     string `json:"guild_id,omitempty"`
		Disabled    bool   `json:"disabled,omitempty"`
	}
	out := make([]row, 0)
	for id, t := range s.reg.All() {
		out = append(out, row{
			ID:          id,
			DisplayName: t.DisplayName,
			Description: t.Description,
			DatabaseURI: t.DatabaseURI,
			GuildID:     t.Identity.GuildID,
			Disabled:    t.Identity.Disabled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": out})
}

// createBody is the create payload: a tenant record plus its id.
type createBody struct {
	ID string `json:"id"`
	registry.Tenant
}

func (s *Server) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if !claims.Permissions.IsSuperAdmin {
		writeError(w, http.StatusForbidden, "Super admin access required")
		return
	}

	var body createBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Missing JSON body")
		return
	}

	t := body.Tenant
	t.ID = body.ID
	if err := s.reg.Create(t); err != nil {
		switch {
		case errors.Is(err, registry.ErrExists):
			writeError(w, http.StatusConflict, "Server already exists")
		default:
			writeError(w, http.StatusBadRequest, "Invalid server record")
		}
		return
	}

	zap.S().Infow("tenant created", "tenant", t.ID, "by", claims.UserID)
	go firewall.Sync(context.Background(), s.reg)

	created, _ := s.reg.Tenant(t.ID)
	embed := eventEmbed("Server created", colorCreate,
		claims.Username, claims.UserID, created.DisplayName, t.ID)
	if created.Description != "" {
		embed.Fields = append(embed.Fields, directory.EmbedField{
			Name: "Description", Value: created.Description,
		})
	}
	s.notifyChannel(t.ID, embed)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"server":  t.ID,
		"name":    created.DisplayName,
	})
}

func (s *Server) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "server")
	claims := claimsFrom(r)
	if !claims.Permissions.CanAdmin(tenantID) {
		writeError(w, http.StatusForbidden, "Admin access required")
		return
	}

	var upd registry.TenantUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "Missing JSON body")
		return
	}

	if err := s.reg.Update(tenantID, upd); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			writeError(w, http.StatusNotFound, "Unknown server")
		default:
			writeError(w, http.StatusBadRequest, "Invalid server record")
		}
		return
	}

	zap.S().Infow("tenant updated", "tenant", tenantID, "by", claims.UserID)
	s.invalidateTenant(tenantID)
	if upd.DatabaseURI != nil {
		go firewall.Sync(context.Background(), s.reg)
	}

	if updated, err := s.reg.Tenant(tenantID); err == nil {
		s.notifyChannel(tenantID, eventEmbed("Server updated", colorEdit,
			claims.Username, claims.UserID, updated.DisplayName, tenantID))
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "server": tenantID})
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "server")
	claims := claimsFrom(r)
	if !claims.Permissions.IsSuperAdmin {
		writeError(w, http.StatusForbidden, "Super admin access required")
		return
	}

	// Capture the record before it goes; the goodbye embed still needs
	// its channel and display name.
	doomed, _ := s.reg.Tenant(tenantID)

	if err := s.reg.Delete(tenantID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Unknown server")
		} else {
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	zap.S().Infow("tenant deleted", "tenant", tenantID, "by", claims.UserID)
	s.invalidateTenant(tenantID)

	if doomed.Identity.Enabled() && doomed.Identity.ChannelID != "" {
		s.notifyChannelID(doomed.Identity.ChannelID, eventEmbed("Server deleted", colorDelete,
			claims.Username, claims.UserID, doomed.DisplayName, tenantID))
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "server": tenantID})
}
