// internal/web/dashboard.go
//
// Read-side endpoints: the public status summary and the per-tenant
// dashboard data.
//
// Context
// -------
// An unreachable tenant database is a maintenance state, not an error:
// the dashboard payload says so and the response stays 200.  Access
// denials name the tenant so the frontend can render a useful message.
package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/logs"
)

// serverSummary is one row of the status response.
type serverSummary struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Icon   string `json:"icon,omitempty"`
}

func (s *Server) handleServersStatus(w http.ResponseWriter, r *http.Request) {
	useCache := r.URL.Query().Get("refresh") != "true"

	out := make(map[string]serverSummary)
	for id, t := range s.reg.All() {
		st := "offline"
		if s.status.Online(r.Context(), id, useCache) {
			st = "online"
		}

		icon := t.Logo
		if t.Identity.Enabled() {
			if u := s.dir.GuildIcon(r.Context(), t.Identity.GuildID); u != "" {
				icon = u
			}
		}
		out[id] = serverSummary{Name: t.DisplayName, Status: st, Icon: icon}
	}

	panelName := s.reg.Global().SiteName
	if panelName == "" {
		panelName = s.siteName
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"panel":   panelName,
		"servers": out,
		"total":   len(out),
	})
}

// logRow is one rendered record: the payload is flattened so the
// frontend does not re-parse the data blob.
type logRow struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	Date       string `json:"date"`
	Message    string `json:"message"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	IDUnique   string `json:"idunique,omitempty"`
	TargetName string `json:"name_cible,omitempty"`
	TargetID   string `json:"idunique_cible,omitempty"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "server")
	claims := claimsFrom(r)

	t, err := s.reg.Tenant(tenantID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown server")
		return
	}

	if !claims.Permissions.CanView(tenantID) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":  "You do not have access to the server " + t.DisplayName,
			"server": tenantID,
		})
		return
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("per_page"))
	filters := logs.Filters{
		Name:      q.Get("name"),
		IDUnique:  q.Get("idunique"),
		Message:   q.Get("message"),
		Title:     q.Get("title"),
		Type:      q.Get("type"),
		DateStart: q.Get("date_start"),
		DateEnd:   q.Get("date_end"),
	}

	res, err := s.logs.Page(r.Context(), tenantID, page, filters, pageSize)
	if err != nil {
		if errors.Is(err, connman.ErrTenantUnavailable) || errors.Is(err, connman.ErrTenantUnknown) {
			// Downgrade to maintenance instead of erroring out.
			writeJSON(w, http.StatusOK, map[string]any{
				"server":      tenantID,
				"name":        t.DisplayName,
				"maintenance": true,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	counts, err := s.logs.TypeCounts(r.Context(), tenantID)
	if err != nil {
		counts = map[string]int{} // partial data beats no data
	}

	rows := make([]logRow, 0, len(res.Records))
	for _, rec := range res.Records {
		p := rec.Payload()
		rows = append(rows, logRow{
			ID:         rec.ID,
			Type:       rec.Type,
			Date:       rec.Date.Format("2006-01-02 15:04:05"),
			Message:    p.Message,
			Name:       p.Name,
			Title:      p.Title,
			IDUnique:   p.IDUnique,
			TargetName: p.TargetName,
			TargetID:   p.TargetID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"server":      tenantID,
		"name":        t.DisplayName,
		"maintenance": false,
		"logs":        rows,
		"total":       res.Total,
		"types":       counts,
		"is_admin":    claims.Permissions.CanAdmin(tenantID),
	})
}
