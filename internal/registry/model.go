// internal/registry/model.go
//
// Typed tenant records backing the servers_config.json document.
//
// Context
// -------
// One JSON document describes every tenant the panel serves: display
// metadata, the tenant's log-store URI, its identity-provider linkage
// (guild, staff role, admin role, notification channel), and the API
// credentials its producers present to the ingestion endpoint.  The
// document has a top-level `servers` map and a `global` section.
//
// Records are validated once at load time with go-playground/validator
// rather than probed field-by-field at each access site.  The `status`
// field is derived at runtime by internal/status and never treated as
// authoritative here.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package registry

import (
	"errors"
	"regexp"
)

// ErrNotFound is returned when a tenant id is absent from the document.
var ErrNotFound = errors.New("tenant not found")

// ErrExists is returned when creating a tenant whose id is taken.
var ErrExists = errors.New("tenant already exists")

// idPattern restricts tenant ids to safe identifier characters.  The
// id appears in URLs, cache keys, and log lines, so nothing else is
// allowed through.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id is a well-formed tenant identifier.
func ValidID(id string) bool { return id != "" && idPattern.MatchString(id) }

// IdentityLink ties a tenant to its identity-provider guild and the
// role ids that grant staff and admin access.
type IdentityLink struct {
	GuildID     string `json:"guild_id"`
	StaffRoleID string `json:"role_id_staff"`
	AdminRoleID string `json:"role_id_admin"`
	ChannelID   string `json:"channel_id"`
	Disabled    bool   `json:"disabled,omitempty"`
}

// Enabled reports whether role lookups should consult this link at all.
func (l IdentityLink) Enabled() bool { return !l.Disabled && l.GuildID != "" }

// APICredentials lists the bearer tokens and caller IPs permitted to
// write logs for a tenant.
type APICredentials struct {
	Tokens     []string `json:"tokens"`
	AllowedIPs []string `json:"allowed_ips"`
}

// Tenant is one row of the `servers` map.
type Tenant struct {
	ID          string         `json:"-" validate:"required"`
	DisplayName string         `json:"display_name" validate:"required"`
	Description string         `json:"description"`
	Logo        string         `json:"logo,omitempty"`
	DatabaseURI string         `json:"database_uri"`
	OwnerID     string         `json:"owner_id,omitempty"`
	Identity    IdentityLink   `json:"discord"`
	API         APICredentials `json:"api"`
}

// Global is the document's `global` section.
type Global struct {
	SiteName string `json:"site_name,omitempty"`
}

// Document mirrors the full servers_config.json layout.
type Document struct {
	Servers map[string]*Tenant `json:"servers"`
	Global  Global             `json:"global"`
}

// TenantUpdate is a partial merge applied by admin edits.  Nil fields
// keep their current value; last writer wins on the whole document.
type TenantUpdate struct {
	DisplayName *string         `json:"display_name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Logo        *string         `json:"logo,omitempty"`
	DatabaseURI *string         `json:"database_uri,omitempty"`
	OwnerID     *string         `json:"owner_id,omitempty"`
	Identity    *IdentityLink   `json:"discord,omitempty"`
	API         *APICredentials `json:"api,omitempty"`
}

// CreateDefaults fills in the fields an admin create may leave unset,
// mirroring what a fresh tenant should look like.
func (t *Tenant) CreateDefaults() {
	if t.DisplayName == "" {
		t.DisplayName = t.ID
	}
	if t.Logo == "" {
		t.Logo = "/static/logos/" + t.ID + ".png"
	}
	if t.API.AllowedIPs == nil {
		t.API.AllowedIPs = []string{"127.0.0.1"}
	}
	if t.API.Tokens == nil {
		t.API.Tokens = []string{}
	}
}
