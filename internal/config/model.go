// internal/config/model.go
//
// Typed configuration model for the panel.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                             – dotenv values,
//   • `conf/global.yaml`                          – primary static file,
//   • `GUILDLOGS_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *after* unmarshalling, so the model never
// stores Vault URIs past Load—only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast
// if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml`
//     tags unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set
//     it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import (
	"regexp"
	"strings"
)

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS bool   `koanf:"force_https"`

	// TrustedProxyCIDRs are the only peers whose CF-Connecting-IP and
	// X-Forwarded-For headers are believed when resolving client IPs.
	TrustedProxyCIDRs []string `koanf:"trusted_proxy_cidrs"`
}

//
// Registry section
//

// Registry points at the tenant document.
type Registry struct {
	Path string `koanf:"path" validate:"required"`
}

//
// Auth section
//

// Auth carries the session-credential and super-admin settings.  The
// JWT secret is the only hard requirement: without it no credential
// can be issued or verified.
type Auth struct {
	JWTSecret       string `koanf:"jwt_secret" validate:"required"`
	SessionHours    int    `koanf:"session_hours"`
	SuperAdminIDs   string `koanf:"super_admin_ids"` // whitespace- or comma-separated
	superAdminIndex map[string]struct{}
}

// SuperAdmins splits the configured allowlist into a set.  Both commas
// and whitespace separate entries, matching what operators paste in.
func (a *Auth) SuperAdmins() map[string]struct{} {
	if a.superAdminIndex != nil {
		return a.superAdminIndex
	}
	set := make(map[string]struct{})
	for _, p := range regexp.MustCompile(`[\s,]+`).Split(strings.TrimSpace(a.SuperAdminIDs), -1) {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	a.superAdminIndex = set
	return set
}

//
// Identity-provider section
//

// Identity holds the OAuth application and bot credentials for the
// external directory.
type Identity struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	BotToken     string `koanf:"bot_token"`
	RedirectURI  string `koanf:"redirect_uri"`

	// APIBase is overridable so tests can point at an httptest server.
	APIBase string `koanf:"api_base"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or GUILDLOGS_ROOT override) so later code
// can build absolute file paths.
type Paths struct {
	Root string
}

//
// Root config
//

// Config is the merged, validated configuration tree.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Registry Registry `koanf:"registry"`
	Auth     Auth     `koanf:"auth"`
	Identity Identity `koanf:"identity"`
	SiteName string   `koanf:"site_name"`
	Paths    Paths
}
