// internal/session/session.go
//
// Signed session tokens.
//
// Context
// -------
// Dashboard sessions are stateless HS256 JWTs carried in the
// "auth_token" cookie (set after the OAuth callback) or, for API
// clients, in an "Authorization: Bearer" header.  The claims embed the
// caller's resolved permission snapshot so the common request path
// never touches the role directory.  Tokens expire after the
// configured session lifetime, 24 hours by default.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CookieName is the session cookie the browser carries.
const CookieName = "auth_token"

// ErrNoToken reports a request with no session token at all, as
// opposed to one carrying a bad or expired token.
var ErrNoToken = errors.New("no session token")

// Permissions is the access snapshot minted into the token at login.
type Permissions struct {
	IsSuperAdmin bool `json:"is_super_admin"`

	// AccessibleServers and AdminServers are each either the literal
	// "all" (super admins) or a list of tenant IDs.
	AccessibleServers any `json:"accessible_servers"`
	AdminServers      any `json:"admin_servers"`
}

// CanView reports whether the snapshot grants read access to a tenant.
func (p Permissions) CanView(tenantID string) bool {
	return p.IsSuperAdmin || grants(p.AccessibleServers, tenantID)
}

// CanAdmin reports whether the snapshot grants admin access to a tenant.
func (p Permissions) CanAdmin(tenantID string) bool {
	return p.IsSuperAdmin || grants(p.AdminServers, tenantID)
}

// grants matches a tenant ID against a server set in any of the three
// shapes it takes: the "all" sentinel, the list minted at login, or
// the []any a JSON round trip produces.
func grants(set any, tenantID string) bool {
	switch v := set.(type) {
	case string:
		return v == "all"
	case []string:
		for _, id := range v {
			if id == tenantID {
				return true
			}
		}
	case []any:
		for _, id := range v {
			if s, ok := id.(string); ok && s == tenantID {
				return true
			}
		}
	}
	return false
}

// Claims is the full session payload.
type Claims struct {
	UserID        string      `json:"user_id"`
	Username      string      `json:"username"`
	Avatar        string      `json:"avatar,omitempty"`
	Discriminator string      `json:"discriminator,omitempty"`
	Permissions   Permissions `json:"server_permissions"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret   []byte
	lifetime time.Duration
	secure   bool
}

// New builds a Manager.  secure controls the cookie's Secure flag and
// should track whether the panel is served over HTTPS.
func New(secret string, lifetime time.Duration, secure bool) *Manager {
	return &Manager{
		secret:   []byte(secret),
		lifetime: lifetime,
		secure:   secure,
	}
}

// Issue mints a signed token for the given claims, stamping the
// issued-at and expiry times.
func (m *Manager) Issue(claims Claims) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.lifetime))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token string.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return m.secret, nil
		},
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// FromRequest extracts and verifies the session token from a request,
// checking the cookie first and the Authorization header second.
func (m *Manager) FromRequest(r *http.Request) (*Claims, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return m.Verify(c.Value)
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return m.Verify(strings.TrimPrefix(h, "Bearer "))
	}
	return nil, ErrNoToken
}

// SetCookie attaches the session cookie to a response.
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.lifetime.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
