// internal/web/auth.go
//
// OAuth login flow and session middleware.
//
// Context
// -------
// /login sends the browser to the identity provider with a random
// nonce plus the optionally preselected tenant packed into the OAuth
// state.  /callback verifies the nonce against its cookie, exchanges
// the code, resolves the user's permission snapshot, and mints the
// session cookie.  The session middleware gates /api/dashboard and
// /api/admin.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/session"
)

const stateCookie = "oauth_state"

type claimsKey struct{}

// claimsFrom returns the verified session claims stored by
// requireSession, or nil.
func claimsFrom(r *http.Request) *session.Claims {
	c, _ := r.Context().Value(claimsKey{}).(*session.Claims)
	return c
}

func contextWithClaims(ctx context.Context, c *session.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// requireSession rejects requests without a valid session token.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessions.FromRequest(r)
		if err != nil {
			if errors.Is(err, session.ErrNoToken) {
				writeError(w, http.StatusUnauthorized, "Authentication required")
			} else {
				writeError(w, http.StatusUnauthorized, "Invalid or expired session")
			}
			return
		}
		ctx := contextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	// A valid preselected tenant rides along in the state so the
	// callback can land the user on that dashboard.
	selected := "general"
	if srv := r.URL.Query().Get("server"); srv != "" && s.reg.Exists(srv) {
		selected = srv
	}

	nonce, err := randomNonce()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    nonce,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, s.dir.AuthURL(nonce+"."+selected), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	nonce, selected, ok := strings.Cut(r.URL.Query().Get("state"), ".")
	cookie, err := r.Cookie(stateCookie)
	if !ok || err != nil || cookie.Value == "" || cookie.Value != nonce {
		writeError(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}

	user, err := s.dir.Exchange(r.Context(), code)
	if err != nil {
		zap.S().Warnw("oauth exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "Login failed")
		return
	}

	perms := s.authz.ResolvePermissions(r.Context(), user.ID)
	token, err := s.sessions.Issue(session.Claims{
		UserID:        user.ID,
		Username:      user.Username,
		Avatar:        user.Avatar,
		Discriminator: user.Discriminator,
		Permissions:   perms,
	})
	if err != nil {
		zap.S().Errorw("issue session", "user", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.sessions.SetCookie(w, token)

	zap.S().Infow("user logged in", "user", user.ID, "username", user.Username)

	target := "/"
	if selected != "" && selected != "general" && perms.CanView(selected) {
		target = "/dashboard/" + selected
		if t, err := s.reg.Tenant(selected); err == nil {
			s.notifyChannel(selected, eventEmbed("Panel login", colorLogin,
				user.Username, user.ID, t.DisplayName, selected))
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
