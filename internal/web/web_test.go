// internal/web/web_test.go
//
// End-to-end handler tests: real router, real registry on a temp
// file, sqlmock-backed tenant stores, and a stub identity provider.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/guildlogs/panel/internal/authz"
	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/directory"
	"github.com/guildlogs/panel/internal/logs"
	"github.com/guildlogs/panel/internal/registry"
	"github.com/guildlogs/panel/internal/requestinfo"
	"github.com/guildlogs/panel/internal/session"
	"github.com/guildlogs/panel/internal/status"
)

// fakeSessions backs both the log service and the status checker.
type fakeSessions struct {
	conn *connman.Conn
	err  error
}

func (f *fakeSessions) Session(ctx context.Context, tenantID string) (*connman.Conn, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

// fakeIdentity is a canned identity provider.  Notifications land on a
// buffered channel; notification posts run detached, so tests must
// receive rather than inspect state.
type fakeIdentity struct {
	user     *directory.User
	notified chan string
}

func (f *fakeIdentity) AuthURL(state string) string { return "https://idp.example.com/auth?state=" + state }
func (f *fakeIdentity) Exchange(ctx context.Context, code string) (*directory.User, error) {
	return f.user, nil
}
func (f *fakeIdentity) GuildIcon(ctx context.Context, guildID string) string { return "" }
func (f *fakeIdentity) Notify(ctx context.Context, channelID string, e directory.Embed) {
	select {
	case f.notified <- channelID:
	default:
	}
}

// fakeDirectory backs the authorization engine.
type fakeDirectory struct {
	roles map[string][]string
}

func (f *fakeDirectory) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	return f.roles[guildID+"|"+userID], nil
}

// fakeEngines records invalidations.
type fakeEngines struct{ invalidated []string }

func (f *fakeEngines) Invalidate(tenantID string) { f.invalidated = append(f.invalidated, tenantID) }

type harness struct {
	srv      *Server
	router   http.Handler
	mock     sqlmock.Sqlmock
	sessions *session.Manager
	engines  *fakeEngines
	identity *fakeIdentity
	store    *fakeSessions
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "servers_config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Create(registry.Tenant{
		ID:          "alpha",
		DisplayName: "Alpha",
		DatabaseURI: "mysql://u:p@db1.example.com/alpha_logs",
		Identity: registry.IdentityLink{
			GuildID:     "g-alpha",
			StaffRoleID: "staff-a",
			AdminRoleID: "admin-a",
			ChannelID:   "ch-alpha",
		},
		API: registry.APICredentials{
			Tokens:     []string{"tok-alpha"},
			AllowedIPs: []string{"127.0.0.1"},
		},
	}); err != nil {
		t.Fatal(err)
	}

	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })
	store := &fakeSessions{conn: &connman.Conn{
		DB:      sqlx.NewDb(raw, "sqlmock"),
		Dialect: connman.DialectMySQL,
		Tenant:  "alpha",
	}}

	dir := &fakeDirectory{roles: map[string][]string{
		"g-alpha|staff-user": {"staff-a"},
		"g-alpha|admin-user": {"admin-a"},
	}}

	sessions := session.New("test-secret", time.Hour, false)
	engines := &fakeEngines{}
	identity := &fakeIdentity{
		user:     &directory.User{ID: "staff-user", Username: "staffer"},
		notified: make(chan string, 8),
	}

	srv := New(Deps{
		Registry: reg,
		Logs:     logs.NewService(reg, store),
		Status:   status.New(store),
		Authz:    authz.New(reg, dir, []string{"boss"}),
		Sessions: sessions,
		Identity: identity,
		Engines:  engines,
		Resolver: requestinfo.NewResolver(nil),
		SiteName: "Logs Panel",
	})

	return &harness{
		srv:      srv,
		router:   srv.Router(),
		mock:     mock,
		sessions: sessions,
		engines:  engines,
		identity: identity,
		store:    store,
	}
}

// do runs one request through the router.
func (h *harness) do(t *testing.T, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.RemoteAddr = "127.0.0.1:5000"
	if mutate != nil {
		mutate(r)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, r)
	return w
}

// withSession attaches a minted session cookie.
func (h *harness) withSession(t *testing.T, userID string, perms session.Permissions) func(*http.Request) {
	t.Helper()
	token, err := h.sessions.Issue(session.Claims{UserID: userID, Username: userID, Permissions: perms})
	if err != nil {
		t.Fatal(err)
	}
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	}
}

// awaitNotify blocks until a channel notification arrives.
func (h *harness) awaitNotify(t *testing.T) string {
	t.Helper()
	select {
	case ch := <-h.identity.notified:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no channel notification arrived")
		return ""
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestIngestHappyPath(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vlogs")).
		WillReturnResult(sqlmock.NewResult(7, 1))
	h.mock.ExpectCommit()

	w := h.do(t, http.MethodPost, "/api/logs/alpha",
		`{"type":"ban","message":"user banned","name":"Mod"}`,
		func(r *http.Request) { r.Header.Set("Authorization", "tok-alpha") })

	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true || body["id"].(float64) != 7 || body["server"] != "alpha" {
		t.Fatalf("body = %v", body)
	}
}

func TestIngestTenantFromBody(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vlogs")).
		WillReturnResult(sqlmock.NewResult(8, 1))
	h.mock.ExpectCommit()

	w := h.do(t, http.MethodPost, "/api/logs",
		`{"server_id":"alpha","type":"kick"}`,
		func(r *http.Request) { r.Header.Set("Authorization", "tok-alpha") })
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestIngestRejections(t *testing.T) {
	h := newHarness(t)

	// Wrong token.
	w := h.do(t, http.MethodPost, "/api/logs/alpha", `{"type":"ban"}`,
		func(r *http.Request) { r.Header.Set("Authorization", "wrong") })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: code = %d", w.Code)
	}

	// Unknown tenant.
	w = h.do(t, http.MethodPost, "/api/logs/ghost", `{"type":"ban"}`,
		func(r *http.Request) { r.Header.Set("Authorization", "tok-alpha") })
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown tenant: code = %d", w.Code)
	}

	// No JSON body.
	w = h.do(t, http.MethodPost, "/api/logs/alpha", "",
		func(r *http.Request) { r.Header.Set("Authorization", "tok-alpha") })
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty body: code = %d", w.Code)
	}

	// Disallowed source IP.
	w = h.do(t, http.MethodPost, "/api/logs/alpha", `{"type":"ban"}`, func(r *http.Request) {
		r.Header.Set("Authorization", "tok-alpha")
		r.RemoteAddr = "203.0.113.50:4000"
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad IP: code = %d", w.Code)
	}
}

func TestServersStatusIsPublic(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM vlogs LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	w := h.do(t, http.MethodGet, "/api/servers/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	body := decode(t, w)
	if body["panel"] != "Logs Panel" {
		t.Fatalf("panel = %v", body["panel"])
	}
	servers := body["servers"].(map[string]any)
	alpha := servers["alpha"].(map[string]any)
	if alpha["status"] != "online" || alpha["name"] != "Alpha" {
		t.Fatalf("alpha = %v", alpha)
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/dashboard/alpha", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestDashboardDeniedNamesTenant(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/dashboard/alpha", "",
		h.withSession(t, "stranger", session.Permissions{AccessibleServers: []string{}}))
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d", w.Code)
	}
	body := decode(t, w)
	if !strings.Contains(body["error"].(string), "Alpha") {
		t.Fatalf("error does not name the tenant: %v", body["error"])
	}
}

func TestDashboardHappyPath(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vlogs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, data, date FROM vlogs")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "data", "date"}).
			AddRow(1, "ban", []byte(`{"logs_message":"banned","name":"Mod","logs_title":"Logs"}`), time.Now()))
	h.mock.ExpectQuery(regexp.QuoteMeta("SELECT type, COUNT(*) AS n FROM vlogs GROUP BY type")).
		WillReturnRows(sqlmock.NewRows([]string{"type", "n"}).AddRow("ban", 1))

	w := h.do(t, http.MethodGet, "/api/dashboard/alpha?page=1&type=ban", "",
		h.withSession(t, "staff-user", session.Permissions{AccessibleServers: []string{"alpha"}}))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["maintenance"] != false || body["total"].(float64) != 1 {
		t.Fatalf("body = %v", body)
	}
	rows := body["logs"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["message"] != "banned" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDashboardMaintenanceState(t *testing.T) {
	h := newHarness(t)
	h.store.err = connman.ErrTenantUnavailable

	w := h.do(t, http.MethodGet, "/api/dashboard/alpha", "",
		h.withSession(t, "boss", session.Permissions{IsSuperAdmin: true, AccessibleServers: "all"}))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if body := decode(t, w); body["maintenance"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestAdminCreateRequiresSuperAdmin(t *testing.T) {
	h := newHarness(t)

	payload := `{"id":"beta","display_name":"Beta","database_uri":"mysql://u:p@db2.example.com/beta_logs"}`

	w := h.do(t, http.MethodPost, "/api/admin/servers/", payload,
		h.withSession(t, "staff-user", session.Permissions{AccessibleServers: []string{"alpha"}}))
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin create: code = %d", w.Code)
	}

	w = h.do(t, http.MethodPost, "/api/admin/servers/", payload,
		h.withSession(t, "boss", session.Permissions{IsSuperAdmin: true, AccessibleServers: "all"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: code = %d, body = %s", w.Code, w.Body.String())
	}

	// Duplicate id conflicts.
	w = h.do(t, http.MethodPost, "/api/admin/servers/", payload,
		h.withSession(t, "boss", session.Permissions{IsSuperAdmin: true, AccessibleServers: "all"}))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: code = %d", w.Code)
	}
}

func TestAdminUpdateInvalidates(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPut, "/api/admin/servers/alpha",
		`{"display_name":"Alpha Prime"}`,
		h.withSession(t, "admin-user", session.Permissions{
			AccessibleServers: []string{"alpha"},
			AdminServers:      []string{"alpha"},
		}))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}

	if len(h.engines.invalidated) != 1 || h.engines.invalidated[0] != "alpha" {
		t.Fatalf("invalidated = %v", h.engines.invalidated)
	}
	if got, _ := h.srv.reg.Tenant("alpha"); got.DisplayName != "Alpha Prime" {
		t.Fatalf("DisplayName = %q", got.DisplayName)
	}
}

func TestAdminDelete(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodDelete, "/api/admin/servers/alpha", "",
		h.withSession(t, "boss", session.Permissions{IsSuperAdmin: true, AccessibleServers: "all"}))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if h.srv.reg.Exists("alpha") {
		t.Fatal("tenant still present after delete")
	}

	w = h.do(t, http.MethodDelete, "/api/admin/servers/alpha", "",
		h.withSession(t, "boss", session.Permissions{IsSuperAdmin: true, AccessibleServers: "all"}))
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: code = %d", w.Code)
	}
}

func TestLoginSetsStateAndRedirects(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/login?server=alpha", "", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("code = %d", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.HasPrefix(loc, "https://idp.example.com/auth?state=") || !strings.HasSuffix(loc, ".alpha") {
		t.Fatalf("Location = %q", loc)
	}

	var state *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			state = c
		}
	}
	if state == nil || state.Value == "" {
		t.Fatal("state cookie not set")
	}
}

func TestCallbackMintsSession(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/callback?code=abc&state=nonce1.alpha", "",
		func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: stateCookie, Value: "nonce1"})
		})
	if w.Code != http.StatusFound {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "/dashboard/alpha" {
		t.Fatalf("Location = %q", got)
	}

	var tok string
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			tok = c.Value
		}
	}
	claims, err := h.sessions.Verify(tok)
	if err != nil {
		t.Fatalf("minted cookie invalid: %v", err)
	}
	if claims.UserID != "staff-user" || !claims.Permissions.CanView("alpha") {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestCallbackNotifiesLoginChannel(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/callback?code=abc&state=nonce1.alpha", "",
		func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: stateCookie, Value: "nonce1"})
		})
	if w.Code != http.StatusFound {
		t.Fatalf("code = %d", w.Code)
	}
	if ch := h.awaitNotify(t); ch != "ch-alpha" {
		t.Fatalf("notified channel = %q, want ch-alpha", ch)
	}
}

func TestAdminMutationsNotify(t *testing.T) {
	h := newHarness(t)
	super := h.withSession(t, "boss", session.Permissions{IsSuperAdmin: true, AccessibleServers: "all"})

	w := h.do(t, http.MethodPost, "/api/admin/servers/",
		`{"id":"beta","display_name":"Beta","database_uri":"mysql://u:p@db2.example.com/beta_logs",`+
			`"discord":{"guild_id":"g-beta","channel_id":"ch-beta"}}`, super)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: code = %d, body = %s", w.Code, w.Body.String())
	}
	if ch := h.awaitNotify(t); ch != "ch-beta" {
		t.Fatalf("create notified %q, want ch-beta", ch)
	}

	w = h.do(t, http.MethodPut, "/api/admin/servers/alpha", `{"description":"renovated"}`, super)
	if w.Code != http.StatusOK {
		t.Fatalf("update: code = %d, body = %s", w.Code, w.Body.String())
	}
	if ch := h.awaitNotify(t); ch != "ch-alpha" {
		t.Fatalf("update notified %q, want ch-alpha", ch)
	}

	// Delete posts to the channel the record carried before it went.
	w = h.do(t, http.MethodDelete, "/api/admin/servers/alpha", "", super)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: code = %d, body = %s", w.Code, w.Body.String())
	}
	if ch := h.awaitNotify(t); ch != "ch-alpha" {
		t.Fatalf("delete notified %q, want ch-alpha", ch)
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/callback?code=abc&state=forged.alpha", "",
		func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: stateCookie, Value: "nonce1"})
		})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/logout", "", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("code = %d", w.Code)
	}
	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("session cookie not cleared")
	}
}
