package logs

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/registry"
)

// fakeReg serves one tenant with a known token list.
type fakeReg struct {
	tenants map[string]registry.Tenant
}

func (f *fakeReg) Tenant(id string) (registry.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return registry.Tenant{}, registry.ErrNotFound
	}
	return t, nil
}

// fakeSessions hands back a fixed connection.
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

func testService(t *testing.T, dialect connman.Dialect) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { raw.Close() })

	reg := &fakeReg{tenants: map[string]registry.Tenant{
		"alpha": {
			ID:          "alpha",
			DisplayName: "Alpha",
			API:         registry.APICredentials{Tokens: []string{"tok-1", "tok-2"}},
		},
	}}
	conn := &connman.Conn{DB: sqlx.NewDb(raw, "sqlmock"), Dialect: dialect, Tenant: "alpha"}
	svc := NewService(reg, &fakeSessions{conn: conn})
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return svc, mock
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in, want string
		max      int
	}{
		{"plain", "plain", 100},
		{"keep\nnew\tlines\r", "keep\nnew\tlines\r", 100},
		{"bell\x07null\x00esc\x1b", "bellnullesc", 100},
		{"truncated", "trunc", 5},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in, tc.max); got != tc.want {
			t.Errorf("Sanitize(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestSanitizeDoesNotSplitRunes(t *testing.T) {
	got := Sanitize("éé", 3) // each é is two bytes
	if got != "é" {
		t.Fatalf("Sanitize = %q, want single rune", got)
	}
}

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	got := parseDate("2026-07-15 08:30:00", now)
	want := time.Date(2026, 7, 15, 8, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parseDate = %v, want %v", got, want)
	}

	// Extra characters past position 19 are ignored.
	if got := parseDate("2026-07-15 08:30:00.123456", now); !got.Equal(want) {
		t.Fatalf("parseDate with fraction = %v, want %v", got, want)
	}

	// Unparsable input falls back silently.
	if got := parseDate("next tuesday", now); !got.Equal(now) {
		t.Fatalf("parseDate fallback = %v, want now", got)
	}
	if got := parseDate("", now); !got.Equal(now) {
		t.Fatalf("parseDate empty = %v, want now", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`100%_\`); got != `100\%\_\\` {
		t.Fatalf("escapeLike = %q", got)
	}
	long := strings.Repeat("a", 600)
	if got := escapeLike(long); len(got) != maxFilterLen {
		t.Fatalf("len = %d, want %d", len(got), maxFilterLen)
	}
}

func TestWhereClauseMySQL(t *testing.T) {
	where, args := whereClause(connman.DialectMySQL, Filters{
		Name: "50%off", Type: "ban", DateStart: "2026-01-01", DateEnd: "junk",
	})
	if !strings.Contains(where, "JSON_EXTRACT(data, '$.name') LIKE ?") {
		t.Fatalf("where = %q", where)
	}
	if !strings.Contains(where, "type = ?") || !strings.Contains(where, "date >= ?") {
		t.Fatalf("where = %q", where)
	}
	if strings.Contains(where, "date <= ?") {
		t.Fatal("unparsable end date was not ignored")
	}
	if args[0] != `%50\%off%` {
		t.Fatalf("args[0] = %v", args[0])
	}
}

func TestWhereClauseSQLite(t *testing.T) {
	where, args := whereClause(connman.DialectSQLite, Filters{Message: "kick"})
	if strings.Contains(where, "JSON_EXTRACT") {
		t.Fatal("SQLite strategy must not use JSON_EXTRACT")
	}
	if args[0] != `%"logs_message":"%kick%"%` {
		t.Fatalf("args[0] = %v", args[0])
	}
}

func TestWhereClauseEmpty(t *testing.T) {
	where, args := whereClause(connman.DialectMySQL, Filters{})
	if where != "" || args != nil {
		t.Fatalf("where = %q args = %v", where, args)
	}
}

func TestWriteHappyPath(t *testing.T) {
	svc, mock := testService(t, connman.DialectMySQL)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO vlogs (type, data, date) VALUES (?, ?, ?)")).
		WithArgs("ban", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	id, err := svc.Write(context.Background(), "alpha", "tok-2", Entry{
		Type:    "ban",
		Message: "user banned",
		Name:    "Mod",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteRejectsBadToken(t *testing.T) {
	svc, _ := testService(t, connman.DialectMySQL)
	if _, err := svc.Write(context.Background(), "alpha", "wrong", Entry{Type: "ban"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestWriteRejectsBadTenant(t *testing.T) {
	svc, _ := testService(t, connman.DialectMySQL)

	if _, err := svc.Write(context.Background(), "../etc", "tok-1", Entry{Type: "x"}); !errors.Is(err, ErrInvalidTenantID) {
		t.Fatalf("err = %v, want ErrInvalidTenantID", err)
	}
	if _, err := svc.Write(context.Background(), "ghost", "tok-1", Entry{Type: "x"}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWriteRequiresType(t *testing.T) {
	svc, _ := testService(t, connman.DialectMySQL)
	if _, err := svc.Write(context.Background(), "alpha", "tok-1", Entry{Message: "no type"}); !errors.Is(err, ErrMissingType) {
		t.Fatalf("err = %v, want ErrMissingType", err)
	}
}

func TestWriteRollsBackAndHidesCause(t *testing.T) {
	svc, mock := testService(t, connman.DialectMySQL)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO vlogs").
		WillReturnError(errors.New("Error 1114: table is full"))
	mock.ExpectRollback()

	_, err := svc.Write(context.Background(), "alpha", "tok-1", Entry{Type: "ban"})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("err = %v, want ErrWriteFailed", err)
	}
	if strings.Contains(err.Error(), "1114") {
		t.Fatal("internal detail leaked to the caller")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func expectPageQueries(mock sqlmock.Sqlmock, total int) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM vlogs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(total))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, type, data, date FROM vlogs")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "data", "date"}).
			AddRow(2, "ban", []byte(`{"logs_message":"m2","name":"n","logs_title":"t"}`), time.Now()).
			AddRow(1, "kick", []byte(`{"logs_message":"m1","name":"n","logs_title":"t"}`), time.Now()))
}

func TestPageCachesPerPage(t *testing.T) {
	svc, mock := testService(t, connman.DialectMySQL)
	ctx := context.Background()

	expectPageQueries(mock, 12)
	res, err := svc.Page(ctx, "alpha", 1, Filters{}, 10)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if res.Total != 12 || len(res.Records) != 2 {
		t.Fatalf("res = %+v", res)
	}
	if res.Records[0].Payload().Message != "m2" {
		t.Fatalf("payload = %+v", res.Records[0].Payload())
	}

	// Same page again: served from cache, no new queries expected.
	if _, err := svc.Page(ctx, "alpha", 1, Filters{}, 10); err != nil {
		t.Fatalf("Page (cached): %v", err)
	}

	// A different page misses the cache.
	expectPageQueries(mock, 12)
	if _, err := svc.Page(ctx, "alpha", 2, Filters{}, 10); err != nil {
		t.Fatalf("Page 2: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteInvalidatesCachedPages(t *testing.T) {
	svc, mock := testService(t, connman.DialectMySQL)
	ctx := context.Background()

	expectPageQueries(mock, 2)
	if _, err := svc.Page(ctx, "alpha", 1, Filters{}, 10); err != nil {
		t.Fatal(err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO vlogs").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()
	if _, err := svc.Write(ctx, "alpha", "tok-1", Entry{Type: "ban"}); err != nil {
		t.Fatal(err)
	}

	// The cached page must be gone; a fresh query runs.
	expectPageQueries(mock, 3)
	if _, err := svc.Page(ctx, "alpha", 1, Filters{}, 10); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTypeCountsCached(t *testing.T) {
	svc, mock := testService(t, connman.DialectMySQL)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT type, COUNT(*) AS n FROM vlogs GROUP BY type")).
		WillReturnRows(sqlmock.NewRows([]string{"type", "n"}).
			AddRow("ban", 5).
			AddRow("kick", 2))

	counts, err := svc.TypeCounts(ctx, "alpha")
	if err != nil {
		t.Fatalf("TypeCounts: %v", err)
	}
	if counts["ban"] != 5 || counts["kick"] != 2 {
		t.Fatalf("counts = %v", counts)
	}

	// Cached on the second call.
	if _, err := svc.TypeCounts(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestValidTokenConstantShape(t *testing.T) {
	tenant := registry.Tenant{API: registry.APICredentials{Tokens: []string{"tok-1", "tok-2"}}}
	if !ValidToken(tenant, "tok-2") {
		t.Fatal("valid token rejected")
	}
	if ValidToken(tenant, "") || ValidToken(tenant, "tok") {
		t.Fatal("invalid token accepted")
	}
	if ValidToken(registry.Tenant{}, "anything") {
		t.Fatal("empty token list accepted a token")
	}
}
