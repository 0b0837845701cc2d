// internal/logs/service.go
//
// Log service: authenticated writes and cached reads.
//
// Context
// -------
// Write is the ingestion path: tenant and token validation, field
// sanitation, timestamp defaulting, a transactional insert, and cache
// invalidation.  Page and TypeCounts are the read paths, each behind
// its own TTL cache.  Page folds page and pageSize into the canonical
// filter key so two pages of the same filter set never collide.
package logs

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/guildlogs/panel/internal/cache"
	"github.com/guildlogs/panel/internal/connman"
	"github.com/guildlogs/panel/internal/metrics"
	"github.com/guildlogs/panel/internal/registry"
)

const (
	pageTTL   = 60 * time.Second
	countsTTL = 120 * time.Second

	// DefaultPageSize is the log page size when the caller names none.
	DefaultPageSize = 10
	MaxPageSize     = 100
)

var (
	// ErrInvalidTenantID reports a tenant id that fails the format rule.
	ErrInvalidTenantID = errors.New("invalid tenant id")

	// ErrInvalidToken reports a write with no matching API token.
	ErrInvalidToken = errors.New("invalid API token")

	// ErrMissingType reports a write without the required type field.
	ErrMissingType = errors.New("missing type field")

	// ErrWriteFailed is the generic persistence failure surfaced to
	// callers; the underlying cause is logged, never returned.
	ErrWriteFailed = errors.New("log write failed")
)

// Sessions yields tenant database connections.  *connman.Manager
// satisfies it.
type Sessions interface {
	Session(ctx context.Context, tenantID string) (*connman.Conn, error)
}

// TenantSource yields tenant records for token checks.
type TenantSource interface {
	Tenant(id string) (registry.Tenant, error)
}

// PageResult is one cached page of logs.
type PageResult struct {
	Records []Record `json:"logs"`
	Total   int      `json:"total"`
}

// Service is the log read/write facade.
type Service struct {
	reg   TenantSource
	conns Sessions

	pages  *cache.TenantStore[PageResult]
	counts *cache.Store[map[string]int]

	now func() time.Time
}

// NewService builds a Service.
func NewService(reg TenantSource, conns Sessions) *Service {
	return &Service{
		reg:    reg,
		conns:  conns,
		pages:  cache.NewTenantStore[PageResult](pageTTL),
		counts: cache.NewStore[map[string]int](countsTTL),
		now:    time.Now,
	}
}

// ValidToken reports whether token matches one of the tenant's API
// tokens.  Every candidate is compared in constant time.
func ValidToken(t registry.Tenant, token string) bool {
	ok := false
	for _, candidate := range t.API.Tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			ok = true
		}
	}
	return ok
}

// Write validates, sanitizes, and persists one log entry, returning
// the new record id.
func (s *Service) Write(ctx context.Context, tenantID, token string, e Entry) (int64, error) {
	if !registry.ValidID(tenantID) {
		return 0, ErrInvalidTenantID
	}
	t, err := s.reg.Tenant(tenantID)
	if err != nil {
		return 0, err
	}
	if !ValidToken(t, token) {
		return 0, ErrInvalidToken
	}
	if e.Type == "" {
		return 0, ErrMissingType
	}

	payload := Payload{
		Message:  Sanitize(e.Message, MaxMessageLen),
		Name:     Sanitize(e.Name, MaxNameLen),
		Title:    Sanitize(e.Title, MaxTitleLen),
		IDUnique: Sanitize(e.IDUnique, MaxIDUniqueLen),
	}
	if payload.Title == "" {
		payload.Title = "Logs"
	}
	if e.TargetName != "" {
		payload.TargetName = Sanitize(e.TargetName, MaxNameLen)
	}
	if e.TargetID != "" {
		payload.TargetID = Sanitize(e.TargetID, MaxIDUniqueLen)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	conn, err := s.conns.Session(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	id, err := s.insert(ctx, conn, Sanitize(e.Type, MaxTypeLen), data, parseDate(e.Date, s.now()))
	if err != nil {
		metrics.LogWriteErrorsTotal.Inc()
		zap.S().Errorw("log write failed", "tenant", tenantID, "error", err)
		return 0, ErrWriteFailed
	}

	metrics.LogWriteTotal.Inc()
	s.InvalidateTenant(tenantID)
	return id, nil
}

// insert persists one record inside a transaction.
func (s *Service) insert(ctx context.Context, conn *connman.Conn, typ string, data []byte, date time.Time) (int64, error) {
	tx, err := conn.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO vlogs (type, data, date) VALUES (?, ?, ?)",
		typ, string(data), date)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Page returns one filtered page of a tenant's logs, newest first,
// serving from cache inside the TTL window.
func (s *Service) Page(ctx context.Context, tenantID string, page int, f Filters, pageSize int) (PageResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}

	// page and pageSize ride along in the filter map so each page is
	// its own cache entry.
	key := f.Map()
	key["page"] = strconv.Itoa(page)
	key["per"] = strconv.Itoa(pageSize)

	if res, ok := s.pages.Get(tenantID, key); ok {
		metrics.CacheHitTotal.WithLabelValues("log_page").Inc()
		return res, nil
	}
	metrics.CacheMissTotal.WithLabelValues("log_page").Inc()

	conn, err := s.conns.Session(ctx, tenantID)
	if err != nil {
		return PageResult{}, err
	}
	records, total, err := queryPage(ctx, conn, page, f, pageSize)
	if err != nil {
		return PageResult{}, err
	}

	res := PageResult{Records: records, Total: total}
	s.pages.Set(tenantID, key, res)
	return res, nil
}

// TypeCounts returns the per-type record counts for a tenant.
func (s *Service) TypeCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	if counts, ok := s.counts.Get(tenantID); ok {
		metrics.CacheHitTotal.WithLabelValues("log_counts").Inc()
		return counts, nil
	}
	metrics.CacheMissTotal.WithLabelValues("log_counts").Inc()

	conn, err := s.conns.Session(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	counts, err := queryTypeCounts(ctx, conn)
	if err != nil {
		return nil, err
	}
	s.counts.Set(tenantID, counts)
	return counts, nil
}

// InvalidateTenant drops every cached view derived from a tenant.
// Called after each write and after tenant config mutations.
func (s *Service) InvalidateTenant(tenantID string) {
	s.pages.InvalidateTenant(tenantID)
	s.counts.Invalidate(tenantID)
}

// Sweep evicts expired entries from both caches.
func (s *Service) Sweep() int {
	return s.pages.Sweep() + s.counts.Sweep()
}
