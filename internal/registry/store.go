// internal/registry/store.go
//
// Load/persist access to the tenant document.
//
// Context
// -------
// The Store owns the servers_config.json document: it reads it once at
// construction, serves typed lookups from memory, and rewrites the
// whole file atomically (temp file in the same directory, then rename)
// on every create, update, or delete.  There is no cross-process
// coordination; a single panel process is the only writer, and the
// last writer wins.
//
// Mutations report which tenant changed so cmd/web can fan the change
// out to the connection manager and the TTL caches.  The Store itself
// performs no caching beyond holding the parsed document.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Store is the process-wide tenant registry.  Safe for concurrent use.
type Store struct {
	path string

	mu  sync.RWMutex
	doc Document
}

var validate = validator.New()

// Open reads the document at path.  A missing file yields an empty
// registry rather than an error, matching first-boot behavior; a
// malformed file is an error, because silently serving zero tenants
// after an operator typo hides the problem.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		zap.S().Warnw("tenant registry missing, starting empty", "path", path)
		s.doc = Document{Servers: map[string]*Tenant{}}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry read %s: %w", path, err)
	}

	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("registry parse %s: %w", path, err)
	}
	if s.doc.Servers == nil {
		s.doc.Servers = map[string]*Tenant{}
	}
	for id, t := range s.doc.Servers {
		t.ID = id
		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("registry tenant %q: %w", id, err)
		}
	}

	zap.S().Infow("tenant registry loaded", "path", path, "tenants", len(s.doc.Servers))
	return s, nil
}

// Reload re-reads the document from disk, replacing the in-memory copy.
func (s *Store) Reload() error {
	fresh, err := Open(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = fresh.doc
	s.mu.Unlock()
	return nil
}

// Tenant returns a copy of the record for id, or ErrNotFound.
func (s *Store) Tenant(id string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.doc.Servers[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return *t, nil
}

// Exists reports whether id is a configured tenant.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.doc.Servers[id]
	return ok
}

// IDs returns every configured tenant id, in no particular order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.doc.Servers))
	for id := range s.doc.Servers {
		ids = append(ids, id)
	}
	return ids
}

// All returns a copy of every tenant record keyed by id.
func (s *Store) All() map[string]Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Tenant, len(s.doc.Servers))
	for id, t := range s.doc.Servers {
		out[id] = *t
	}
	return out
}

// Global returns the document's global section.
func (s *Store) Global() Global {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Global
}

// Create adds a new tenant, applying defaults for unset fields, and
// persists the document.  The id must be well-formed and unused.
func (s *Store) Create(t Tenant) error {
	if !ValidID(t.ID) {
		return fmt.Errorf("create tenant: invalid id %q", t.ID)
	}
	t.CreateDefaults()
	if err := validate.Struct(&t); err != nil {
		return fmt.Errorf("create tenant %q: %w", t.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Servers[t.ID]; ok {
		return fmt.Errorf("create tenant %q: %w", t.ID, ErrExists)
	}
	s.doc.Servers[t.ID] = &t
	if err := s.persistLocked(); err != nil {
		delete(s.doc.Servers, t.ID)
		return err
	}
	zap.S().Infow("tenant created", "tenant", t.ID)
	return nil
}

// Update merges the non-nil fields of upd into the record for id and
// persists the document.
func (s *Store) Update(id string, upd TenantUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.Servers[id]
	if !ok {
		return ErrNotFound
	}

	prev := *t
	if upd.DisplayName != nil {
		t.DisplayName = *upd.DisplayName
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Logo != nil {
		t.Logo = *upd.Logo
	}
	if upd.DatabaseURI != nil {
		t.DatabaseURI = *upd.DatabaseURI
	}
	if upd.OwnerID != nil {
		t.OwnerID = *upd.OwnerID
	}
	if upd.Identity != nil {
		t.Identity = *upd.Identity
	}
	if upd.API != nil {
		t.API = *upd.API
	}

	if err := validate.Struct(t); err != nil {
		*t = prev
		return fmt.Errorf("update tenant %q: %w", id, err)
	}
	if err := s.persistLocked(); err != nil {
		*t = prev
		return err
	}
	zap.S().Infow("tenant updated", "tenant", id)
	return nil
}

// Delete removes the record for id and persists the document.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.doc.Servers[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.doc.Servers, id)
	if err := s.persistLocked(); err != nil {
		s.doc.Servers[id] = t
		return err
	}
	zap.S().Infow("tenant deleted", "tenant", id)
	return nil
}

// persistLocked writes the document atomically.  Caller holds s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".servers_config-*.json")
	if err != nil {
		return fmt.Errorf("registry temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry rename: %w", err)
	}
	return nil
}
