// Package memory provides in-memory implementations of the outbound ports:
// the tool catalog, sessions, credentials, and an audit sink. These back
// the gateway's OSS tier; durable stores plug in behind the same ports.
package memory

import (
	"context"
	"sync"

	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// CatalogStore holds tool definitions in memory. Snapshot returns copies so
// routing calls see an immutable catalog even while registrations land.
type CatalogStore struct {
	mu   sync.RWMutex
	defs map[string]*tool.Definition
}

// NewCatalogStore returns an empty catalog.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{defs: make(map[string]*tool.Definition)}
}

// Snapshot implements the catalog port.
func (s *CatalogStore) Snapshot(_ context.Context) ([]*tool.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*tool.Definition, 0, len(s.defs))
	for _, def := range s.defs {
		cp := *def
		out = append(out, &cp)
	}
	return out, nil
}

// Get implements the catalog port.
func (s *CatalogStore) Get(_ context.Context, id string) (*tool.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.defs[id]
	if !ok {
		return nil, nil
	}
	cp := *def
	return &cp, nil
}

// Put implements the catalog port.
func (s *CatalogStore) Put(_ context.Context, def *tool.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *def
	s.defs[def.ID] = &cp
	return nil
}

// Delete implements the catalog port.
func (s *CatalogStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
	return nil
}

// Len returns the number of registered definitions.
func (s *CatalogStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.defs)
}

// Compile-time interface verification.
var _ outbound.CatalogStore = (*CatalogStore)(nil)
