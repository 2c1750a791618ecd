// Package inmem provides a process-local Strategy Memory store for tests
// and ephemeral runs.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
)

// Store implements strategystore.Store in memory.
type Store struct {
	mu       sync.RWMutex
	patterns map[string]strategy.Pattern
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{patterns: make(map[string]strategy.Pattern)}
}

// ListPatterns returns copies of all patterns, most recently used first.
func (s *Store) ListPatterns(_ context.Context, actionType string) ([]strategy.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]strategy.Pattern, 0, len(s.patterns))
	for k := range s.patterns {
		p := s.patterns[k]
		if actionType != "" && string(p.ActionType) != actionType {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

// GetPattern returns a copy of the pattern stored under key.
func (s *Store) GetPattern(_ context.Context, key string) (*strategy.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[key]
	if !ok {
		return nil, fmt.Errorf("get pattern %q: %w", key, domain.ErrNotFound)
	}
	return &p, nil
}

// UpsertPattern stores p when the current version equals expectedVersion.
func (s *Store) UpsertPattern(_ context.Context, p *strategy.Pattern, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.patterns[p.Key]
	switch {
	case expectedVersion == 0 && exists:
		return fmt.Errorf("insert pattern %q: %w", p.Key, domain.ErrConflict)
	case expectedVersion != 0 && (!exists || cur.Version != expectedVersion):
		return fmt.Errorf("update pattern %q at version %d: %w", p.Key, expectedVersion, domain.ErrConflict)
	}

	if exists {
		p.ID = cur.ID
		p.CreatedAt = cur.CreatedAt
	} else if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Version = expectedVersion + 1
	s.patterns[p.Key] = *p
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
