// Package strategystore defines the persistence port for Strategy Memory.
package strategystore

import (
	"context"

	"github.com/Strob0t/agentmode/internal/domain/strategy"
)

// Store persists strategy patterns. Patterns are never deleted.
type Store interface {
	// ListPatterns returns candidate patterns, optionally restricted to an
	// action type. An empty type returns all patterns.
	ListPatterns(ctx context.Context, actionType string) ([]strategy.Pattern, error)

	// GetPattern returns the pattern with the given key or domain.ErrNotFound.
	GetPattern(ctx context.Context, key string) (*strategy.Pattern, error)

	// UpsertPattern writes p if the stored version equals expectedVersion
	// (0 meaning "must not exist") and increments p.Version on success.
	// A mismatch returns domain.ErrConflict.
	UpsertPattern(ctx context.Context, p *strategy.Pattern, expectedVersion int) error

	// Close releases the store's resources.
	Close() error
}
