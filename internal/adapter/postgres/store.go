package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
)

// maxCandidates bounds how many patterns one query loads for ranking.
const maxCandidates = 2000

// Store implements strategystore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const patternColumns = `id, key, problem_description, action_type, success_count, failure_count,
	success_rate, last_error, last_used, created_at, version`

func scanPattern(row scannable) (strategy.Pattern, error) {
	var p strategy.Pattern
	var actionType string
	err := row.Scan(&p.ID, &p.Key, &p.ProblemDescription, &actionType, &p.SuccessCount,
		&p.FailureCount, &p.SuccessRate, &p.LastError, &p.LastUsed, &p.CreatedAt, &p.Version)
	p.ActionType = action.Type(actionType)
	return p, err
}

// ListPatterns returns the most recently used patterns, optionally filtered by action type.
func (s *Store) ListPatterns(ctx context.Context, actionType string) ([]strategy.Pattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+patternColumns+` FROM strategy_patterns
		 WHERE ($1 = '' OR action_type = $1)
		 ORDER BY last_used DESC LIMIT $2`, actionType, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var result []strategy.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetPattern returns the pattern stored under key.
func (s *Store) GetPattern(ctx context.Context, key string) (*strategy.Pattern, error) {
	p, err := scanPattern(s.pool.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM strategy_patterns WHERE key = $1`, key))
	if err != nil {
		return nil, notFoundWrap(err, "get pattern %q", key)
	}
	return &p, nil
}

// UpsertPattern inserts (expectedVersion 0) or updates a pattern guarded by
// its version. A lost race returns domain.ErrConflict.
func (s *Store) UpsertPattern(ctx context.Context, p *strategy.Pattern, expectedVersion int) error {
	if expectedVersion == 0 {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		err := s.pool.QueryRow(ctx,
			`INSERT INTO strategy_patterns (`+patternColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
			 ON CONFLICT (key) DO NOTHING
			 RETURNING version`,
			p.ID, p.Key, p.ProblemDescription, string(p.ActionType), p.SuccessCount, p.FailureCount,
			p.SuccessRate, p.LastError, p.LastUsed, p.CreatedAt,
		).Scan(&p.Version)
		if err != nil {
			return conflictWrap(err, "insert pattern %q", p.Key)
		}
		return nil
	}

	err := s.pool.QueryRow(ctx,
		`UPDATE strategy_patterns
		 SET problem_description = $2, success_count = $3, failure_count = $4, success_rate = $5,
		     last_error = $6, last_used = $7, version = version + 1
		 WHERE key = $1 AND version = $8
		 RETURNING version`,
		p.Key, p.ProblemDescription, p.SuccessCount, p.FailureCount, p.SuccessRate,
		p.LastError, p.LastUsed, expectedVersion,
	).Scan(&p.Version)
	if err != nil {
		return conflictWrap(err, "update pattern %q", p.Key)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
