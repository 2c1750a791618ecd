// Package sqlite provides the embedded, file-backed Strategy Memory store.
// It is the default backend: patterns survive restarts without a server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Register the pure-Go sqlite driver

	"github.com/Strob0t/agentmode/internal/domain"
	"github.com/Strob0t/agentmode/internal/domain/action"
	"github.com/Strob0t/agentmode/internal/domain/strategy"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategy_patterns (
    id                  TEXT PRIMARY KEY,
    key                 TEXT NOT NULL UNIQUE,
    problem_description TEXT NOT NULL,
    action_type         TEXT NOT NULL,
    success_count       INTEGER NOT NULL DEFAULT 0,
    failure_count       INTEGER NOT NULL DEFAULT 0,
    success_rate        REAL NOT NULL DEFAULT 0,
    last_error          TEXT NOT NULL DEFAULT '',
    last_used           INTEGER NOT NULL,
    created_at          INTEGER NOT NULL,
    version             INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_strategy_patterns_action_type ON strategy_patterns (action_type, last_used DESC);
`

const patternColumns = `id, key, problem_description, action_type, success_count, failure_count,
	success_rate, last_error, last_used, created_at, version`

// maxCandidates bounds how many patterns one query loads for ranking.
const maxCandidates = 2000

// Store implements strategystore.Store on a single SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection keeps the version checks atomic.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

type scannable interface {
	Scan(dest ...any) error
}

func scanPattern(row scannable) (strategy.Pattern, error) {
	var (
		p          strategy.Pattern
		actionType string
		lastUsed   int64
		createdAt  int64
	)
	err := row.Scan(&p.ID, &p.Key, &p.ProblemDescription, &actionType, &p.SuccessCount,
		&p.FailureCount, &p.SuccessRate, &p.LastError, &lastUsed, &createdAt, &p.Version)
	p.ActionType = action.Type(actionType)
	p.LastUsed = time.Unix(0, lastUsed).UTC()
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	return p, err
}

// ListPatterns returns the most recently used patterns, optionally filtered by action type.
func (s *Store) ListPatterns(ctx context.Context, actionType string) ([]strategy.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM strategy_patterns
		 WHERE (?1 = '' OR action_type = ?1)
		 ORDER BY last_used DESC LIMIT ?2`, actionType, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	p, err := scanPattern(s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM strategy_patterns WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get pattern %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %q: %w", key, err)
	}
	return &p, nil
}

// UpsertPattern inserts (expectedVersion 0) or updates a pattern guarded by
// its version. A lost race returns domain.ErrConflict.
func (s *Store) UpsertPattern(ctx context.Context, p *strategy.Pattern, expectedVersion int) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO strategy_patterns (`+patternColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT (key) DO NOTHING`,
			p.ID, p.Key, p.ProblemDescription, string(p.ActionType), p.SuccessCount, p.FailureCount,
			p.SuccessRate, p.LastError, p.LastUsed.UnixNano(), p.CreatedAt.UnixNano())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE strategy_patterns
			 SET problem_description = ?, success_count = ?, failure_count = ?, success_rate = ?,
			     last_error = ?, last_used = ?, version = version + 1
			 WHERE key = ? AND version = ?`,
			p.ProblemDescription, p.SuccessCount, p.FailureCount, p.SuccessRate,
			p.LastError, p.LastUsed.UnixNano(), p.Key, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("upsert pattern %q: %w", p.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert pattern %q: %w", p.Key, err)
	}
	if n != 1 {
		return fmt.Errorf("upsert pattern %q at version %d: %w", p.Key, expectedVersion, domain.ErrConflict)
	}
	p.Version = expectedVersion + 1
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
