package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/agentmode/internal/adapter/postgres"
	"github.com/Strob0t/agentmode/internal/port/strategystore"
	"github.com/Strob0t/agentmode/internal/port/strategystore/storetest"
)

// setupStore creates a pgxpool connection, runs all migrations, empties the
// pattern table and returns a ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) strategystore.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "TRUNCATE strategy_patterns"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return postgres.NewStore(pool)
}

func TestStore_Compliance(t *testing.T) {
	storetest.RunComplianceTests(t, setupStore)
}

func TestMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if v < 1 {
		t.Fatalf("expected version >= 1, got %d", v)
	}
}
