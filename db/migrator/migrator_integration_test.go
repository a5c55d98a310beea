//go:build integration

package migrator_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/stl-trade/db/migrator"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestMigrator_ApplyAll(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)

	m := migrator.New(pool, "../migrations", nil)
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = 'orders'
		)`).Scan(&exists)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !exists {
		t.Fatal("expected orders table to exist")
	}

	// Second run is a no-op.
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("re-applying migrations: %v", err)
	}
	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	if len(applied) == 0 || applied[0] != "001_create_orders.sql" {
		t.Errorf("unexpected applied list %v", applied)
	}
}

func TestMigrator_DetectsModifiedFile(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "001_widgets.sql")
	if err := os.WriteFile(path, []byte("CREATE TABLE widgets (id INT);"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := migrator.New(pool, dir, nil)
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := os.WriteFile(path, []byte("CREATE TABLE widgets (id BIGINT);"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := m.ApplyAll(ctx)
	if err == nil || !strings.Contains(err.Error(), "has been modified") {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}
