package migrator

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("CREATE TABLE t (id INT);"))
	b := Checksum([]byte("CREATE TABLE t (id BIGINT);"))
	if a == b {
		t.Error("different content must have different checksums")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256, got %q", a)
	}
	if a != Checksum([]byte("CREATE TABLE t (id INT);")) {
		t.Error("checksum must be deterministic")
	}
}

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.sql", "001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	m := New(nil, dir, nil)
	files, err := m.migrationFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(files, []string{"001_a.sql", "002_b.sql"}) {
		t.Errorf("unexpected files %v", files)
	}
}

func TestRepositoryMigrationsPresent(t *testing.T) {
	m := New(nil, "../migrations", nil)
	files, err := m.migrationFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) < 2 || files[0] != "001_create_orders.sql" || files[1] != "002_add_broadcast_tx_hash.sql" {
		t.Errorf("unexpected migration files %v", files)
	}
}
