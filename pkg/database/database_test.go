package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/slidesync.db" {
		t.Errorf("Expected DatabasePath './data/slidesync.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.MigrationsPath != "" {
		t.Errorf("Expected embedded migrations by default, got %s", config.MigrationsPath)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "empty database path", mutate: func(c *Config) { c.DatabasePath = "" }, wantErr: true},
		{name: "zero max connections", mutate: func(c *Config) { c.MaxConnections = 0 }, wantErr: true},
		{name: "zero lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = 0 }, wantErr: true},
		{name: "zero idle time", mutate: func(c *Config) { c.ConnMaxIdleTime = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationManager_EmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	mgr := NewMigrationManager(db, "")
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatalf("AppliedVersions failed: %v", err)
	}
	if len(versions) != 3 || versions[0] != "001" || versions[1] != "002" || versions[2] != "003" {
		t.Errorf("Expected versions [001 002 003], got %v", versions)
	}

	// Re-applying is a no-op
	if err := mgr.ApplyMigrations(); err != nil {
		t.Errorf("Second ApplyMigrations should not fail: %v", err)
	}
}

func TestMigrationManager_DirectoryOverride(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "002_second.sql"), []byte(`CREATE TABLE second (id TEXT PRIMARY KEY);`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "001_first.sql"), []byte(`CREATE TABLE first (id TEXT PRIMARY KEY);`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(`ignored`), 0644); err != nil {
		t.Fatal(err)
	}

	mgr := NewMigrationManager(db, dir)
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}

	for _, table := range []string{"first", "second"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("Table %s should have been created", table)
		}
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "001_broken.sql"), []byte(`CREATE TABLE broken (id TEXT PRIMARY KEY); NOT SQL;`), 0644); err != nil {
		t.Fatal(err)
	}

	mgr := NewMigrationManager(db, dir)
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("ApplyMigrations should fail on invalid SQL")
	}

	versions, err := mgr.AppliedVersions()
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 0 {
		t.Errorf("Failed migration should not be recorded, got %v", versions)
	}
}

func TestSchema_ActiveScopeLookupUsesIndex(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatal(err)
	}

	rows, err := db.Query(`EXPLAIN QUERY PLAN SELECT id FROM presentation_sessions WHERE scope_kind = 'module' AND scope_id = 'm1' AND is_active = 1`)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rows.Close() }()

	found := false
	for rows.Next() {
		var id, parent, notUsed int
		var detail string
		if err := rows.Scan(&id, &parent, &notUsed, &detail); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(detail, "idx_sessions_scope_active") {
			found = true
		}
	}
	if !found {
		t.Error("Active scope lookup should use idx_sessions_scope_active")
	}
}
