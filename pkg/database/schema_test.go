package database

import (
	"testing"
)

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	validator := NewSchemaValidator(db)

	if err := validator.ValidateTablesExist(); err == nil {
		t.Error("ValidateTablesExist should fail on empty database")
	}
	if err := validator.ValidateIndexes(); err == nil {
		t.Error("ValidateIndexes should fail on empty database")
	}
}

func TestSchemaValidator_AfterMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := NewMigrationManager(db, "").ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}

	if err := NewSchemaValidator(db).Validate(); err != nil {
		t.Errorf("Validate should pass on migrated database: %v", err)
	}

	// Constraint checks must not leave rows behind
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM presentation_sessions").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected no leftover rows, got %d", count)
	}
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`
		CREATE TABLE presentation_sessions (
			id TEXT PRIMARY KEY,
			scope_kind TEXT, scope_id TEXT,
			current_module_id TEXT, current_step_id TEXT,
			instructor_id TEXT,
			current_slide TEXT,
			total_slides INTEGER, is_active INTEGER,
			session_name TEXT, created_at DATETIME, updated_at DATETIME
		);
	`)
	if err != nil {
		t.Fatal(err)
	}

	if err := NewSchemaValidator(db).ValidateTableStructure(); err == nil {
		t.Error("ValidateTableStructure should reject TEXT current_slide")
	}
}

func TestSchemaValidator_DetectsMissingCheck(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`
		CREATE TABLE presentation_sessions (
			id TEXT PRIMARY KEY, scope_kind TEXT NOT NULL, scope_id TEXT NOT NULL,
			current_module_id TEXT, current_step_id TEXT, instructor_id TEXT NOT NULL,
			current_slide INTEGER NOT NULL DEFAULT 1, total_slides INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1, session_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL
		);
		CREATE TABLE session_participants (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES presentation_sessions(id),
			student_id TEXT NOT NULL, is_synced INTEGER NOT NULL DEFAULT 1,
			last_seen_slide INTEGER NOT NULL DEFAULT 1,
			joined_at DATETIME NOT NULL, last_activity DATETIME NOT NULL
		);
	`)
	if err != nil {
		t.Fatal(err)
	}

	if err := NewSchemaValidator(db).ValidateConstraints(); err == nil {
		t.Error("ValidateConstraints should report the missing slide range check")
	}
}
