package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"presentation_sessions": "Live session state",
		"session_participants":  "Per-student sync state",
		"users":                 "Catalog users",
		"classes":               "Catalog classes",
		"modules":               "Catalog modules",
		"steps":                 "Catalog steps",
		"enrollments":           "Class enrollment",
		"schema_migrations":     "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column types match the row types
// TECHNICAL DISCOVERY: go-sqlite3 maps DATETIME columns to time.Time and
// INTEGER to bool on scan, so declared types matter
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":                "TEXT",
		"scope_kind":        "TEXT",
		"scope_id":          "TEXT",
		"current_module_id": "TEXT",
		"current_step_id":   "TEXT",
		"instructor_id":     "TEXT",
		"current_slide":     "INTEGER",
		"total_slides":      "INTEGER",
		"is_active":         "INTEGER",
		"session_name":      "TEXT",
		"unit_version":      "INTEGER",
		"created_at":        "DATETIME",
		"updated_at":        "DATETIME",
	}
	if err := v.validateColumns("presentation_sessions", sessionColumns); err != nil {
		return fmt.Errorf("presentation_sessions table structure invalid: %w", err)
	}

	participantColumns := map[string]string{
		"id":              "TEXT",
		"session_id":      "TEXT",
		"student_id":      "TEXT",
		"is_synced":       "INTEGER",
		"last_seen_slide": "INTEGER",
		"joined_at":       "DATETIME",
		"last_activity":   "DATETIME",
	}
	if err := v.validateColumns("session_participants", participantColumns); err != nil {
		return fmt.Errorf("session_participants table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all lookup indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_scope_active": "Active session per scope lookup",
		"idx_sessions_instructor":   "Instructor session queries",
		"idx_participants_session":  "Participant listing",
		"idx_modules_class":         "Module to class resolution",
		"idx_steps_module":          "Step to module resolution",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies check and foreign key constraints are enforced
// inside a rolled-back transaction
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO session_participants (id, session_id, student_id, joined_at, last_activity)
		VALUES ('schema-check', 'nonexistent', 'student', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return errors.New("foreign key constraint not enforced: session_participants.session_id")
	}

	_, err = tx.Exec(`
		INSERT INTO presentation_sessions (id, scope_kind, scope_id, instructor_id, current_slide, total_slides, created_at, updated_at)
		VALUES ('schema-check', 'module', 'm', 'i', 5, 3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return errors.New("check constraint not enforced: current_slide <= total_slides")
	}

	_, err = tx.Exec(`
		INSERT INTO presentation_sessions (id, scope_kind, scope_id, instructor_id, created_at, updated_at)
		VALUES ('schema-check', 'lesson', 'm', 'i', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return errors.New("check constraint not enforced: scope_kind")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
