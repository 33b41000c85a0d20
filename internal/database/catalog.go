package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Catalog rows are owned by the course platform; these reads feed the
// authorization check and the upserts exist for seeding and tests.

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	return fmt.Errorf("failed to query %s: %w", what, err)
}

// GetUser reads a catalog user
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var u types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, display_name, is_super_admin FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.DisplayName, &u.IsSuperAdmin)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// GetClass reads a catalog class
func (m *Manager) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	var c types.Class
	err := m.db.QueryRowContext(ctx,
		`SELECT id, title, instructor_id FROM classes WHERE id = ?`, classID,
	).Scan(&c.ID, &c.Title, &c.InstructorID)
	if err != nil {
		return nil, notFound(err, "class")
	}
	return &c, nil
}

// GetModule reads a catalog module
func (m *Manager) GetModule(ctx context.Context, moduleID string) (*types.Module, error) {
	var mod types.Module
	err := m.db.QueryRowContext(ctx,
		`SELECT id, class_id, title FROM modules WHERE id = ?`, moduleID,
	).Scan(&mod.ID, &mod.ClassID, &mod.Title)
	if err != nil {
		return nil, notFound(err, "module")
	}
	return &mod, nil
}

// GetStep reads a catalog step
func (m *Manager) GetStep(ctx context.Context, stepID string) (*types.Step, error) {
	var s types.Step
	err := m.db.QueryRowContext(ctx,
		`SELECT id, module_id, title FROM steps WHERE id = ?`, stepID,
	).Scan(&s.ID, &s.ModuleID, &s.Title)
	if err != nil {
		return nil, notFound(err, "step")
	}
	return &s, nil
}

// GetEnrollment reads one enrollment row
func (m *Manager) GetEnrollment(ctx context.Context, classID, studentID string) (*types.Enrollment, error) {
	var e types.Enrollment
	err := m.db.QueryRowContext(ctx,
		`SELECT class_id, student_id, status FROM enrollments WHERE class_id = ? AND student_id = ?`,
		classID, studentID,
	).Scan(&e.ClassID, &e.StudentID, &e.Status)
	if err != nil {
		return nil, notFound(err, "enrollment")
	}
	return &e, nil
}

// UpsertUser creates or replaces a catalog user
func (m *Manager) UpsertUser(ctx context.Context, u *types.User) error {
	return m.upsert(ctx, "user",
		`INSERT INTO users (id, display_name, is_super_admin) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, is_super_admin = excluded.is_super_admin`,
		u.ID, u.DisplayName, u.IsSuperAdmin)
}

// UpsertClass creates or replaces a catalog class
func (m *Manager) UpsertClass(ctx context.Context, c *types.Class) error {
	return m.upsert(ctx, "class",
		`INSERT INTO classes (id, title, instructor_id) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title, instructor_id = excluded.instructor_id`,
		c.ID, c.Title, c.InstructorID)
}

// UpsertModule creates or replaces a catalog module
func (m *Manager) UpsertModule(ctx context.Context, mod *types.Module) error {
	return m.upsert(ctx, "module",
		`INSERT INTO modules (id, class_id, title) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET class_id = excluded.class_id, title = excluded.title`,
		mod.ID, mod.ClassID, mod.Title)
}

// UpsertStep creates or replaces a catalog step
func (m *Manager) UpsertStep(ctx context.Context, s *types.Step) error {
	return m.upsert(ctx, "step",
		`INSERT INTO steps (id, module_id, title) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET module_id = excluded.module_id, title = excluded.title`,
		s.ID, s.ModuleID, s.Title)
}

// UpsertEnrollment creates or replaces an enrollment
func (m *Manager) UpsertEnrollment(ctx context.Context, e *types.Enrollment) error {
	return m.upsert(ctx, "enrollment",
		`INSERT INTO enrollments (class_id, student_id, status) VALUES (?, ?, ?)
		 ON CONFLICT (class_id, student_id) DO UPDATE SET status = excluded.status`,
		e.ClassID, e.StudentID, e.Status)
}

func (m *Manager) upsert(ctx context.Context, what, query string, args ...interface{}) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", what, err)
		}
		return nil
	})
}
