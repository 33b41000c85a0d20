package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

const sessionColumns = `id, scope_kind, scope_id, current_module_id, current_step_id, instructor_id,
	current_slide, total_slides, is_active, session_name, unit_version, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.PresentationSession, error) {
	var s types.PresentationSession
	var moduleID, stepID sql.NullString

	err := row.Scan(
		&s.ID,
		&s.ScopeKind,
		&s.ScopeID,
		&moduleID,
		&stepID,
		&s.InstructorID,
		&s.CurrentSlide,
		&s.TotalSlides,
		&s.IsActive,
		&s.SessionName,
		&s.UnitVersion,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// FUNCTIONAL DISCOVERY: NULL unit columns mean "no unit selected yet"
	if moduleID.Valid {
		s.CurrentModuleID = &moduleID.String
	}
	if stepID.Valid {
		s.CurrentStepID = &stepID.String
	}
	return &s, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// CreateSession inserts a session unless its scope already has an active one
func (m *Manager) CreateSession(ctx context.Context, session *types.PresentationSession) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanSession(tx.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM presentation_sessions
			 WHERE scope_kind = ? AND scope_id = ? AND is_active = 1
			 ORDER BY created_at DESC LIMIT 1`,
			session.ScopeKind, session.ScopeID,
		))
		switch {
		case err == nil:
			return &types.ConflictError{
				Existing:       existing,
				SameInstructor: existing.InstructorID == session.InstructorID,
			}
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check active session: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO presentation_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.ScopeKind,
			session.ScopeID,
			nullString(session.CurrentModuleID),
			nullString(session.CurrentStepID),
			session.InstructorID,
			session.CurrentSlide,
			session.TotalSlides,
			session.IsActive,
			session.SessionName,
			session.UnitVersion,
			session.CreatedAt.UTC(),
			session.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID, active or not
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.PresentationSession, error) {
	s, err := scanSession(m.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM presentation_sessions WHERE id = ?`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

// FindActiveSession returns the active session for a scope
func (m *Manager) FindActiveSession(ctx context.Context, scope types.Scope) (*types.PresentationSession, error) {
	s, err := scanSession(m.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM presentation_sessions
		 WHERE scope_kind = ? AND scope_id = ? AND is_active = 1
		 ORDER BY created_at DESC LIMIT 1`,
		scope.Kind, scope.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return s, nil
}

// ListActiveSessions returns all active sessions, newest first
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.PresentationSession, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM presentation_sessions
		 WHERE is_active = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.PresentationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// activeTotal reads total_slides for an active session inside tx
func activeTotal(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var total int
	err := tx.QueryRowContext(ctx,
		`SELECT total_slides FROM presentation_sessions WHERE id = ? AND is_active = 1`,
		sessionID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, types.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session: %w", err)
	}
	return total, nil
}

// UpdateSessionSlide writes current_slide on an active session
func (m *Manager) UpdateSessionSlide(ctx context.Context, sessionID string, slide int, at time.Time) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		total, err := activeTotal(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !types.ValidSlide(slide, total) {
			return types.ErrInvalidSlide
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE presentation_sessions SET current_slide = ?, updated_at = ? WHERE id = ?`,
			slide, at.UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to update slide: %w", err)
		}
		return nil
	})
}

// SwitchSessionUnit changes the content unit and force-resyncs all participants.
// unit_version is bumped even when the unit is unchanged, so re-selecting the
// current unit is still visible to subscribers.
// FUNCTIONAL DISCOVERY: Both writes share one transaction so no reader sees
// the new unit with stale participant positions
func (m *Manager) SwitchSessionUnit(ctx context.Context, sessionID string, sw types.UnitSwitch, at time.Time) error {
	if err := sw.Validate(); err != nil {
		return err
	}

	return m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := activeTotal(ctx, tx, sessionID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE presentation_sessions
			SET current_module_id = ?, current_step_id = ?, total_slides = ?, current_slide = ?,
			    unit_version = unit_version + 1, updated_at = ?
			WHERE id = ?`,
			nullString(sw.ModuleID), nullString(sw.StepID), sw.TotalSlides, sw.StartSlide, at.UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to switch unit: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE session_participants
			SET last_seen_slide = ?, is_synced = 1, last_activity = ?
			WHERE session_id = ?`,
			sw.StartSlide, at.UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to reset participants: %w", err)
		}
		return nil
	})
}

// EndSession deactivates a session; ending an ended session is a no-op
func (m *Manager) EndSession(ctx context.Context, sessionID string, at time.Time) error {
	return m.inTx(ctx, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_active FROM presentation_sessions WHERE id = ?`, sessionID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		if !active {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE presentation_sessions SET is_active = 0, updated_at = ? WHERE id = ?`,
			at.UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		return nil
	})
}
