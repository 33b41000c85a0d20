package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

const participantColumns = `id, session_id, student_id, is_synced, last_seen_slide, joined_at, last_activity`

func scanParticipant(row rowScanner) (*types.SessionParticipant, error) {
	var p types.SessionParticipant
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.StudentID,
		&p.IsSynced,
		&p.LastSeenSlide,
		&p.JoinedAt,
		&p.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertParticipant inserts a participant or refreshes an existing
// (session_id, student_id) row; the original ID and joined_at are kept
func (m *Manager) UpsertParticipant(ctx context.Context, p *types.SessionParticipant) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_participants (`+participantColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, student_id) DO UPDATE SET
				is_synced = excluded.is_synced,
				last_seen_slide = excluded.last_seen_slide,
				last_activity = excluded.last_activity`,
			p.ID,
			p.SessionID,
			p.StudentID,
			p.IsSynced,
			p.LastSeenSlide,
			p.JoinedAt.UTC(),
			p.LastActivity.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert participant: %w", err)
		}
		return nil
	})
}

// UpdateParticipant writes a student's sync flag and position
func (m *Manager) UpdateParticipant(ctx context.Context, sessionID, studentID string, isSynced bool, lastSeenSlide int, at time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE session_participants
			SET is_synced = ?, last_seen_slide = ?, last_activity = ?
			WHERE session_id = ? AND student_id = ?`,
			isSynced, lastSeenSlide, at.UTC(), sessionID, studentID)
		if err != nil {
			return fmt.Errorf("failed to update participant: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return types.ErrNotFound
		}
		return nil
	})
}

// DeleteParticipant removes a student's membership row; missing rows are ignored
func (m *Manager) DeleteParticipant(ctx context.Context, sessionID, studentID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM session_participants WHERE session_id = ? AND student_id = ?`,
			sessionID, studentID)
		if err != nil {
			return fmt.Errorf("failed to delete participant: %w", err)
		}
		return nil
	})
}

// GetParticipant reads one membership row
func (m *Manager) GetParticipant(ctx context.Context, sessionID, studentID string) (*types.SessionParticipant, error) {
	p, err := scanParticipant(m.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM session_participants WHERE session_id = ? AND student_id = ?`,
		sessionID, studentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns a session's participants in join order
func (m *Manager) ListParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM session_participants WHERE session_id = ? ORDER BY joined_at ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var participants []*types.SessionParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return participants, nil
}
