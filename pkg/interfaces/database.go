package interfaces

import (
	"context"
	"time"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// DatabaseManager handles all persistence operations against the durable store
// ARCHITECTURAL DISCOVERY: Single interface for session, participant and catalog
// tables enables consistent transaction handling and connection management
type DatabaseManager interface {
	// CreateSession inserts a session row unless the scope already has an
	// active one, in which case it returns *types.ConflictError
	CreateSession(ctx context.Context, session *types.PresentationSession) error

	// GetSession reads a session row by ID, historical rows included
	GetSession(ctx context.Context, sessionID string) (*types.PresentationSession, error)

	// FindActiveSession returns the active session for a scope or types.ErrSessionNotFound
	FindActiveSession(ctx context.Context, scope types.Scope) (*types.PresentationSession, error)

	// ListActiveSessions returns all active sessions, newest first
	ListActiveSessions(ctx context.Context) ([]*types.PresentationSession, error)

	// UpdateSessionSlide writes current_slide and updated_at on an active row
	UpdateSessionSlide(ctx context.Context, sessionID string, slide int, at time.Time) error

	// SwitchSessionUnit changes the current content unit and force-resyncs
	// every participant in one transaction
	SwitchSessionUnit(ctx context.Context, sessionID string, sw types.UnitSwitch, at time.Time) error

	// EndSession sets is_active=false
	EndSession(ctx context.Context, sessionID string, at time.Time) error

	// Participant operations
	UpsertParticipant(ctx context.Context, participant *types.SessionParticipant) error
	UpdateParticipant(ctx context.Context, sessionID, studentID string, isSynced bool, lastSeenSlide int, at time.Time) error
	DeleteParticipant(ctx context.Context, sessionID, studentID string) error
	GetParticipant(ctx context.Context, sessionID, studentID string) (*types.SessionParticipant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error)

	CatalogReader

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

// CatalogReader answers read-only questions about classes, units and people
type CatalogReader interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetClass(ctx context.Context, classID string) (*types.Class, error)
	GetModule(ctx context.Context, moduleID string) (*types.Module, error)
	GetStep(ctx context.Context, stepID string) (*types.Step, error)
	GetEnrollment(ctx context.Context, classID, studentID string) (*types.Enrollment, error)
}
