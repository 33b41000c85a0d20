package interfaces

import (
	"context"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// SessionStore is the coordinator's view of the durable session tables
// ARCHITECTURAL DISCOVERY: Every mutation is persisted before the matching
// change event is published, so feed subscribers never observe unwritten state
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.PresentationSession) (*types.PresentationSession, error)
	GetSession(ctx context.Context, sessionID string) (*types.PresentationSession, error)
	FindActiveSession(ctx context.Context, scope types.Scope) (*types.PresentationSession, error)
	UpdateSlide(ctx context.Context, sessionID string, slide int) (*types.PresentationSession, error)
	SwitchUnit(ctx context.Context, sessionID string, sw types.UnitSwitch) (*types.PresentationSession, error)
	EndSession(ctx context.Context, sessionID string) error

	JoinParticipant(ctx context.Context, sessionID, studentID string, lastSeenSlide int) (*types.SessionParticipant, error)
	UpdateParticipant(ctx context.Context, sessionID, studentID string, isSynced bool, lastSeenSlide int) error
	RemoveParticipant(ctx context.Context, sessionID, studentID string) error
	ListParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error)
}

// Authorizer answers "may this user control or join this scope"
// FUNCTIONAL DISCOVERY: Methods return nil or types.ErrUnauthorized so callers
// can propagate the decision without translating booleans
type Authorizer interface {
	// CanControlScope allows session creation for the class instructor or a super-admin
	CanControlScope(ctx context.Context, userID string, scope types.Scope) error

	// CanControlSession allows slide control for the row's instructor or a super-admin
	CanControlSession(ctx context.Context, userID string, session *types.PresentationSession) error

	// CanJoinSession requires an active enrollment in the session's owning class
	CanJoinSession(ctx context.Context, userID string, session *types.PresentationSession) error

	// ClassOf resolves the owning class of a scope
	ClassOf(ctx context.Context, scope types.Scope) (string, error)

	// ModuleOfStep resolves the module a step belongs to
	ModuleOfStep(ctx context.Context, stepID string) (string, error)
}
