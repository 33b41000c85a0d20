package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

var _ interfaces.SessionStore = (*Manager)(nil)

// Manager implements the SessionStore interface
// ARCHITECTURAL DISCOVERY: Writes go to the database first, the fresh row is
// re-read, and only then is the change published. The active index only sees
// this process's writes between listings, so it backs GetStats alone;
// listings and coordinators always read the store.
type Manager struct {
	dbManager interfaces.DatabaseManager
	feed      interfaces.Feed

	activeSessions map[string]*types.PresentationSession // sessionID -> last known row
	mu             sync.RWMutex

	now func() time.Time
}

// NewManager creates a new session manager
func NewManager(dbManager interfaces.DatabaseManager, feed interfaces.Feed) *Manager {
	return &Manager{
		dbManager:      dbManager,
		feed:           feed,
		activeSessions: make(map[string]*types.PresentationSession),
		now:            time.Now,
	}
}

// LoadActiveSessions fills the active index from the database
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.ListActiveSessions(ctx)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d active presentation sessions", len(sessions))
	return nil
}

// CreateSession persists a new active session and publishes its insert
func (m *Manager) CreateSession(ctx context.Context, session *types.PresentationSession) (*types.PresentationSession, error) {
	s := session.Clone()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := m.now()
	s.IsActive = true
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := s.Validate(); err != nil {
		return nil, err
	}

	if err := m.dbManager.CreateSession(ctx, s); err != nil {
		return nil, classify("create session", err)
	}

	fresh, err := m.dbManager.GetSession(ctx, s.ID)
	if err != nil {
		return nil, classify("read created session", err)
	}

	m.track(fresh)
	m.publishSession(ctx, types.ChangeInsert, fresh)
	log.Printf("Presentation session created: id=%s scope=%s instructor=%s", fresh.ID, fresh.Scope(), fresh.InstructorID)
	return fresh, nil
}

// GetSession reads a session row
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.PresentationSession, error) {
	s, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, classify("get session", err)
	}
	return s, nil
}

// FindActiveSession returns the active session for scope
func (m *Manager) FindActiveSession(ctx context.Context, scope types.Scope) (*types.PresentationSession, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	s, err := m.dbManager.FindActiveSession(ctx, scope)
	if err != nil {
		return nil, classify("find active session", err)
	}
	return s, nil
}

// UpdateSlide writes a new instructor position and publishes the row
func (m *Manager) UpdateSlide(ctx context.Context, sessionID string, slide int) (*types.PresentationSession, error) {
	if err := m.dbManager.UpdateSessionSlide(ctx, sessionID, slide, m.now()); err != nil {
		return nil, classify("update slide", err)
	}

	fresh, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, classify("read updated session", err)
	}

	m.track(fresh)
	m.publishSession(ctx, types.ChangeUpdate, fresh)
	return fresh, nil
}

// SwitchUnit changes a course session's unit and publishes the session row
// followed by every force-resynced participant
func (m *Manager) SwitchUnit(ctx context.Context, sessionID string, sw types.UnitSwitch) (*types.PresentationSession, error) {
	if err := m.dbManager.SwitchSessionUnit(ctx, sessionID, sw, m.now()); err != nil {
		return nil, classify("switch unit", err)
	}

	fresh, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, classify("read switched session", err)
	}

	m.track(fresh)
	m.publishSession(ctx, types.ChangeUpdate, fresh)

	participants, err := m.dbManager.ListParticipants(ctx, sessionID)
	if err != nil {
		log.Printf("Failed to list participants after unit switch on %s: %v", sessionID, err)
		return fresh, nil
	}
	for _, p := range participants {
		m.publishParticipant(ctx, types.ChangeUpdate, p)
	}

	log.Printf("Presentation session %s switched unit: module=%s step=%s total=%d",
		sessionID, types.StringValue(fresh.CurrentModuleID), types.StringValue(fresh.CurrentStepID), fresh.TotalSlides)
	return fresh, nil
}

// EndSession deactivates a session and publishes the final row
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	if err := m.dbManager.EndSession(ctx, sessionID, m.now()); err != nil {
		return classify("end session", err)
	}

	fresh, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		return classify("read ended session", err)
	}

	m.track(fresh)
	m.publishSession(ctx, types.ChangeUpdate, fresh)
	log.Printf("Presentation session ended: id=%s", sessionID)
	return nil
}

// JoinParticipant creates or refreshes a student's membership as synced
func (m *Manager) JoinParticipant(ctx context.Context, sessionID, studentID string, lastSeenSlide int) (*types.SessionParticipant, error) {
	if !types.IsValidUserID(studentID) {
		return nil, types.ErrInvalidUserID
	}

	kind := types.ChangeUpdate
	if _, err := m.dbManager.GetParticipant(ctx, sessionID, studentID); errors.Is(err, types.ErrNotFound) {
		kind = types.ChangeInsert
	} else if err != nil {
		return nil, classify("read participant", err)
	}

	now := m.now()
	err := m.dbManager.UpsertParticipant(ctx, &types.SessionParticipant{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		StudentID:     studentID,
		IsSynced:      true,
		LastSeenSlide: lastSeenSlide,
		JoinedAt:      now,
		LastActivity:  now,
	})
	if err != nil {
		return nil, classify("join participant", err)
	}

	fresh, err := m.dbManager.GetParticipant(ctx, sessionID, studentID)
	if err != nil {
		return nil, classify("read joined participant", err)
	}

	m.publishParticipant(ctx, kind, fresh)
	return fresh, nil
}

// UpdateParticipant writes a student's sync flag and position
func (m *Manager) UpdateParticipant(ctx context.Context, sessionID, studentID string, isSynced bool, lastSeenSlide int) error {
	if err := m.dbManager.UpdateParticipant(ctx, sessionID, studentID, isSynced, lastSeenSlide, m.now()); err != nil {
		return classify("update participant", err)
	}

	fresh, err := m.dbManager.GetParticipant(ctx, sessionID, studentID)
	if err != nil {
		return classify("read updated participant", err)
	}

	m.publishParticipant(ctx, types.ChangeUpdate, fresh)
	return nil
}

// RemoveParticipant deletes a student's membership; a missing row is not an error
func (m *Manager) RemoveParticipant(ctx context.Context, sessionID, studentID string) error {
	existing, err := m.dbManager.GetParticipant(ctx, sessionID, studentID)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return classify("read participant", err)
	}

	if err := m.dbManager.DeleteParticipant(ctx, sessionID, studentID); err != nil {
		return classify("remove participant", err)
	}

	m.publishParticipant(ctx, types.ChangeDelete, existing)
	return nil
}

// ListParticipants returns a session's participants
func (m *Manager) ListParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error) {
	participants, err := m.dbManager.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, classify("list participants", err)
	}
	return participants, nil
}

// ListActiveSessions reads every active session from the store, including
// those written by other servers sharing it, and replaces the index
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.PresentationSession, error) {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return nil, classify("list active sessions", err)
	}

	index := make(map[string]*types.PresentationSession, len(sessions))
	for _, s := range sessions {
		index[s.ID] = s.Clone()
	}
	m.mu.Lock()
	m.activeSessions = index
	m.mu.Unlock()
	return sessions, nil
}

// GetStats returns session manager statistics as of the last listing or
// local write
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	course := 0
	for _, s := range m.activeSessions {
		if s.IsCourseLevel() {
			course++
		}
	}
	return map[string]interface{}{
		"active_sessions": len(m.activeSessions),
		"course_sessions": course,
	}
}

func (m *Manager) track(s *types.PresentationSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.IsActive {
		m.activeSessions[s.ID] = s.Clone()
	} else {
		delete(m.activeSessions, s.ID)
	}
}

// publishSession and publishParticipant never fail the write they follow
// FUNCTIONAL DISCOVERY: Subscribers that miss an event converge on their
// next refetch, so a lost notification is logged rather than surfaced
func (m *Manager) publishSession(ctx context.Context, kind string, s *types.PresentationSession) {
	m.publish(ctx, &types.ChangeEvent{
		Topic:     types.SessionTopic(s.ID),
		Table:     types.TableSessions,
		Kind:      kind,
		SessionID: s.ID,
		Session:   s.Clone(),
		Timestamp: s.UpdatedAt,
	})
}

func (m *Manager) publishParticipant(ctx context.Context, kind string, p *types.SessionParticipant) {
	m.publish(ctx, &types.ChangeEvent{
		Topic:       types.SessionTopic(p.SessionID),
		Table:       types.TableParticipants,
		Kind:        kind,
		SessionID:   p.SessionID,
		Participant: p.Clone(),
		Timestamp:   p.LastActivity,
	})
}

func (m *Manager) publish(ctx context.Context, event *types.ChangeEvent) {
	if m.feed == nil {
		return
	}
	if err := m.feed.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s %s on %s: %v", event.Table, event.Kind, event.Topic, err)
	}
}

// classify passes domain errors through and wraps everything else as a store failure
func classify(op string, err error) error {
	switch {
	case errors.Is(err, types.ErrSessionConflict),
		errors.Is(err, types.ErrSessionNotFound),
		errors.Is(err, types.ErrInvalidSlide),
		errors.Is(err, types.ErrInvalidTotalSlides),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return types.StoreError(op, err)
}
