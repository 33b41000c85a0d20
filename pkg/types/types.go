package types

import (
	"fmt"
	"time"
)

// ScopeKind identifies what a presentation session is bound to
const (
	ScopeModule = "module"
	ScopeClass  = "class"
)

// Feed table names carried on every ChangeEvent
const (
	TableSessions     = "presentation_sessions"
	TableParticipants = "session_participants"
)

// Change kinds delivered by the feed
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Enrollment status values
const (
	EnrollmentActive   = "active"
	EnrollmentInactive = "inactive"
	EnrollmentPending  = "pending"
)

// Scope is the owning unit of a session: a single module or a whole class
type Scope struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ModuleScope builds a unit-level scope
func ModuleScope(moduleID string) Scope {
	return Scope{Kind: ScopeModule, ID: moduleID}
}

// ClassScope builds a course-level scope
func ClassScope(classID string) Scope {
	return Scope{Kind: ScopeClass, ID: classID}
}

func (s Scope) String() string {
	return s.Kind + ":" + s.ID
}

// PresentationSession is one slide-position broadcast
// ARCHITECTURAL DISCOVERY: IsActive=false is terminal, a historical row is never reactivated
type PresentationSession struct {
	ID              string    `json:"id" db:"id"`
	ScopeKind       string    `json:"scope_kind" db:"scope_kind"`
	ScopeID         string    `json:"scope_id" db:"scope_id"`
	CurrentModuleID *string   `json:"current_module_id,omitempty" db:"current_module_id"`
	CurrentStepID   *string   `json:"current_step_id,omitempty" db:"current_step_id"`
	InstructorID    string    `json:"instructor_id" db:"instructor_id"`
	CurrentSlide    int       `json:"current_slide" db:"current_slide"`
	TotalSlides     int       `json:"total_slides" db:"total_slides"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	SessionName     string    `json:"session_name" db:"session_name"`
	UnitVersion     int       `json:"unit_version" db:"unit_version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Scope returns the session's owning scope
func (s *PresentationSession) Scope() Scope {
	return Scope{Kind: s.ScopeKind, ID: s.ScopeID}
}

// IsCourseLevel reports whether the session spans a whole class
func (s *PresentationSession) IsCourseLevel() bool {
	return s.ScopeKind == ScopeClass
}

// Clone returns a deep copy so snapshots never alias store-owned memory
func (s *PresentationSession) Clone() *PresentationSession {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentModuleID = cloneString(s.CurrentModuleID)
	c.CurrentStepID = cloneString(s.CurrentStepID)
	return &c
}

// SessionParticipant is a student's membership record within a session
type SessionParticipant struct {
	ID            string    `json:"id" db:"id"`
	SessionID     string    `json:"session_id" db:"session_id"`
	StudentID     string    `json:"student_id" db:"student_id"`
	IsSynced      bool      `json:"is_synced" db:"is_synced"`
	LastSeenSlide int       `json:"last_seen_slide" db:"last_seen_slide"`
	JoinedAt      time.Time `json:"joined_at" db:"joined_at"`
	LastActivity  time.Time `json:"last_activity" db:"last_activity"`
}

// Clone returns a copy of the participant row
func (p *SessionParticipant) Clone() *SessionParticipant {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// SyncStatus is the coordinator's derived public view, never persisted
// FUNCTIONAL DISCOVERY: IsConnected tracks feed health independently of IsSync
type SyncStatus struct {
	IsInstructor     bool   `json:"is_instructor"`
	IsConnected      bool   `json:"is_connected"`
	IsSync           bool   `json:"is_sync"`
	CurrentSlide     int    `json:"current_slide"`
	TotalSlides      int    `json:"total_slides"`
	SessionID        string `json:"session_id,omitempty"`
	ParticipantCount int    `json:"participant_count"`
}

// DisconnectedStatus is the cleared default view
func DisconnectedStatus() SyncStatus {
	return SyncStatus{CurrentSlide: 1, TotalSlides: 1}
}

// ChangeEvent is a row-level notification delivered on a session topic
type ChangeEvent struct {
	Topic       string               `json:"topic"`
	Table       string               `json:"table"`
	Kind        string               `json:"kind"`
	SessionID   string               `json:"session_id"`
	Session     *PresentationSession `json:"session,omitempty"`
	Participant *SessionParticipant  `json:"participant,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// SessionTopic names the feed topic for one session
func SessionTopic(sessionID string) string {
	return fmt.Sprintf("presentation_session_%s", sessionID)
}

// User is a catalog identity, consulted only for the super-admin capability
type User struct {
	ID           string `json:"id" db:"id"`
	DisplayName  string `json:"display_name" db:"display_name"`
	IsSuperAdmin bool   `json:"is_super_admin" db:"is_super_admin"`
}

// Class is a course owned by one instructor
type Class struct {
	ID           string `json:"id" db:"id"`
	Title        string `json:"title" db:"title"`
	InstructorID string `json:"instructor_id" db:"instructor_id"`
}

// Module is a content unit inside a class
type Module struct {
	ID      string `json:"id" db:"id"`
	ClassID string `json:"class_id" db:"class_id"`
	Title   string `json:"title" db:"title"`
}

// Step is a content unit inside a module
type Step struct {
	ID       string `json:"id" db:"id"`
	ModuleID string `json:"module_id" db:"module_id"`
	Title    string `json:"title" db:"title"`
}

// Enrollment links a student to a class
type Enrollment struct {
	ClassID   string `json:"class_id" db:"class_id"`
	StudentID string `json:"student_id" db:"student_id"`
	Status    string `json:"status" db:"status"`
}

// UnitSwitch describes a course-level content change
type UnitSwitch struct {
	ModuleID    *string
	StepID      *string
	TotalSlides int
	StartSlide  int
}

// SyncStats summarizes participant alignment for the instructor dashboard
type SyncStats struct {
	Participants   int     `json:"participants"`
	Synced         int     `json:"synced"`
	OnCurrentSlide int     `json:"on_current_slide"`
	SyncPercentage float64 `json:"sync_percentage"`
}

// ComputeSyncStats derives the dashboard view from a session and its participants
// Percentage is the share of participants whose last seen slide matches the
// instructor's current slide.
func ComputeSyncStats(session *PresentationSession, participants []*SessionParticipant) SyncStats {
	stats := SyncStats{Participants: len(participants)}
	if session == nil || len(participants) == 0 {
		return stats
	}
	for _, p := range participants {
		if p.IsSynced {
			stats.Synced++
		}
		if p.LastSeenSlide == session.CurrentSlide {
			stats.OnCurrentSlide++
		}
	}
	stats.SyncPercentage = float64(stats.OnCurrentSlide) * 100 / float64(stats.Participants)
	return stats
}

// StringPtr returns a pointer to s, nil for the empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
