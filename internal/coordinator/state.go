package coordinator

import (
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Phase is the coordinator lifecycle position
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseIdle
	PhaseCreating
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseIdle:
		return "idle"
	case PhaseCreating:
		return "creating"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// Role is the part this coordinator plays in its active session
type Role int

const (
	RoleNone Role = iota
	RoleInstructor
	RoleStudent
)

func (r Role) String() string {
	switch r {
	case RoleInstructor:
		return "instructor"
	case RoleStudent:
		return "student"
	}
	return "none"
}

// State is one coordinator's complete view. Values are treated as
// immutable: Reduce copies before changing anything reachable from it.
type State struct {
	Phase  Phase
	Role   Role
	UserID string

	Session      *types.PresentationSession
	Participant  *types.SessionParticipant
	Participants map[string]*types.SessionParticipant // studentID -> row

	LocalSlide int
	Synced     bool
	Connected  bool

	// Generation changes whenever the active session binding changes, so
	// feed events from an earlier binding can be recognised and dropped
	Generation uint64
}

// Status derives the public view
func (s State) Status() types.SyncStatus {
	if s.Phase != PhaseActive || s.Session == nil {
		return types.DisconnectedStatus()
	}

	st := types.SyncStatus{
		IsInstructor:     s.Role == RoleInstructor,
		IsConnected:      s.Connected,
		TotalSlides:      s.Session.TotalSlides,
		SessionID:        s.Session.ID,
		ParticipantCount: len(s.Participants),
	}
	if s.Role == RoleInstructor {
		st.IsSync = s.Session.IsActive
		st.CurrentSlide = s.Session.CurrentSlide
	} else {
		st.IsSync = s.Synced
		st.CurrentSlide = s.LocalSlide
	}
	return st
}

// Stats summarizes participant alignment for the bound session
func (s State) Stats() types.SyncStats {
	participants := make([]*types.SessionParticipant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, p)
	}
	return types.ComputeSyncStats(s.Session, participants)
}

// cleared returns the idle state for the same user
func (s State) cleared(phase Phase) State {
	return State{
		Phase:      phase,
		UserID:     s.UserID,
		Generation: s.Generation + 1,
	}
}

func (s State) withParticipants(list []*types.SessionParticipant) State {
	s.Participants = make(map[string]*types.SessionParticipant, len(list))
	for _, p := range list {
		s.Participants[p.StudentID] = p.Clone()
	}
	return s
}
