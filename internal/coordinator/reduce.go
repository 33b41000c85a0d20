package coordinator

import (
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Event is an input to Reduce
type Event interface{ event() }

// Initialized binds the coordinator to an authenticated user
type Initialized struct{ UserID string }

// CreationStarted marks an in-flight session creation
type CreationStarted struct{}

// CreationFailed returns a failed creation to the idle phase
type CreationFailed struct{}

// Activated binds a session after its subscription attempt
type Activated struct {
	Role         Role
	Session      *types.PresentationSession
	Participant  *types.SessionParticipant
	Participants []*types.SessionParticipant
	Connected    bool
}

// SessionUpdated carries a session row from the feed or a direct read
type SessionUpdated struct {
	Generation uint64
	Session    *types.PresentationSession
}

// ParticipantChanged carries a participant row from the feed
type ParticipantChanged struct {
	Generation  uint64
	Kind        string
	Participant *types.SessionParticipant
}

// FeedStatus reports subscription health
type FeedStatus struct {
	Generation uint64
	Connected  bool
}

// LocalNavigated is a student moving their own viewer
type LocalNavigated struct{ Slide int }

// SyncToggled flips a student's follow flag
type SyncToggled struct{}

// CaughtUp carries a session row re-read for explicit recovery
type CaughtUp struct {
	Generation uint64
	Session    *types.PresentationSession
}

// Disconnected clears all session state
type Disconnected struct{}

func (Initialized) event()        {}
func (CreationStarted) event()    {}
func (CreationFailed) event()     {}
func (Activated) event()          {}
func (SessionUpdated) event()     {}
func (ParticipantChanged) event() {}
func (FeedStatus) event()         {}
func (LocalNavigated) event()     {}
func (SyncToggled) event()        {}
func (CaughtUp) event()           {}
func (Disconnected) event()       {}

// Effect is an output of Reduce, executed by the Coordinator in order
type Effect interface{ effect() }

// SlideChanged reports a new displayed slide
type SlideChanged struct{ Slide int }

// StatusChanged reports a new public status
type StatusChanged struct{ Status types.SyncStatus }

// SessionEnded reports that the bound session became inactive
type SessionEnded struct{ SessionID string }

// UnitChange describes content navigation on a course-level session
type UnitChange struct {
	ModuleID    string
	StepID      string
	TotalSlides int
	Slide       int
}

// ModuleSwitched reports a module change on a course-level session
type ModuleSwitched struct{ Change UnitChange }

// StepSwitched reports a step change on a course-level session
type StepSwitched struct{ Change UnitChange }

// ParticipantUpdated reports a participant row change with fresh stats
type ParticipantUpdated struct {
	Kind        string
	Participant *types.SessionParticipant
	Stats       types.SyncStats
}

// WriteParticipant asks for the student's own row to be persisted
type WriteParticipant struct {
	Generation    uint64
	SessionID     string
	StudentID     string
	IsSynced      bool
	LastSeenSlide int
}

// Teardown asks for the feed subscription to be closed
type Teardown struct{}

func (SlideChanged) effect()       {}
func (StatusChanged) effect()      {}
func (SessionEnded) effect()       {}
func (ModuleSwitched) effect()     {}
func (StepSwitched) effect()       {}
func (ParticipantUpdated) effect() {}
func (WriteParticipant) effect()   {}
func (Teardown) effect()           {}

// Reduce is the coordinator's transition function. It is total: events that
// do not apply in the current phase leave the state unchanged.
func Reduce(s State, e Event) (State, []Effect) {
	next, effects := transition(s, e)
	if before, after := s.Status(), next.Status(); before != after {
		effects = append(effects, StatusChanged{Status: after})
	}
	return next, effects
}

func transition(s State, e Event) (State, []Effect) {
	switch ev := e.(type) {
	case Initialized:
		if s.Phase == PhaseActive || s.Phase == PhaseCreating {
			return s, nil
		}
		s.UserID = ev.UserID
		s.Phase = PhaseIdle
		return s, nil

	case CreationStarted:
		if s.Phase != PhaseIdle && s.Phase != PhaseEnded {
			return s, nil
		}
		s.Phase = PhaseCreating
		return s, nil

	case CreationFailed:
		if s.Phase != PhaseCreating {
			return s, nil
		}
		s.Phase = PhaseIdle
		return s, nil

	case Activated:
		return activate(s, ev)

	case SessionUpdated:
		if !s.bound(ev.Generation, ev.Session) {
			return s, nil
		}
		return applySession(s, ev.Session)

	case CaughtUp:
		if !s.bound(ev.Generation, ev.Session) {
			return s, nil
		}
		next, effects := applySession(s, ev.Session)
		if next.Phase != PhaseActive || next.Role != RoleStudent {
			return next, effects
		}
		snapped := next.Session.CurrentSlide
		if next.LocalSlide != snapped {
			effects = append(effects, SlideChanged{Slide: snapped})
		}
		next.LocalSlide = snapped
		next.Synced = true
		return next, append(effects, next.writeOwn())

	case ParticipantChanged:
		return applyParticipant(s, ev)

	case FeedStatus:
		if s.Phase != PhaseActive || ev.Generation != s.Generation {
			return s, nil
		}
		s.Connected = ev.Connected
		return s, nil

	case LocalNavigated:
		if s.Phase != PhaseActive || s.Role != RoleStudent || ev.Slide == s.LocalSlide {
			return s, nil
		}
		if !types.ValidSlide(ev.Slide, s.Session.TotalSlides) {
			return s, nil
		}
		s.LocalSlide = ev.Slide
		if ev.Slide != s.Session.CurrentSlide {
			s.Synced = false
		}
		return s, []Effect{SlideChanged{Slide: ev.Slide}, s.writeOwn()}

	case SyncToggled:
		if s.Phase != PhaseActive || s.Role != RoleStudent {
			return s, nil
		}
		if s.Synced {
			s.Synced = false
			return s, []Effect{s.writeOwn()}
		}
		var effects []Effect
		if s.LocalSlide != s.Session.CurrentSlide {
			effects = append(effects, SlideChanged{Slide: s.Session.CurrentSlide})
		}
		s.Synced = true
		s.LocalSlide = s.Session.CurrentSlide
		return s, append(effects, s.writeOwn())

	case Disconnected:
		if s.Phase == PhaseUninitialized {
			return s, nil
		}
		if s.Phase == PhaseActive {
			return s.cleared(PhaseIdle), []Effect{Teardown{}}
		}
		return State{Phase: PhaseIdle, UserID: s.UserID, Generation: s.Generation}, nil
	}

	return s, nil
}

// bound reports whether an incoming row targets the current binding
func (s State) bound(generation uint64, session *types.PresentationSession) bool {
	return s.Phase == PhaseActive &&
		generation == s.Generation &&
		session != nil &&
		s.Session != nil &&
		session.ID == s.Session.ID
}

func (s State) writeOwn() WriteParticipant {
	return WriteParticipant{
		Generation:    s.Generation,
		SessionID:     s.Session.ID,
		StudentID:     s.UserID,
		IsSynced:      s.Synced,
		LastSeenSlide: s.LocalSlide,
	}
}

func activate(s State, ev Activated) (State, []Effect) {
	if s.Phase == PhaseUninitialized || ev.Session == nil {
		return s, nil
	}
	if !ev.Session.IsActive {
		return s.cleared(PhaseEnded), []Effect{SessionEnded{SessionID: ev.Session.ID}}
	}

	next := State{
		Phase:       PhaseActive,
		Role:        ev.Role,
		UserID:      s.UserID,
		Session:     ev.Session.Clone(),
		Participant: ev.Participant.Clone(),
		LocalSlide:  ev.Session.CurrentSlide,
		Synced:      ev.Role == RoleStudent,
		Connected:   ev.Connected,
		Generation:  s.Generation + 1,
	}
	next = next.withParticipants(ev.Participants)
	return next, []Effect{SlideChanged{Slide: ev.Session.CurrentSlide}}
}

// applySession folds a fresh session row into an active state
func applySession(s State, row *types.PresentationSession) (State, []Effect) {
	// FUNCTIONAL DISCOVERY: Rows older than the snapshot are late deliveries
	// of writes this coordinator has already seen
	if row.UpdatedAt.Before(s.Session.UpdatedAt) || row.UnitVersion < s.Session.UnitVersion {
		return s, nil
	}

	if !row.IsActive {
		return s.cleared(PhaseEnded), []Effect{SessionEnded{SessionID: row.ID}, Teardown{}}
	}

	prev := s.Session
	s.Session = row.Clone()
	var effects []Effect

	// Every unit switch bumps UnitVersion, including re-selecting the current
	// unit, so the IDs alone cannot tell a switch apart from a slide move
	if row.UnitVersion > prev.UnitVersion {
		change := UnitChange{
			ModuleID:    types.StringValue(row.CurrentModuleID),
			StepID:      types.StringValue(row.CurrentStepID),
			TotalSlides: row.TotalSlides,
			Slide:       row.CurrentSlide,
		}
		if row.CurrentStepID != nil {
			effects = append(effects, StepSwitched{Change: change})
		} else {
			effects = append(effects, ModuleSwitched{Change: change})
		}

		// Slide numbers are not comparable across units, so everyone resyncs.
		// The store already reset every participant row.
		s.Synced = s.Role == RoleStudent
		s.LocalSlide = row.CurrentSlide
		s.Participants = resyncAll(s.Participants, row.CurrentSlide)
		return s, append(effects, SlideChanged{Slide: row.CurrentSlide})
	}

	switch s.Role {
	case RoleInstructor:
		if row.CurrentSlide != prev.CurrentSlide {
			s.LocalSlide = row.CurrentSlide
			effects = append(effects, SlideChanged{Slide: row.CurrentSlide})
		}

	case RoleStudent:
		if s.Synced {
			if row.CurrentSlide != s.LocalSlide {
				s.LocalSlide = row.CurrentSlide
				effects = append(effects, SlideChanged{Slide: row.CurrentSlide}, s.writeOwn())
			}
		} else if s.LocalSlide > row.TotalSlides {
			s.LocalSlide = row.TotalSlides
			effects = append(effects, SlideChanged{Slide: s.LocalSlide})
		}
	}
	return s, effects
}

func applyParticipant(s State, ev ParticipantChanged) (State, []Effect) {
	p := ev.Participant
	if s.Phase != PhaseActive || ev.Generation != s.Generation || p == nil || p.SessionID != s.Session.ID {
		return s, nil
	}

	participants := make(map[string]*types.SessionParticipant, len(s.Participants)+1)
	for k, v := range s.Participants {
		participants[k] = v
	}
	if ev.Kind == types.ChangeDelete {
		delete(participants, p.StudentID)
	} else {
		participants[p.StudentID] = p.Clone()
	}
	s.Participants = participants

	if p.StudentID == s.UserID {
		if ev.Kind == types.ChangeDelete {
			s.Participant = nil
		} else {
			s.Participant = p.Clone()
		}
	}

	return s, []Effect{ParticipantUpdated{Kind: ev.Kind, Participant: p.Clone(), Stats: s.Stats()}}
}

func resyncAll(in map[string]*types.SessionParticipant, slide int) map[string]*types.SessionParticipant {
	out := make(map[string]*types.SessionParticipant, len(in))
	for k, v := range in {
		c := v.Clone()
		c.IsSynced = true
		c.LastSeenSlide = slide
		out[k] = c
	}
	return out
}
