package coordinator

import (
	"context"
	"errors"
	"log"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// CreateSession starts a unit-level session on moduleID and binds to it as
// instructor. An existing active session for the module yields a
// *types.ConflictError and no new row.
func (c *Coordinator) CreateSession(ctx context.Context, moduleID string, totalSlides int, name string) (string, error) {
	st, err := c.requireInitialized()
	if err != nil {
		return "", c.fail("create session", err)
	}
	scope := types.ModuleScope(moduleID)
	if err := scope.Validate(); err != nil {
		return "", c.fail("create session", err)
	}
	if err := c.auth.CanControlScope(ctx, st.UserID, scope); err != nil {
		return "", c.fail("create session", err)
	}
	return c.create(ctx, st.UserID, scope, types.StringPtr(moduleID), totalSlides, name)
}

// CreateCourseSession starts a class-level session. Content is chosen later
// with SwitchToModule or SwitchToStep.
func (c *Coordinator) CreateCourseSession(ctx context.Context, classID string, name string) (string, error) {
	st, err := c.requireInitialized()
	if err != nil {
		return "", c.fail("create course session", err)
	}
	if !c.opts.CourseSessions {
		return "", c.fail("create course session", types.ErrCourseSessionsDisabled)
	}
	scope := types.ClassScope(classID)
	if err := scope.Validate(); err != nil {
		return "", c.fail("create course session", err)
	}
	if err := c.auth.CanControlScope(ctx, st.UserID, scope); err != nil {
		return "", c.fail("create course session", err)
	}
	return c.create(ctx, st.UserID, scope, nil, 1, name)
}

// JoinExistingSession resumes control of an active session, typically the
// Existing session of a same-instructor conflict
func (c *Coordinator) JoinExistingSession(ctx context.Context, sessionID string) error {
	st, err := c.requireInitialized()
	if err != nil {
		return c.fail("join existing session", err)
	}

	sctx, cancel := c.storeCtx(ctx)
	session, err := c.store.GetSession(sctx, sessionID)
	cancel()
	if err != nil {
		return c.fail("join existing session", err)
	}
	if !session.IsActive {
		return c.fail("join existing session", types.ErrSessionNotFound)
	}
	if err := c.auth.CanControlSession(ctx, st.UserID, session); err != nil {
		return c.fail("join existing session", err)
	}

	c.leaveCurrent()
	if _, err := c.bind(ctx, c.currentEpoch(), RoleInstructor, sessionID, nil); err != nil {
		return c.fail("join existing session", err)
	}
	return nil
}

// EndExistingAndCreateNew resolves a conflict by ending oldSessionID and
// creating a fresh unit-level session
func (c *Coordinator) EndExistingAndCreateNew(ctx context.Context, oldSessionID, moduleID string, totalSlides int, name string) (string, error) {
	st, err := c.requireInitialized()
	if err != nil {
		return "", c.fail("end existing and create new", err)
	}

	sctx, cancel := c.storeCtx(ctx)
	old, err := c.store.GetSession(sctx, oldSessionID)
	cancel()
	if err != nil {
		return "", c.fail("end existing and create new", err)
	}
	// The old row may belong to another instructor, so control of its scope
	// is what authorizes ending it
	if err := c.auth.CanControlScope(ctx, st.UserID, old.Scope()); err != nil {
		return "", c.fail("end existing and create new", err)
	}

	if old.IsActive {
		sctx, cancel := c.storeCtx(ctx)
		err := c.store.EndSession(sctx, oldSessionID)
		cancel()
		if err != nil {
			return "", c.fail("end existing and create new", err)
		}
		log.Printf("Ended conflicting session: id=%s by=%s", oldSessionID, st.UserID)
	}

	return c.CreateSession(ctx, moduleID, totalSlides, name)
}

// SwitchToModule moves a course session to moduleID. Zero startSlide means 1.
// Local state changes only when the write echoes back through the feed.
func (c *Coordinator) SwitchToModule(ctx context.Context, moduleID string, totalSlides, startSlide int) error {
	session, err := c.courseControl(ctx)
	if err != nil {
		return c.fail("switch to module", err)
	}
	if err := c.requireInClass(ctx, moduleID, session); err != nil {
		return c.fail("switch to module", err)
	}

	sw := types.UnitSwitch{
		ModuleID:    types.StringPtr(moduleID),
		TotalSlides: totalSlides,
		StartSlide:  defaultSlide(startSlide),
	}
	if err := c.switchUnit(ctx, session.ID, sw); err != nil {
		return c.fail("switch to module", err)
	}
	return nil
}

// SwitchToStep moves a course session to stepID within its module
func (c *Coordinator) SwitchToStep(ctx context.Context, stepID string, totalSlides, startSlide int) error {
	session, err := c.courseControl(ctx)
	if err != nil {
		return c.fail("switch to step", err)
	}
	moduleID, err := c.auth.ModuleOfStep(ctx, stepID)
	if err != nil {
		return c.fail("switch to step", err)
	}
	if err := c.requireInClass(ctx, moduleID, session); err != nil {
		return c.fail("switch to step", err)
	}

	sw := types.UnitSwitch{
		ModuleID:    types.StringPtr(moduleID),
		StepID:      types.StringPtr(stepID),
		TotalSlides: totalSlides,
		StartSlide:  defaultSlide(startSlide),
	}
	if err := c.switchUnit(ctx, session.ID, sw); err != nil {
		return c.fail("switch to step", err)
	}
	return nil
}

// NavigateToSlide writes the instructor's position. The local view follows
// the feed echo like every other subscriber.
func (c *Coordinator) NavigateToSlide(ctx context.Context, slide int) error {
	st, err := c.requireInitialized()
	if err != nil {
		return c.fail("navigate to slide", err)
	}
	if st.Phase != PhaseActive || st.Session == nil {
		return c.fail("navigate to slide", types.ErrNoActiveSession)
	}
	if st.Role != RoleInstructor {
		return c.fail("navigate to slide", types.ErrUnauthorized)
	}
	if err := c.auth.CanControlSession(ctx, st.UserID, st.Session); err != nil {
		return c.fail("navigate to slide", err)
	}
	if !types.ValidSlide(slide, st.Session.TotalSlides) {
		return c.fail("navigate to slide", types.ErrInvalidSlide)
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if _, err := c.store.UpdateSlide(sctx, st.Session.ID, slide); err != nil {
		return c.fail("navigate to slide", err)
	}
	return nil
}

// EndSession deactivates the bound session and tears down immediately
// without waiting for the feed
func (c *Coordinator) EndSession(ctx context.Context) error {
	st, err := c.requireActive(RoleInstructor)
	if err != nil {
		return c.fail("end session", err)
	}
	if err := c.auth.CanControlSession(ctx, st.UserID, st.Session); err != nil {
		return c.fail("end session", err)
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.store.EndSession(sctx, st.Session.ID); err != nil {
		return c.fail("end session", err)
	}

	ended, err := c.store.GetSession(sctx, st.Session.ID)
	if err != nil {
		// The row is already inactive; drop local state regardless
		log.Printf("Failed to re-read ended session %s: %v", st.Session.ID, err)
		c.Disconnect()
		return nil
	}
	c.dispatch(SessionUpdated{Generation: st.Generation, Session: ended})
	return nil
}

// create inserts a session row and binds to it as instructor
func (c *Coordinator) create(ctx context.Context, userID string, scope types.Scope, moduleID *string, totalSlides int, name string) (string, error) {
	if totalSlides < 1 {
		return "", c.fail("create session", types.ErrInvalidTotalSlides)
	}

	c.leaveCurrent()
	epoch := c.currentEpoch()
	if next := c.dispatch(CreationStarted{}); next.Phase != PhaseCreating {
		return "", c.fail("create session", types.ErrNotInitialized)
	}

	sctx, cancel := c.storeCtx(ctx)
	created, err := c.store.CreateSession(sctx, &types.PresentationSession{
		ScopeKind:       scope.Kind,
		ScopeID:         scope.ID,
		CurrentModuleID: moduleID,
		InstructorID:    userID,
		CurrentSlide:    1,
		TotalSlides:     totalSlides,
		SessionName:     name,
	})
	cancel()
	if err != nil {
		c.dispatch(CreationFailed{})
		var conflict *types.ConflictError
		if errors.As(err, &conflict) {
			log.Printf("Session conflict for %s: existing=%s same_instructor=%t", scope, conflict.Existing.ID, conflict.SameInstructor)
		}
		return "", c.fail("create session", err)
	}

	if _, err := c.bind(ctx, epoch, RoleInstructor, created.ID, nil); err != nil {
		c.dispatch(CreationFailed{})
		return "", c.fail("create session", err)
	}
	return created.ID, nil
}

// leaveCurrent drops an active binding before switching to another session
func (c *Coordinator) leaveCurrent() {
	if st := c.snapshot(); st.Phase == PhaseActive {
		c.Disconnect()
	}
}

// courseControl returns the bound course session if the caller controls it
func (c *Coordinator) courseControl(ctx context.Context) (*types.PresentationSession, error) {
	st, err := c.requireActive(RoleInstructor)
	if err != nil {
		return nil, err
	}
	if !c.opts.CourseSessions {
		return nil, types.ErrCourseSessionsDisabled
	}
	if !st.Session.IsCourseLevel() {
		return nil, types.ErrNotCourseSession
	}
	if err := c.auth.CanControlSession(ctx, st.UserID, st.Session); err != nil {
		return nil, err
	}
	return st.Session, nil
}

func (c *Coordinator) requireInClass(ctx context.Context, moduleID string, session *types.PresentationSession) error {
	classID, err := c.auth.ClassOf(ctx, types.ModuleScope(moduleID))
	if err != nil {
		return err
	}
	if classID != session.ScopeID {
		return types.ErrUnitNotInClass
	}
	return nil
}

func (c *Coordinator) switchUnit(ctx context.Context, sessionID string, sw types.UnitSwitch) error {
	if err := sw.Validate(); err != nil {
		return err
	}
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	_, err := c.store.SwitchUnit(sctx, sessionID, sw)
	return err
}

func defaultSlide(n int) int {
	if n == 0 {
		return 1
	}
	return n
}
