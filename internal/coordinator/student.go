package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// JoinSession joins sessionID as a synced student at the instructor's
// current slide
func (c *Coordinator) JoinSession(ctx context.Context, sessionID string) error {
	if err := c.joinByID(ctx, sessionID); err != nil {
		return c.fail("join session", err)
	}
	return nil
}

// FindAndJoinActiveSession joins the live session for moduleID, falling back
// to a live course session of the module's class
func (c *Coordinator) FindAndJoinActiveSession(ctx context.Context, moduleID string) error {
	if err := c.findAndJoin(ctx, moduleID); err != nil {
		return c.fail("find and join active session", err)
	}
	return nil
}

// FindAndJoinActiveCourseSession joins the live class-level session for classID
func (c *Coordinator) FindAndJoinActiveCourseSession(ctx context.Context, classID string) error {
	if _, err := c.requireInitialized(); err != nil {
		return c.fail("find and join course session", err)
	}
	if !c.opts.CourseSessions {
		return c.fail("find and join course session", types.ErrCourseSessionsDisabled)
	}
	session, err := c.findActive(ctx, types.ClassScope(classID))
	if err != nil {
		return c.fail("find and join course session", err)
	}
	if err := c.joinByID(ctx, session.ID); err != nil {
		return c.fail("find and join course session", err)
	}
	return nil
}

// JoinWhenAvailable retries FindAndJoinActiveSession under the join retry
// policy until it succeeds, the coordinator becomes active some other way,
// a non-retryable error occurs, or the loop is cancelled by Disconnect, a
// later call or ctx. The returned channel yields the final result once.
func (c *Coordinator) JoinWhenAvailable(ctx context.Context, moduleID string) <-chan error {
	result := make(chan error, 1)
	if _, err := c.requireInitialized(); err != nil {
		result <- c.fail("join when available", err)
		close(result)
		return result
	}

	rctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancelRetry != nil {
		c.cancelRetry()
	}
	c.cancelRetry = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer close(result)
		defer cancel()

		err := c.opts.JoinRetry.Run(rctx, func(attempt int) (bool, error) {
			if st := c.snapshot(); st.Phase == PhaseActive {
				return true, nil
			}
			err := c.findAndJoin(rctx, moduleID)
			switch {
			case err == nil:
				log.Printf("Auto-join succeeded: module=%s attempt=%d", moduleID, attempt)
				return true, nil
			case retryable(err):
				return false, err
			default:
				return true, err
			}
		})

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			log.Printf("Auto-join cancelled: module=%s", moduleID)
		default:
			err = c.fail("join when available", err)
		}
		result <- err
	}()
	return result
}

// NavigateLocal moves the student's own viewer. Leaving the instructor's
// slide disengages sync.
func (c *Coordinator) NavigateLocal(slide int) error {
	st, err := c.requireActive(RoleStudent)
	if err != nil {
		return c.fail("navigate local", err)
	}
	if !types.ValidSlide(slide, st.Session.TotalSlides) {
		return c.fail("navigate local", types.ErrInvalidSlide)
	}
	c.dispatch(LocalNavigated{Slide: slide})
	return nil
}

// NextSlide advances the student's own viewer by one
func (c *Coordinator) NextSlide() error {
	st, err := c.requireActive(RoleStudent)
	if err != nil {
		return c.fail("next slide", err)
	}
	return c.NavigateLocal(st.LocalSlide + 1)
}

// PreviousSlide moves the student's own viewer back by one
func (c *Coordinator) PreviousSlide() error {
	st, err := c.requireActive(RoleStudent)
	if err != nil {
		return c.fail("previous slide", err)
	}
	return c.NavigateLocal(st.LocalSlide - 1)
}

// ToggleSync flips the follow flag; re-engaging snaps to the instructor
func (c *Coordinator) ToggleSync() error {
	if _, err := c.requireActive(RoleStudent); err != nil {
		return c.fail("toggle sync", err)
	}
	c.dispatch(SyncToggled{})
	return nil
}

// CatchUp re-reads the session from the store, adopts its slide and
// re-enables sync, independent of the feed
func (c *Coordinator) CatchUp(ctx context.Context) error {
	st, err := c.requireActive(RoleStudent)
	if err != nil {
		return c.fail("catch up", err)
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	fresh, err := c.store.GetSession(sctx, st.Session.ID)
	if err != nil {
		return c.fail("catch up", err)
	}
	c.dispatch(CaughtUp{Generation: st.Generation, Session: fresh})
	return nil
}

// LeaveSession removes the student's participant row and disconnects
func (c *Coordinator) LeaveSession(ctx context.Context) error {
	st, err := c.requireActive(RoleStudent)
	if err != nil {
		return c.fail("leave session", err)
	}

	sctx, cancel := c.storeCtx(ctx)
	err = c.store.RemoveParticipant(sctx, st.Session.ID, st.UserID)
	cancel()

	c.Disconnect()
	if err != nil {
		return c.fail("leave session", err)
	}
	log.Printf("Student left session: user=%s session=%s", st.UserID, st.Session.ID)
	return nil
}

// joinByID authorizes and binds without reporting through OnError
func (c *Coordinator) joinByID(ctx context.Context, sessionID string) error {
	st, err := c.requireInitialized()
	if err != nil {
		return err
	}

	sctx, cancel := c.storeCtx(ctx)
	session, err := c.store.GetSession(sctx, sessionID)
	cancel()
	if err != nil {
		return err
	}
	if !session.IsActive {
		return types.ErrSessionNotFound
	}
	if err := c.auth.CanJoinSession(ctx, st.UserID, session); err != nil {
		return err
	}

	c.leaveCurrent()
	_, err = c.bind(ctx, c.currentEpoch(), RoleStudent, sessionID, func(ctx context.Context, s *types.PresentationSession) (*types.SessionParticipant, error) {
		// Join at the slide read after subscribing, not at session start
		return c.store.JoinParticipant(ctx, s.ID, st.UserID, s.CurrentSlide)
	})
	return err
}

func (c *Coordinator) findAndJoin(ctx context.Context, moduleID string) error {
	if _, err := c.requireInitialized(); err != nil {
		return err
	}
	scope := types.ModuleScope(moduleID)
	session, err := c.findActive(ctx, scope)
	if errors.Is(err, types.ErrSessionNotFound) && c.opts.CourseSessions {
		classID, cerr := c.auth.ClassOf(ctx, scope)
		if cerr != nil {
			return fmt.Errorf("resolve class of %s: %w", scope, cerr)
		}
		session, err = c.findActive(ctx, types.ClassScope(classID))
	}
	if err != nil {
		return err
	}
	return c.joinByID(ctx, session.ID)
}

func (c *Coordinator) findActive(ctx context.Context, scope types.Scope) (*types.PresentationSession, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	return c.store.FindActiveSession(sctx, scope)
}

// retryable reports whether a join attempt may succeed later
func retryable(err error) bool {
	return errors.Is(err, types.ErrSessionNotFound) ||
		errors.Is(err, types.ErrStore) ||
		errors.Is(err, types.ErrTransport) ||
		errors.Is(err, context.DeadlineExceeded)
}
