package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Callbacks is the observer surface, fixed at construction.
// Callbacks run synchronously on the goroutine that produced the change and
// must not call mutating Coordinator methods; GetSyncStatus is safe.
type Callbacks struct {
	OnSlideChange       func(slide int)
	OnSyncStatusChange  func(status types.SyncStatus)
	OnParticipantUpdate func(kind string, participant *types.SessionParticipant, stats types.SyncStats)
	OnSessionEnd        func(sessionID string)
	OnError             func(err error)
	OnModuleSwitch      func(change UnitChange)
	OnStepSwitch        func(change UnitChange)
}

// Options configures a Coordinator
type Options struct {
	// CourseSessions enables class-scoped sessions and module/step switching
	CourseSessions bool

	JoinRetry    RetryPolicy
	Reconnect    RetryPolicy
	StoreTimeout time.Duration
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		CourseSessions: true,
		JoinRetry:      DefaultJoinRetry(),
		Reconnect:      DefaultReconnect(),
		StoreTimeout:   10 * time.Second,
	}
}

// Coordinator is one client's presentation sync engine
// ARCHITECTURAL DISCOVERY: All state changes go through Reduce under mu;
// effects run afterwards under effectsMu so callbacks observe them in
// transition order without holding the state lock
type Coordinator struct {
	store interfaces.SessionStore
	feed  interfaces.Feed
	auth  interfaces.Authorizer
	opts  Options
	cb    Callbacks

	mu          sync.Mutex
	state       State
	sub         interfaces.Subscription
	cancelWatch context.CancelFunc
	cancelRetry context.CancelFunc
	// epoch counts Disconnect calls; a bind started in an earlier epoch
	// must not activate
	epoch uint64

	effectsMu sync.Mutex
	wg        sync.WaitGroup
}

// New creates an uninitialized coordinator
func New(store interfaces.SessionStore, feed interfaces.Feed, auth interfaces.Authorizer, opts Options, cb Callbacks) *Coordinator {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Coordinator{
		store: store,
		feed:  feed,
		auth:  auth,
		opts:  opts,
		cb:    cb,
	}
}

// Initialize binds the coordinator to an authenticated user
func (c *Coordinator) Initialize(ctx context.Context, userID string) error {
	if userID == "" {
		return c.fail("initialize", types.ErrNotAuthenticated)
	}
	if !types.IsValidUserID(userID) {
		return c.fail("initialize", types.ErrInvalidUserID)
	}

	if st := c.snapshot(); st.Phase == PhaseActive && st.UserID != userID {
		c.Disconnect()
	}
	c.dispatch(Initialized{UserID: userID})
	return nil
}

// GetSyncStatus returns the current public view
func (c *Coordinator) GetSyncStatus() types.SyncStatus {
	return c.snapshot().Status()
}

// State returns a copy of the full internal view
func (c *Coordinator) State() State {
	return c.snapshot()
}

// Disconnect unsubscribes, cancels pending retries and clears session state.
// Safe to call at any time and any number of times.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	if c.cancelRetry != nil {
		c.cancelRetry()
		c.cancelRetry = nil
	}
	c.epoch++
	c.mu.Unlock()

	c.dispatch(Disconnected{})
	c.teardown()
}

// Wait blocks until background goroutines started by this coordinator exit.
// Call after Disconnect.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// dispatch runs one transition and executes its effects
func (c *Coordinator) dispatch(e Event) State {
	c.mu.Lock()
	return c.commit(e)
}

// dispatchActivation applies ev unless ctx has ended or Disconnect ran
// after epoch was read. The check and the transition share one hold of mu.
func (c *Coordinator) dispatchActivation(ctx context.Context, epoch uint64, ev Activated) (State, error) {
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return State{}, err
	}
	if c.epoch != epoch {
		c.mu.Unlock()
		return State{}, fmt.Errorf("disconnected while binding: %w", context.Canceled)
	}
	return c.commit(ev), nil
}

// commit runs one transition with mu held, releases mu and executes effects
func (c *Coordinator) commit(e Event) State {
	next, effects := Reduce(c.state, e)
	c.state = next
	c.effectsMu.Lock()
	c.mu.Unlock()

	defer c.effectsMu.Unlock()
	for _, eff := range effects {
		c.execute(eff)
	}
	return next
}

func (c *Coordinator) execute(eff Effect) {
	switch e := eff.(type) {
	case SlideChanged:
		if c.cb.OnSlideChange != nil {
			c.cb.OnSlideChange(e.Slide)
		}
	case StatusChanged:
		if c.cb.OnSyncStatusChange != nil {
			c.cb.OnSyncStatusChange(e.Status)
		}
	case SessionEnded:
		log.Printf("Coordinator observed session end: session=%s", e.SessionID)
		if c.cb.OnSessionEnd != nil {
			c.cb.OnSessionEnd(e.SessionID)
		}
	case ModuleSwitched:
		if c.cb.OnModuleSwitch != nil {
			c.cb.OnModuleSwitch(e.Change)
		}
	case StepSwitched:
		if c.cb.OnStepSwitch != nil {
			c.cb.OnStepSwitch(e.Change)
		}
	case ParticipantUpdated:
		if c.cb.OnParticipantUpdate != nil {
			c.cb.OnParticipantUpdate(e.Kind, e.Participant, e.Stats)
		}
	case WriteParticipant:
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
		defer cancel()
		if err := c.store.UpdateParticipant(ctx, e.SessionID, e.StudentID, e.IsSynced, e.LastSeenSlide); err != nil {
			c.report(fmt.Errorf("update participant position: %w", err))
		}
	case Teardown:
		c.teardown()
	}
}

// fail reports err through OnError and returns it
func (c *Coordinator) fail(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	c.report(err)
	return err
}

func (c *Coordinator) report(err error) {
	log.Printf("Coordinator error: user=%s err=%v", c.snapshot().UserID, err)
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}

func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.StoreTimeout)
}

// requireInitialized returns the current state or ErrNotInitialized
func (c *Coordinator) requireInitialized() (State, error) {
	st := c.snapshot()
	if st.Phase == PhaseUninitialized {
		return st, types.ErrNotInitialized
	}
	return st, nil
}

// requireActive returns the current state bound to role, or the matching error
func (c *Coordinator) requireActive(role Role) (State, error) {
	st, err := c.requireInitialized()
	if err != nil {
		return st, err
	}
	if st.Phase != PhaseActive || st.Session == nil {
		return st, types.ErrNoActiveSession
	}
	if role != RoleNone && st.Role != role {
		return st, types.ErrWrongRole
	}
	return st, nil
}

// teardown closes the current subscription and stops its watcher.
// The watch context is cancelled under mu so a concurrent resubscribe
// cannot install a subscription after the slot is cleared.
func (c *Coordinator) teardown() {
	c.mu.Lock()
	if c.cancelWatch != nil {
		c.cancelWatch()
	}
	sub := c.sub
	c.sub, c.cancelWatch = nil, nil
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			log.Printf("Failed to close feed subscription: %v", err)
		}
	}
}

// bind subscribes to the session topic, re-reads the row and activates.
// The subscription is opened before the read so no write between the two
// goes unseen. epoch is the value of currentEpoch when the caller started;
// a Disconnect since then, or an ended ctx, refuses the activation.
func (c *Coordinator) bind(ctx context.Context, epoch uint64, role Role, sessionID string, join func(ctx context.Context, s *types.PresentationSession) (*types.SessionParticipant, error)) (*types.PresentationSession, error) {
	c.teardown()

	topic := types.SessionTopic(sessionID)
	sub, subErr := c.feed.Subscribe(ctx, topic)
	if subErr != nil {
		// Non-fatal: the session stays usable through explicit catch-up
		c.report(fmt.Errorf("subscribe %s: %w", topic, subErr))
	}
	closeSub := func() {
		if sub != nil {
			_ = sub.Close()
		}
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	session, err := c.store.GetSession(sctx, sessionID)
	if err != nil {
		closeSub()
		return nil, err
	}
	if !session.IsActive {
		closeSub()
		return nil, types.ErrSessionNotFound
	}

	var participant *types.SessionParticipant
	if join != nil {
		participant, err = join(sctx, session)
		if err != nil {
			closeSub()
			return nil, err
		}
	}

	participants, err := c.store.ListParticipants(sctx, sessionID)
	if err != nil {
		log.Printf("Failed to list participants for %s: %v", sessionID, err)
	}

	next, err := c.dispatchActivation(ctx, epoch, Activated{
		Role:         role,
		Session:      session,
		Participant:  participant,
		Participants: participants,
		Connected:    sub != nil,
	})
	if err != nil {
		closeSub()
		if participant != nil {
			c.dropParticipant(sessionID, participant.StudentID)
		}
		log.Printf("Coordinator bind abandoned: session=%s err=%v", sessionID, err)
		return nil, err
	}

	c.attach(next.Generation, topic, sub)
	log.Printf("Coordinator bound: user=%s role=%s session=%s slide=%d/%d connected=%t",
		next.UserID, role, sessionID, session.CurrentSlide, session.TotalSlides, sub != nil)
	return session, nil
}

// dropParticipant removes a row written by an abandoned bind
func (c *Coordinator) dropParticipant(sessionID, studentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StoreTimeout)
	defer cancel()
	if err := c.store.RemoveParticipant(ctx, sessionID, studentID); err != nil {
		log.Printf("Failed to remove participant %s from %s after abandoned bind: %v", studentID, sessionID, err)
	}
}

// attach starts the watcher for generation; a stale generation closes sub.
// A nil sub starts the watcher in resubscribe, and until that succeeds the
// binding relies on explicit catch-up.
func (c *Coordinator) attach(generation uint64, topic string, sub interfaces.Subscription) {
	c.mu.Lock()
	if c.state.Phase != PhaseActive || c.state.Generation != generation {
		c.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.sub = sub
	c.cancelWatch = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.watch(ctx, generation, topic, sub)
}

// watch consumes feed events for one binding and resubscribes on loss
func (c *Coordinator) watch(ctx context.Context, generation uint64, topic string, sub interfaces.Subscription) {
	defer c.wg.Done()

	for {
		if sub != nil {
			c.consume(ctx, generation, sub)
			if ctx.Err() != nil {
				return
			}

			log.Printf("Feed subscription ended unexpectedly: topic=%s", topic)
			c.release(sub)
			c.dispatch(FeedStatus{Generation: generation, Connected: false})
		}
		if sub = c.resubscribe(ctx, generation, topic); sub == nil {
			return
		}
	}
}

// release closes a dead subscription unless teardown already took it
func (c *Coordinator) release(sub interfaces.Subscription) {
	c.mu.Lock()
	owned := c.sub == sub
	if owned {
		c.sub = nil
	}
	c.mu.Unlock()

	if owned {
		if err := sub.Close(); err != nil {
			log.Printf("Failed to close ended feed subscription: %v", err)
		}
	}
}

func (c *Coordinator) consume(ctx context.Context, generation uint64, sub interfaces.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.handleFeedEvent(generation, ev)
		}
	}
}

func (c *Coordinator) handleFeedEvent(generation uint64, ev *types.ChangeEvent) {
	switch ev.Table {
	case types.TableSessions:
		if ev.Session != nil {
			c.dispatch(SessionUpdated{Generation: generation, Session: ev.Session.Clone()})
		}
	case types.TableParticipants:
		if ev.Participant != nil {
			c.dispatch(ParticipantChanged{Generation: generation, Kind: ev.Kind, Participant: ev.Participant.Clone()})
		}
	}
}

// resubscribe retries the topic under the reconnect policy, then refetches
// the session so anything missed while disconnected is applied
func (c *Coordinator) resubscribe(ctx context.Context, generation uint64, topic string) interfaces.Subscription {
	var sub interfaces.Subscription
	err := c.opts.Reconnect.Run(ctx, func(attempt int) (bool, error) {
		s, err := c.feed.Subscribe(ctx, topic)
		if err != nil {
			log.Printf("Feed resubscribe attempt %d failed: topic=%s err=%v", attempt, topic, err)
			return false, err
		}
		sub = s
		return true, nil
	})
	if sub == nil {
		if ctx.Err() == nil {
			c.report(fmt.Errorf("resubscribe %s: %w", topic, err))
		}
		return nil
	}

	c.mu.Lock()
	if c.state.Phase != PhaseActive || c.state.Generation != generation || ctx.Err() != nil {
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	c.sub = sub
	sessionID := c.state.Session.ID
	c.mu.Unlock()

	c.dispatch(FeedStatus{Generation: generation, Connected: true})

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if fresh, err := c.store.GetSession(sctx, sessionID); err == nil {
		c.dispatch(SessionUpdated{Generation: generation, Session: fresh})
	} else if errors.Is(err, types.ErrSessionNotFound) {
		log.Printf("Session %s disappeared while disconnected", sessionID)
	} else {
		c.report(fmt.Errorf("refetch after reconnect: %w", err))
	}
	return sub
}
