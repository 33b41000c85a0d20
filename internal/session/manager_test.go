package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ndkramer/one80learn-sub000/internal/database"
	dbconfig "github.com/ndkramer/one80learn-sub000/pkg/database"
	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// recordingFeed captures published events in order
type recordingFeed struct {
	mu     sync.Mutex
	events []*types.ChangeEvent
	err    error
}

func (f *recordingFeed) Subscribe(ctx context.Context, topic string) (interfaces.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *recordingFeed) Publish(ctx context.Context, event *types.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *recordingFeed) take() []*types.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

// failingDB fails every write it overrides
type failingDB struct {
	interfaces.DatabaseManager
	err error
}

func (f *failingDB) CreateSession(ctx context.Context, s *types.PresentationSession) error {
	return f.err
}

func (f *failingDB) UpdateSessionSlide(ctx context.Context, id string, slide int, at time.Time) error {
	return f.err
}

func setup(t *testing.T) (*Manager, *database.Manager, *recordingFeed) {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := dbconfig.NewMigrationManager(db.GetDB(), "").ApplyMigrations(); err != nil {
		t.Fatal(err)
	}

	feed := &recordingFeed{}
	return NewManager(db, feed), db, feed
}

func moduleSession(instructor string, total int) *types.PresentationSession {
	return &types.PresentationSession{
		ScopeKind:    types.ScopeModule,
		ScopeID:      "m1",
		InstructorID: instructor,
		CurrentSlide: 1,
		TotalSlides:  total,
		SessionName:  "Lecture",
	}
}

func TestManager_CreateSessionPublishesInsert(t *testing.T) {
	m, _, feed := setup(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, moduleSession("inst", 10))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if s.ID == "" || !s.IsActive || s.CreatedAt.IsZero() {
		t.Errorf("Session not initialised: %+v", s)
	}

	events := feed.take()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Topic != types.SessionTopic(s.ID) || ev.Table != types.TableSessions || ev.Kind != types.ChangeInsert {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.Session == nil || ev.Session.ID != s.ID {
		t.Errorf("Event should carry the fresh row")
	}

	stats := m.GetStats()
	if stats["active_sessions"] != 1 {
		t.Errorf("Expected 1 active session in index, got %v", stats["active_sessions"])
	}
}

func TestManager_CreateSessionValidation(t *testing.T) {
	m, _, feed := setup(t)

	bad := moduleSession("inst", 3)
	bad.CurrentSlide = 4
	if _, err := m.CreateSession(context.Background(), bad); !errors.Is(err, types.ErrInvalidSlide) {
		t.Errorf("Expected ErrInvalidSlide, got %v", err)
	}
	if len(feed.take()) != 0 {
		t.Error("Rejected session must not publish")
	}
}

func TestManager_CreateSessionConflictPassesThrough(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, moduleSession("inst", 3)); err != nil {
		t.Fatal(err)
	}
	_, err := m.CreateSession(ctx, moduleSession("other", 3))
	var ce *types.ConflictError
	if !errors.As(err, &ce) || ce.SameInstructor {
		t.Errorf("Expected foreign conflict, got %v", err)
	}
	if errors.Is(err, types.ErrStore) {
		t.Error("Conflict must not be classified as a store failure")
	}
}

func TestManager_UpdateSlideReturnsFreshRow(t *testing.T) {
	m, _, feed := setup(t)
	ctx := context.Background()

	s, _ := m.CreateSession(ctx, moduleSession("inst", 10))
	feed.take()

	fresh, err := m.UpdateSlide(ctx, s.ID, 6)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.CurrentSlide != 6 || fresh.UpdatedAt.Before(s.UpdatedAt) {
		t.Errorf("Unexpected fresh row: %+v", fresh)
	}

	events := feed.take()
	if len(events) != 1 || events[0].Kind != types.ChangeUpdate || events[0].Session.CurrentSlide != 6 {
		t.Errorf("Expected one update event with slide 6, got %+v", events)
	}

	if _, err := m.UpdateSlide(ctx, s.ID, 11); !errors.Is(err, types.ErrInvalidSlide) {
		t.Errorf("Expected ErrInvalidSlide, got %v", err)
	}
}

func TestManager_SwitchUnitPublishesParticipants(t *testing.T) {
	m, _, feed := setup(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, &types.PresentationSession{
		ScopeKind: types.ScopeClass, ScopeID: "c1", InstructorID: "inst", CurrentSlide: 1, TotalSlides: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := m.JoinParticipant(ctx, s.ID, id, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.UpdateParticipant(ctx, s.ID, "a", false, 1); err != nil {
		t.Fatal(err)
	}
	feed.take()

	fresh, err := m.SwitchUnit(ctx, s.ID, types.UnitSwitch{ModuleID: types.StringPtr("m2"), TotalSlides: 9, StartSlide: 1})
	if err != nil {
		t.Fatal(err)
	}
	if types.StringValue(fresh.CurrentModuleID) != "m2" || fresh.TotalSlides != 9 {
		t.Errorf("Unexpected switched row: %+v", fresh)
	}

	events := feed.take()
	if len(events) != 3 {
		t.Fatalf("Expected session + 2 participant events, got %d", len(events))
	}
	if events[0].Table != types.TableSessions {
		t.Errorf("Session event must come first, got %s", events[0].Table)
	}
	for _, ev := range events[1:] {
		if ev.Table != types.TableParticipants || !ev.Participant.IsSynced || ev.Participant.LastSeenSlide != 1 {
			t.Errorf("Expected resynced participant event, got %+v", ev.Participant)
		}
	}
}

func TestManager_EndSessionPublishesInactiveRow(t *testing.T) {
	m, _, feed := setup(t)
	ctx := context.Background()

	s, _ := m.CreateSession(ctx, moduleSession("inst", 3))
	feed.take()

	if err := m.EndSession(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	events := feed.take()
	if len(events) != 1 || events[0].Session.IsActive {
		t.Errorf("Expected one inactive session event, got %+v", events)
	}
	if m.GetStats()["active_sessions"] != 0 {
		t.Error("Ended session should leave the active index")
	}
	if _, err := m.FindActiveSession(ctx, types.ModuleScope("m1")); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ParticipantEvents(t *testing.T) {
	m, _, feed := setup(t)
	ctx := context.Background()

	s, _ := m.CreateSession(ctx, moduleSession("inst", 5))
	feed.take()

	p, err := m.JoinParticipant(ctx, s.ID, "stu", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsSynced || p.LastSeenSlide != 3 {
		t.Errorf("Joined participant should be synced at slide 3: %+v", p)
	}
	if _, err := m.JoinParticipant(ctx, s.ID, "stu", 4); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveParticipant(ctx, s.ID, "stu"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveParticipant(ctx, s.ID, "stu"); err != nil {
		t.Errorf("Removing twice should be a no-op, got %v", err)
	}

	events := feed.take()
	kinds := []string{types.ChangeInsert, types.ChangeUpdate, types.ChangeDelete}
	if len(events) != len(kinds) {
		t.Fatalf("Expected %d events, got %d", len(kinds), len(events))
	}
	for i, k := range kinds {
		if events[i].Kind != k || events[i].Table != types.TableParticipants {
			t.Errorf("Event %d: expected %s participant event, got %s %s", i, k, events[i].Table, events[i].Kind)
		}
	}

	if _, err := m.JoinParticipant(ctx, s.ID, "bad id", 1); !errors.Is(err, types.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
}

func TestManager_PublishFailureDoesNotFailWrite(t *testing.T) {
	m, _, feed := setup(t)
	feed.err = errors.New("feed down")

	s, err := m.CreateSession(context.Background(), moduleSession("inst", 3))
	if err != nil {
		t.Fatalf("Write should succeed when publish fails: %v", err)
	}
	if s.ID == "" {
		t.Error("Expected persisted session")
	}
}

func TestManager_StoreFailureClassified(t *testing.T) {
	m := NewManager(&failingDB{err: errors.New("disk I/O error")}, &recordingFeed{})

	_, err := m.CreateSession(context.Background(), moduleSession("inst", 3))
	if !errors.Is(err, types.ErrStore) {
		t.Errorf("Expected ErrStore, got %v", err)
	}
	_, err = m.UpdateSlide(context.Background(), "s", 2)
	if !errors.Is(err, types.ErrStore) {
		t.Errorf("Expected ErrStore, got %v", err)
	}
}

func TestManager_LoadActiveSessions(t *testing.T) {
	m, db, _ := setup(t)
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, moduleSession("inst", 3)); err != nil {
		t.Fatal(err)
	}

	fresh := NewManager(db, nil)
	if err := fresh.LoadActiveSessions(ctx); err != nil {
		t.Fatal(err)
	}
	if got := fresh.GetStats()["active_sessions"]; got != 1 {
		t.Errorf("Expected 1 loaded session, got %v", got)
	}
}

func TestManager_ListActiveSessionsSeesOtherWriters(t *testing.T) {
	m, db, _ := setup(t)
	ctx := context.Background()

	other := NewManager(db, nil)
	created, err := other.CreateSession(ctx, moduleSession("inst", 3))
	if err != nil {
		t.Fatal(err)
	}

	active, err := m.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != created.ID {
		t.Fatalf("Expected the session written by another manager, got %+v", active)
	}
	if got := m.GetStats()["active_sessions"]; got != 1 {
		t.Errorf("Listing should refresh the index, got %v", got)
	}

	if err := other.EndSession(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if active, _ := m.ListActiveSessions(ctx); len(active) != 0 {
		t.Errorf("Ended session should drop out of the listing, got %d", len(active))
	}
}
