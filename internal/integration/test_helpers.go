package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndkramer/one80learn-sub000/internal/auth"
	"github.com/ndkramer/one80learn-sub000/internal/coordinator"
	"github.com/ndkramer/one80learn-sub000/internal/database"
	"github.com/ndkramer/one80learn-sub000/internal/feed"
	"github.com/ndkramer/one80learn-sub000/internal/session"
	dbconfig "github.com/ndkramer/one80learn-sub000/pkg/database"
	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Stack is an in-process deployment: migrated SQLite store, memory feed,
// session layer and catalog authorizer
type Stack struct {
	DB       *database.Manager
	Hub      *feed.Hub
	Sessions *session.Manager
	Auth     *auth.Checker
}

// NewStack builds a Stack in a temp directory and seeds the test catalog.
// Everything is torn down through t.Cleanup.
func NewStack(t testing.TB) *Stack {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "slidesync.db")
	db, err := database.NewManager(cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})
	if err := dbconfig.NewMigrationManager(db.GetDB(), "").ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	SeedCatalog(t, db)

	hub := feed.NewHub(feed.DefaultBufferSize)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start feed hub: %v", err)
	}
	t.Cleanup(func() {
		if hub.IsRunning() {
			_ = hub.Stop()
		}
	})

	return &Stack{
		DB:       db,
		Hub:      hub,
		Sessions: session.NewManager(db, hub),
		Auth:     auth.NewChecker(db),
	}
}

// SeedCatalog loads the shared test catalog:
// class c1 (instructor inst) with modules m1, m2 and step s1 in m2;
// class c2 (instructor inst2) with module m9; super-admin admin;
// students stu and stu2 enrolled in c1; outsider enrolled nowhere.
func SeedCatalog(t testing.TB, db *database.Manager) {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Failed to seed catalog: %v", err)
		}
	}
	for _, u := range []*types.User{
		{ID: "inst"}, {ID: "inst2"}, {ID: "admin", IsSuperAdmin: true},
		{ID: "stu"}, {ID: "stu2"}, {ID: "outsider"},
	} {
		must(db.UpsertUser(ctx, u))
	}
	must(db.UpsertClass(ctx, &types.Class{ID: "c1", InstructorID: "inst"}))
	must(db.UpsertClass(ctx, &types.Class{ID: "c2", InstructorID: "inst2"}))
	must(db.UpsertModule(ctx, &types.Module{ID: "m1", ClassID: "c1"}))
	must(db.UpsertModule(ctx, &types.Module{ID: "m2", ClassID: "c1"}))
	must(db.UpsertModule(ctx, &types.Module{ID: "m9", ClassID: "c2"}))
	must(db.UpsertStep(ctx, &types.Step{ID: "s1", ModuleID: "m2"}))
	must(db.UpsertEnrollment(ctx, &types.Enrollment{ClassID: "c1", StudentID: "stu", Status: types.EnrollmentActive}))
	must(db.UpsertEnrollment(ctx, &types.Enrollment{ClassID: "c1", StudentID: "stu2", Status: types.EnrollmentActive}))
}

// FastOptions shortens retry policies so scenarios finish quickly
func FastOptions() coordinator.Options {
	return coordinator.Options{
		CourseSessions: true,
		JoinRetry:      coordinator.RetryPolicy{MaxAttempts: 100, Interval: 10 * time.Millisecond, Multiplier: 1},
		Reconnect:      coordinator.RetryPolicy{MaxAttempts: 50, Interval: 10 * time.Millisecond, Multiplier: 1},
		StoreTimeout:   5 * time.Second,
	}
}

// NewCoordinator builds a coordinator on the stack and registers Disconnect
// and Wait for cleanup
func (s *Stack) NewCoordinator(t testing.TB, opts coordinator.Options, cb coordinator.Callbacks) *coordinator.Coordinator {
	return s.NewCoordinatorOn(t, s.Hub, opts, cb)
}

// NewCoordinatorOn is NewCoordinator with a substitute feed
func (s *Stack) NewCoordinatorOn(t testing.TB, f interfaces.Feed, opts coordinator.Options, cb coordinator.Callbacks) *coordinator.Coordinator {
	t.Helper()
	c := coordinator.New(s.Sessions, f, s.Auth, opts, cb)
	t.Cleanup(func() {
		c.Disconnect()
		c.Wait()
	})
	return c
}

// WaitFor polls cond until it holds or the deadline passes
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
