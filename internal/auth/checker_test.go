package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// mockCatalog is an in-memory CatalogReader
type mockCatalog struct {
	users       map[string]*types.User
	classes     map[string]*types.Class
	modules     map[string]*types.Module
	steps       map[string]*types.Step
	enrollments map[string]*types.Enrollment
	err         error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		users: map[string]*types.User{
			"admin": {ID: "admin", IsSuperAdmin: true},
			"inst":  {ID: "inst"},
		},
		classes: map[string]*types.Class{
			"c1": {ID: "c1", InstructorID: "inst"},
		},
		modules: map[string]*types.Module{
			"m1": {ID: "m1", ClassID: "c1"},
		},
		steps: map[string]*types.Step{
			"s1": {ID: "s1", ModuleID: "m1"},
		},
		enrollments: map[string]*types.Enrollment{
			"c1/stu":     {ClassID: "c1", StudentID: "stu", Status: types.EnrollmentActive},
			"c1/pending": {ClassID: "c1", StudentID: "pending", Status: types.EnrollmentPending},
		},
	}
}

func lookup[T any](m map[string]*T, key string, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	return v, nil
}

func (m *mockCatalog) GetUser(ctx context.Context, id string) (*types.User, error) {
	return lookup(m.users, id, m.err)
}
func (m *mockCatalog) GetClass(ctx context.Context, id string) (*types.Class, error) {
	return lookup(m.classes, id, m.err)
}
func (m *mockCatalog) GetModule(ctx context.Context, id string) (*types.Module, error) {
	return lookup(m.modules, id, m.err)
}
func (m *mockCatalog) GetStep(ctx context.Context, id string) (*types.Step, error) {
	return lookup(m.steps, id, m.err)
}
func (m *mockCatalog) GetEnrollment(ctx context.Context, classID, studentID string) (*types.Enrollment, error) {
	return lookup(m.enrollments, classID+"/"+studentID, m.err)
}

func TestChecker_CanControlScope(t *testing.T) {
	c := NewChecker(newMockCatalog())
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		scope   types.Scope
		wantErr error
	}{
		{"instructor of module", "inst", types.ModuleScope("m1"), nil},
		{"instructor of class", "inst", types.ClassScope("c1"), nil},
		{"super admin", "admin", types.ModuleScope("m1"), nil},
		{"super admin unknown module", "admin", types.ModuleScope("nope"), nil},
		{"student", "stu", types.ModuleScope("m1"), types.ErrUnauthorized},
		{"unknown module", "inst", types.ModuleScope("nope"), types.ErrUnauthorized},
		{"unknown class", "inst", types.ClassScope("nope"), types.ErrUnauthorized},
		{"anonymous", "", types.ModuleScope("m1"), types.ErrNotAuthenticated},
		{"malformed id", "bad id", types.ModuleScope("m1"), types.ErrInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CanControlScope(ctx, tt.user, tt.scope)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanControlScope(%s, %s) = %v, want %v", tt.user, tt.scope, err, tt.wantErr)
			}
		})
	}
}

func TestChecker_CanControlSession(t *testing.T) {
	c := NewChecker(newMockCatalog())
	ctx := context.Background()
	session := &types.PresentationSession{ID: "x", ScopeKind: types.ScopeModule, ScopeID: "m1", InstructorID: "inst"}

	if err := c.CanControlSession(ctx, "inst", session); err != nil {
		t.Errorf("Owner should control session: %v", err)
	}
	if err := c.CanControlSession(ctx, "admin", session); err != nil {
		t.Errorf("Super admin should control session: %v", err)
	}
	if err := c.CanControlSession(ctx, "other", session); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("Non-owner should be rejected, got %v", err)
	}
}

func TestChecker_CanJoinSession(t *testing.T) {
	c := NewChecker(newMockCatalog())
	ctx := context.Background()
	moduleSession := &types.PresentationSession{ID: "x", ScopeKind: types.ScopeModule, ScopeID: "m1", InstructorID: "inst"}
	classSession := &types.PresentationSession{ID: "y", ScopeKind: types.ScopeClass, ScopeID: "c1", InstructorID: "inst"}

	if err := c.CanJoinSession(ctx, "stu", moduleSession); err != nil {
		t.Errorf("Enrolled student should join module session via its class: %v", err)
	}
	if err := c.CanJoinSession(ctx, "stu", classSession); err != nil {
		t.Errorf("Enrolled student should join class session: %v", err)
	}
	if err := c.CanJoinSession(ctx, "pending", moduleSession); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("Pending enrollment should be rejected, got %v", err)
	}
	if err := c.CanJoinSession(ctx, "stranger", moduleSession); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("Unenrolled user should be rejected, got %v", err)
	}
}

func TestChecker_StoreFailure(t *testing.T) {
	catalog := newMockCatalog()
	catalog.err = errors.New("connection reset")
	c := NewChecker(catalog)

	err := c.CanControlScope(context.Background(), "inst", types.ModuleScope("m1"))
	if !errors.Is(err, types.ErrStore) {
		t.Errorf("Expected ErrStore, got %v", err)
	}
	if errors.Is(err, types.ErrUnauthorized) {
		t.Error("Store failure must not read as a denial")
	}
}

func TestChecker_Resolution(t *testing.T) {
	c := NewChecker(newMockCatalog())
	ctx := context.Background()

	if classID, err := c.ClassOf(ctx, types.ModuleScope("m1")); err != nil || classID != "c1" {
		t.Errorf("ClassOf(module m1) = %q, %v", classID, err)
	}
	if classID, err := c.ClassOf(ctx, types.ClassScope("c9")); err != nil || classID != "c9" {
		t.Errorf("ClassOf(class c9) = %q, %v", classID, err)
	}
	if _, err := c.ClassOf(ctx, types.Scope{Kind: "lesson", ID: "x"}); !errors.Is(err, types.ErrInvalidScope) {
		t.Errorf("Expected ErrInvalidScope, got %v", err)
	}
	if moduleID, err := c.ModuleOfStep(ctx, "s1"); err != nil || moduleID != "m1" {
		t.Errorf("ModuleOfStep(s1) = %q, %v", moduleID, err)
	}
	if _, err := c.ModuleOfStep(ctx, "nope"); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("Unknown step should read as unauthorized, got %v", err)
	}
}
