package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ndkramer/one80learn-sub000/pkg/interfaces"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

var _ interfaces.Authorizer = (*Checker)(nil)

// Checker answers authorization questions from catalog reads
// ARCHITECTURAL DISCOVERY: Pure reads with no caching, so enrollment or
// ownership changes take effect on the next check
type Checker struct {
	catalog interfaces.CatalogReader
}

// NewChecker creates a checker over the catalog tables
func NewChecker(catalog interfaces.CatalogReader) *Checker {
	return &Checker{catalog: catalog}
}

// CanControlScope allows the owning class's instructor or a super-admin
func (c *Checker) CanControlScope(ctx context.Context, userID string, scope types.Scope) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if admin, err := c.isSuperAdmin(ctx, userID); err != nil || admin {
		return err
	}

	classID, err := c.ClassOf(ctx, scope)
	if err != nil {
		return err
	}
	class, err := c.catalog.GetClass(ctx, classID)
	if err != nil {
		return lookupError("class", classID, err)
	}
	if class.InstructorID != userID {
		return fmt.Errorf("%w: %s is not the instructor of class %s", types.ErrUnauthorized, userID, classID)
	}
	return nil
}

// CanControlSession allows the session's own instructor or a super-admin
func (c *Checker) CanControlSession(ctx context.Context, userID string, session *types.PresentationSession) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if session.InstructorID == userID {
		return nil
	}
	admin, err := c.isSuperAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !admin {
		return fmt.Errorf("%w: %s does not own session %s", types.ErrUnauthorized, userID, session.ID)
	}
	return nil
}

// CanJoinSession requires an active enrollment in the session's owning class
func (c *Checker) CanJoinSession(ctx context.Context, userID string, session *types.PresentationSession) error {
	if err := requireUser(userID); err != nil {
		return err
	}

	classID, err := c.ClassOf(ctx, session.Scope())
	if err != nil {
		return err
	}
	enrollment, err := c.catalog.GetEnrollment(ctx, classID, userID)
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("%w: %s is not enrolled in class %s", types.ErrUnauthorized, userID, classID)
	}
	if err != nil {
		return types.StoreError("read enrollment", err)
	}
	if enrollment.Status != types.EnrollmentActive {
		return fmt.Errorf("%w: enrollment of %s in class %s is %s", types.ErrUnauthorized, userID, classID, enrollment.Status)
	}
	return nil
}

// ClassOf resolves a scope to its owning class
// FUNCTIONAL DISCOVERY: Module scopes resolve through modules.class_id
func (c *Checker) ClassOf(ctx context.Context, scope types.Scope) (string, error) {
	switch scope.Kind {
	case types.ScopeClass:
		return scope.ID, nil
	case types.ScopeModule:
		module, err := c.catalog.GetModule(ctx, scope.ID)
		if err != nil {
			return "", lookupError("module", scope.ID, err)
		}
		return module.ClassID, nil
	default:
		return "", types.ErrInvalidScope
	}
}

// ModuleOfStep resolves a step to its module
func (c *Checker) ModuleOfStep(ctx context.Context, stepID string) (string, error) {
	step, err := c.catalog.GetStep(ctx, stepID)
	if err != nil {
		return "", lookupError("step", stepID, err)
	}
	return step.ModuleID, nil
}

func (c *Checker) isSuperAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := c.catalog.GetUser(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, types.StoreError("read user", err)
	}
	return user.IsSuperAdmin, nil
}

func requireUser(userID string) error {
	if userID == "" {
		return types.ErrNotAuthenticated
	}
	if !types.IsValidUserID(userID) {
		return types.ErrInvalidUserID
	}
	return nil
}

// lookupError maps a missing catalog row to Unauthorized and anything else to a store failure
func lookupError(what, id string, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("%w: unknown %s %s", types.ErrUnauthorized, what, id)
	}
	return types.StoreError("read "+what, err)
}
