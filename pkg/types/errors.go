package types

import (
	"errors"
	"fmt"
)

// ARCHITECTURAL DISCOVERY: One taxonomy shared by the store, feed and coordinator
// so every layer classifies failures with errors.Is
var (
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrNotInitialized         = errors.New("coordinator not initialized")
	ErrUnauthorized           = errors.New("not authorized for this session")
	ErrSessionNotFound        = errors.New("session not found or inactive")
	ErrInvalidSlide           = errors.New("slide number out of range")
	ErrSessionConflict        = errors.New("an active session already exists for this scope")
	ErrTransport              = errors.New("change feed transport failure")
	ErrStore                  = errors.New("session store failure")
	ErrCourseSessionsDisabled = errors.New("course-level sessions are not enabled")
	ErrNotCourseSession       = errors.New("operation requires a course-level session")
	ErrNoActiveSession        = errors.New("no live session on this coordinator")
	ErrWrongRole              = errors.New("operation not available for this role")
	ErrUnitNotInClass         = errors.New("content unit does not belong to the session's class")
	ErrNotFound               = errors.New("record not found")
)

// Validation errors
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionName = errors.New("session name must be at most 200 characters")
	ErrInvalidScope       = errors.New("scope must be a module or class with a valid ID")
	ErrInvalidTotalSlides = errors.New("total slides must be positive")
)

// ConflictError reports an existing active session for the requested scope
// FUNCTIONAL DISCOVERY: SameInstructor=true means the caller may resume it,
// false means an operator must decide between ending it and aborting
type ConflictError struct {
	Existing       *PresentationSession
	SameInstructor bool
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return ErrSessionConflict.Error()
	}
	owner := "another instructor"
	if e.SameInstructor {
		owner = "you"
	}
	return fmt.Sprintf("%s: session %s owned by %s", ErrSessionConflict.Error(), e.Existing.ID, owner)
}

// Is lets errors.Is(err, ErrSessionConflict) match
func (e *ConflictError) Is(target error) bool {
	return target == ErrSessionConflict
}

// StoreError wraps an underlying persistence failure
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrappedError{kind: ErrStore, op: op, err: err}
}

// TransportError wraps an underlying feed failure
func TransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrappedError{kind: ErrTransport, op: op, err: err}
}

type wrappedError struct {
	kind error
	op   string
	err  error
}

func (e *wrappedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.kind.Error(), e.op, e.err)
}

func (e *wrappedError) Is(target error) bool {
	return target == e.kind
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
