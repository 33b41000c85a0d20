package router

import (
	"context"
	"errors"

	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Error codes carried on failed response frames
const (
	CodeNotAuthenticated       = "not_authenticated"
	CodeNotInitialized         = "not_initialized"
	CodeUnauthorized           = "unauthorized"
	CodeSessionNotFound        = "session_not_found"
	CodeInvalidSlide           = "invalid_slide"
	CodeSessionConflict        = "session_conflict"
	CodeTransport              = "transport_error"
	CodeStore                  = "store_error"
	CodeCourseSessionsDisabled = "course_sessions_disabled"
	CodeNotCourseSession       = "not_course_session"
	CodeNoActiveSession        = "no_active_session"
	CodeWrongRole              = "wrong_role"
	CodeUnitNotInClass         = "unit_not_in_class"
	CodeInvalidRequest         = "invalid_request"
	CodeRateLimited            = "rate_limited"
	CodeUnknownCommand         = "unknown_command"
	CodeTimeout                = "timeout"
	CodeInternal               = "internal_error"
)

// codeTable is checked in order; the first match wins
var codeTable = []struct {
	err  error
	code string
}{
	{types.ErrSessionConflict, CodeSessionConflict},
	{types.ErrNotAuthenticated, CodeNotAuthenticated},
	{types.ErrNotInitialized, CodeNotInitialized},
	{types.ErrUnauthorized, CodeUnauthorized},
	{types.ErrSessionNotFound, CodeSessionNotFound},
	{types.ErrInvalidSlide, CodeInvalidSlide},
	{types.ErrCourseSessionsDisabled, CodeCourseSessionsDisabled},
	{types.ErrNotCourseSession, CodeNotCourseSession},
	{types.ErrNoActiveSession, CodeNoActiveSession},
	{types.ErrWrongRole, CodeWrongRole},
	{types.ErrUnitNotInClass, CodeUnitNotInClass},
	{types.ErrTransport, CodeTransport},
	{types.ErrStore, CodeStore},
	{types.ErrInvalidUserID, CodeInvalidRequest},
	{types.ErrInvalidSessionName, CodeInvalidRequest},
	{types.ErrInvalidScope, CodeInvalidRequest},
	{types.ErrInvalidTotalSlides, CodeInvalidRequest},
	{types.ErrNotFound, CodeSessionNotFound},
	{ErrInvalidPayload, CodeInvalidRequest},
	{ErrMalformedFrame, CodeInvalidRequest},
	{ErrRateLimitExceeded, CodeRateLimited},
	{ErrUnknownCommand, CodeUnknownCommand},
	{context.DeadlineExceeded, CodeTimeout},
}

// ErrorCode maps an error onto its wire code
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}
