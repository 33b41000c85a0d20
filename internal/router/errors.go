package router

import "errors"

// Router-specific errors
var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidPayload    = errors.New("invalid command payload")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrMalformedFrame    = errors.New("malformed command frame")
)
