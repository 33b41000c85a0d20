package feed

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("feed hub is already running")
	ErrHubNotRunning     = errors.New("feed hub is not running")
	ErrInvalidTopic      = errors.New("topic must not be empty")
	ErrUnknownDriver     = errors.New("unknown feed driver")
)
