package gateway

import "errors"

var (
	// ErrMessageFormat is returned for a command payload that is not a
	// non-empty JSON object.
	ErrMessageFormat = errors.New("gateway: malformed command payload")

	// ErrAlreadyStarted is returned by a second call to Bridge.Start.
	ErrAlreadyStarted = errors.New("gateway: bridge already started")

	// ErrNotStarted is returned by Bridge.Stop before Start.
	ErrNotStarted = errors.New("gateway: bridge not started")
)
