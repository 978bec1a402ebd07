package domain

import "errors"

// Domain errors - these are returned by substrate implementations and
// checked by the application layer (dispatcher, worker).

var (
	// ErrNotFound indicates the requested job does not exist. No store in
	// this module returns it: Find reports a missing job as (nil, nil).
	ErrNotFound = errors.New("job not found")

	// ErrHandlerNotRegistered indicates no executor is registered for a
	// job's type. Surfaced as a normal (retryable, then terminal) handler
	// failure; never returned to a caller that isn't the worker's own
	// execution step.
	ErrHandlerNotRegistered = errors.New("no handler registered for job type")

	// ErrInvalidExecutor is raised at registration time when a
	// constructor does not yield a conforming executor.
	ErrInvalidExecutor = errors.New("executor does not conform to handler capability")

	// ErrDriverNotAvailable names a dispatch layer substrate that was
	// explicitly selected but cannot be reached. No constructor in this
	// module returns it: redis.New does not contact the server, so an
	// unreachable redis surfaces only on the first broker call.
	ErrDriverNotAvailable = errors.New("dispatch layer driver not available")
)
