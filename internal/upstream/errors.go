package upstream

import "errors"

// Sentinel kinds for upstream failures. Callers classify with errors.Is.
var (
	// ErrTransient marks network or upstream hiccups worth retrying on the
	// next scheduled cycle, never immediately.
	ErrTransient = errors.New("transient upstream error")

	// ErrAuthRequired means the session expired; the shared reauth path
	// should be taken and the call retried once.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthFailed means the credentials were rejected. Not retried
	// automatically; the scheduler backs the person off instead.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnavailable means the upstream service is down. Treated like
	// ErrTransient, possibly with a longer backoff.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrNotFound reports an unknown person or record on a query or
	// acknowledgement call. Never affects cache state.
	ErrNotFound = errors.New("not found")
)
