package job

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidState is returned for any illegal status transition,
	// including retry/cancel attempts against a state that does not
	// permit them. The job's status is left unchanged.
	ErrInvalidState = errors.New("invalid job state")

	// ErrRetryWindowExpired is returned when a retry is requested after
	// the window following the job's start has elapsed.
	ErrRetryWindowExpired = errors.New("retry window expired")

	// ErrJobHasNoTargets is returned when target resolution yields zero
	// hosts; the job fails immediately and no host results are created.
	ErrJobHasNoTargets = errors.New("job has no targets")

	// ErrHostTimeout marks a per-host execution that exceeded its
	// timeout. Recorded in that host's result, never propagated.
	ErrHostTimeout = errors.New("timeout")

	// ErrChannelClosed is returned on publish after a job's live update
	// topic was torn down. Callers log and swallow it (best-effort).
	ErrChannelClosed = errors.New("live update channel closed")
)

// HostExecutionError wraps a device-automation failure for one host. It is
// captured into that host's result and never aborts sibling executors.
type HostExecutionError struct {
	Host string
	Err  error
}

func (e *HostExecutionError) Error() string {
	return fmt.Sprintf("host %s: execution failed: %v", e.Host, e.Err)
}

func (e *HostExecutionError) Unwrap() error {
	return e.Err
}
