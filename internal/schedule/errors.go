package schedule

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrSchedulerClosed is returned when work is scheduled after Close.
	ErrSchedulerClosed = errors.New("schedule: scheduler closed")

	// ErrNilCallback is returned when a nil callback is scheduled.
	ErrNilCallback = errors.New("schedule: nil callback")

	// ErrCloseTimeout is returned when in-flight work did not drain within
	// the shutdown grace period.
	ErrCloseTimeout = errors.New("schedule: close grace period exceeded")

	// ErrInvalidTick is returned when a timer is started with a
	// non-positive tick interval.
	ErrInvalidTick = errors.New("schedule: timer tick must be positive")
)
