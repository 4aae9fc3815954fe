package retry

import "errors"

// Domain errors for the reconnection supervisor package.
var (
	// ErrReconnectExhausted is the terminal error when every allowed
	// reconnection attempt has failed. It wraps the last attempt's error.
	ErrReconnectExhausted = errors.New("retry: reconnect attempts exhausted")

	// ErrStopped is the terminal error when an explicit stop request ends a
	// reconnection episode.
	ErrStopped = errors.New("retry: stopped")

	// ErrReconnectInProgress reports an abnormal disconnection that arrived
	// while an episode was already running; no second episode is started.
	ErrReconnectInProgress = errors.New("retry: reconnection already in progress")

	// ErrReconnectDisabled reports an abnormal disconnection that cannot be
	// retried because auto-reconnect is disabled.
	ErrReconnectDisabled = errors.New("retry: auto-reconnect disabled")
)
