package bridge

import "errors"

// Domain errors for the delivery bridge package.
var (
	// ErrDisconnected is delivered to a pending receive callback when the
	// transport closes while the callback is outstanding.
	ErrDisconnected = errors.New("bridge: transport disconnected")

	// ErrClosed is returned when frames arrive or callbacks are registered
	// after the bridge has been closed.
	ErrClosed = errors.New("bridge: closed")

	// ErrNilCallback is returned when Receive is called with a nil callback.
	ErrNilCallback = errors.New("bridge: nil receive callback")
)
