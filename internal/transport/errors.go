package transport

import "errors"

// Sentinel errors for transport operations.
var (
	// ErrConnectFailed indicates the WebSocket dial or upgrade failed.
	ErrConnectFailed = errors.New("transport: connection failed")

	// ErrNotConnected indicates an operation was attempted without an
	// established connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendFailed indicates a payload could not be written.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrAbnormalClosure indicates the connection dropped without a normal
	// close handshake. Carried as the disconnect reason so owners can
	// distinguish failures from intentional stops.
	ErrAbnormalClosure = errors.New("transport: abnormal closure")

	// ErrAlreadyStarted indicates Start was called on a live transport.
	ErrAlreadyStarted = errors.New("transport: already started")
)
