package hub

import "errors"

// Sentinel errors for hub client operations.
var (
	// ErrHandshakeFailed indicates the hub rejected the protocol handshake.
	ErrHandshakeFailed = errors.New("hub: handshake failed")

	// ErrHandshakeTimeout indicates no handshake response arrived within
	// the configured bound.
	ErrHandshakeTimeout = errors.New("hub: handshake timeout")

	// ErrNotConnected indicates an operation that requires an established
	// session.
	ErrNotConnected = errors.New("hub: not connected")

	// ErrAlreadyStarted indicates Start was called on a running client.
	ErrAlreadyStarted = errors.New("hub: already started")

	// ErrServerClose indicates the hub sent a close message carrying an
	// error. Treated as an abnormal disconnection.
	ErrServerClose = errors.New("hub: server requested close")

	// ErrServerTimeout indicates the hub went silent beyond the configured
	// server timeout. Treated as an abnormal disconnection.
	ErrServerTimeout = errors.New("hub: server timeout")

	// ErrMalformedMessage indicates a frame that could not be decoded.
	ErrMalformedMessage = errors.New("hub: malformed message")
)
