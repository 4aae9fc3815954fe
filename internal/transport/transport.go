package transport

import (
	"context"
	"time"
)

// Events carries the transport's asynchronous notifications. OnData runs on
// the transport's read goroutine, which must never be blocked for long;
// consumers hand the bytes to a delivery bridge rather than processing them
// in place. OnDisconnect fires exactly once per connection, with a nil reason
// for an intentional stop and a non-nil reason for an abnormal closure.
type Events struct {
	OnData       func(data []byte)
	OnDisconnect func(reason error)
}

// Stats holds operational statistics for one transport.
type Stats struct {
	MessagesRx   uint64
	MessagesTx   uint64
	BytesRx      uint64
	BytesTx      uint64
	ErrorsTotal  uint64
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is one message-oriented connection to the hub.
// This interface allows mocking the WebSocket transport in tests.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	Stop() error
	IsConnected() bool
	Stats() Stats
}
