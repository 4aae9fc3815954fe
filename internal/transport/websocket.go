package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and limits for the WebSocket connection.
const (
	// defaultHandshakeTimeout is the maximum time for the WebSocket
	// upgrade to complete.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for individual write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReadLimit caps a single inbound WebSocket message. Larger
	// messages close the connection rather than exhaust memory.
	defaultReadLimit = 64 * 1024
)

// Config holds WebSocket transport configuration.
type Config struct {
	// URL is the hub endpoint, ws:// or wss://.
	URL string

	// HandshakeTimeout is the maximum time for the WebSocket upgrade.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the timeout for write operations.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// ReadLimit caps a single inbound message in bytes.
	// Default: 64 KiB.
	ReadLimit int64

	// Events receives data-arrived and disconnected notifications.
	Events Events

	// Logger is optional.
	Logger Logger
}

// Ensure WSTransport implements Transport.
var _ Transport = (*WSTransport)(nil)

// WSTransport is one WebSocket connection to the hub.
//
// One WSTransport carries one connection: Start dials once, and after the
// connection ends (Stop or abnormal closure) the transport is spent. A
// reconnecting owner creates a fresh WSTransport per attempt.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - OnData is invoked from the read goroutine; OnDisconnect fires exactly
//     once, from whichever path ends the connection first.
type WSTransport struct {
	cfg Config

	// Connection state
	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	started   bool

	// Gorilla permits one concurrent writer per connection.
	writeMu sync.Mutex

	// Shutdown coordination (closeOnce prevents double-close panics)
	done           *closeOnce
	wg             sync.WaitGroup
	disconnectOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	messagesRx   atomic.Uint64
	messagesTx   atomic.Uint64
	bytesRx      atomic.Uint64
	bytesTx      atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// NewWebSocket creates an unstarted WebSocket transport.
//
// Parameters:
//   - cfg: Transport configuration (URL required, ws or wss scheme)
//
// Returns:
//   - *WSTransport: Ready for Start
//   - error: If the URL is missing or malformed
func NewWebSocket(cfg Config) (*WSTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrConnectFailed)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %w", ErrConnectFailed, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q (use ws or wss)", ErrConnectFailed, u.Scheme)
	}

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	return &WSTransport{
		cfg:    cfg,
		done:   newCloseOnce(),
		logger: cfg.Logger,
	}, nil
}

// Start dials the hub and begins reading. It blocks only for the dial and
// upgrade, bounded by HandshakeTimeout and ctx.
//
// Returns:
//   - error: ErrAlreadyStarted on reuse, ErrConnectFailed on dial failure
func (t *WSTransport) Start(ctx context.Context) error {
	t.connMu.Lock()
	if t.started {
		t.connMu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.connMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(dialCtx, t.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("%w: dial %s: status %d: %w", ErrConnectFailed, t.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: dial %s: %w", ErrConnectFailed, t.cfg.URL, err)
	}

	conn.SetReadLimit(t.cfg.ReadLimit)

	t.connMu.Lock()
	t.conn = conn
	t.connected = true
	t.connMu.Unlock()
	t.lastActivity.Store(time.Now().Unix())

	t.wg.Add(1)
	go t.readLoop(conn)

	t.logInfo("connected", "url", t.cfg.URL)
	return nil
}

// readLoop reads messages until the connection ends, forwarding payloads to
// OnData. It must stay responsive; consumers queue the bytes elsewhere.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(err)
			return
		}

		t.messagesRx.Add(1)
		t.bytesRx.Add(uint64(len(data)))
		t.lastActivity.Store(time.Now().Unix())

		if t.cfg.Events.OnData != nil {
			t.cfg.Events.OnData(data)
		}
	}
}

// handleReadError classifies the read failure and fires the disconnect
// notification. A requested stop or a clean close handshake is intentional
// (nil reason); everything else is abnormal.
func (t *WSTransport) handleReadError(err error) {
	t.connMu.Lock()
	t.connected = false
	t.connMu.Unlock()

	if t.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logDebug("connection closed", "error", err.Error())
		t.fireDisconnect(nil)
		return
	}

	t.errorsTotal.Add(1)
	t.logWarn("connection lost", "error", err.Error())
	t.fireDisconnect(fmt.Errorf("%w: %w", ErrAbnormalClosure, err))
}

// fireDisconnect delivers the disconnected notification exactly once.
func (t *WSTransport) fireDisconnect(reason error) {
	t.disconnectOnce.Do(func() {
		if t.cfg.Events.OnDisconnect != nil {
			t.cfg.Events.OnDisconnect(reason)
		}
	})
}

// Send writes one text message to the hub.
//
// Parameters:
//   - ctx: Context for cancellation
//   - payload: Complete wire frame, delimiter included
//
// Returns:
//   - error: ErrNotConnected if the connection is down, ErrSendFailed on
//     write failure
func (t *WSTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	t.connMu.RLock()
	conn := t.conn
	connected := t.connected
	t.connMu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	t.messagesTx.Add(1)
	t.bytesTx.Add(uint64(len(payload)))
	t.lastActivity.Store(time.Now().Unix())
	return nil
}

// Stop closes the connection intentionally.
//
// It attempts a clean close handshake, then closes the socket and waits for
// the read goroutine. Safe to call multiple times. The disconnect
// notification carries a nil reason.
//
// Returns:
//   - error: nil (closing is best-effort)
func (t *WSTransport) Stop() error {
	t.done.Close()

	t.connMu.Lock()
	conn := t.conn
	t.connected = false
	t.connMu.Unlock()

	if conn != nil {
		// Best-effort close frame so the hub sees an intentional departure.
		t.writeMu.Lock()
		//nolint:errcheck // Best-effort close message
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		//nolint:errcheck // Best-effort close message
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()

		conn.Close()
	}

	t.wg.Wait()
	t.fireDisconnect(nil)

	t.logInfo("connection stopped")
	return nil
}

// isClosed returns true if Stop has been requested.
func (t *WSTransport) isClosed() bool {
	select {
	case <-t.done.Done():
		return true
	default:
		return false
	}
}

// IsConnected returns true if the connection is established.
func (t *WSTransport) IsConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.connected
}

// Stats returns current operational statistics.
func (t *WSTransport) Stats() Stats {
	return Stats{
		MessagesRx:   t.messagesRx.Load(),
		MessagesTx:   t.messagesTx.Load(),
		BytesRx:      t.bytesRx.Load(),
		BytesTx:      t.bytesTx.Load(),
		ErrorsTotal:  t.errorsTotal.Load(),
		LastActivity: time.Unix(t.lastActivity.Load(), 0),
		Connected:    t.IsConnected(),
	}
}

// SetLogger sets the logger for this transport.
func (t *WSTransport) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (t *WSTransport) logDebug(msg string, keysAndValues ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (t *WSTransport) logInfo(msg string, keysAndValues ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (t *WSTransport) logWarn(msg string, keysAndValues ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
