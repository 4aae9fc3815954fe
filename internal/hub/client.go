package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ferrule-io/hubwire/internal/bridge"
	"github.com/ferrule-io/hubwire/internal/budget"
	"github.com/ferrule-io/hubwire/internal/retry"
	"github.com/ferrule-io/hubwire/internal/schedule"
	"github.com/ferrule-io/hubwire/internal/transport"
)

// Default protocol timings.
const (
	// defaultHandshakeTimeout bounds the wait for the hub's handshake reply.
	defaultHandshakeTimeout = 15 * time.Second

	// defaultKeepAliveInterval is how often a ping is sent on an idle
	// connection.
	defaultKeepAliveInterval = 15 * time.Second

	// defaultServerTimeout is how long the hub may stay silent before the
	// connection is considered dead.
	defaultServerTimeout = 30 * time.Second

	// handshakePollTick is the polling interval while waiting for the
	// handshake reply.
	handshakePollTick = 50 * time.Millisecond
)

// ConnState is the client's connection state.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

// String returns a human-readable state name for logging.
func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TransportFactory builds one transport per connection attempt, with the
// given event handlers installed. This allows mocking the WebSocket
// transport in tests.
type TransportFactory func(events transport.Events) (transport.Transport, error)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ReconnectConfig holds the automatic reconnection policy.
type ReconnectConfig struct {
	Enabled     bool
	Delays      []time.Duration
	MaxAttempts int // 0 = unlimited
}

// DeliveryConfig holds the inbound delivery bridge tuning.
type DeliveryConfig struct {
	QueueCapacity    int
	Permits          int
	AdmissionTimeout time.Duration
	InlineFallback   bool
}

// Config holds hub client configuration.
type Config struct {
	// Transport builds one transport per connection attempt. Required.
	Transport TransportFactory

	// Scheduler runs delivery work, keepalive polling and backoff waits.
	// Required; owned by the caller and passed in explicitly.
	Scheduler *schedule.Scheduler

	// Budget is the sizing policy handed to the delivery bridge.
	Budget budget.Policy

	// HandshakeTimeout bounds the wait for the handshake reply.
	// Default: 15 seconds.
	HandshakeTimeout time.Duration

	// KeepAliveInterval is the ping cadence. Default: 15 seconds.
	KeepAliveInterval time.Duration

	// ServerTimeout is the maximum tolerated hub silence.
	// Default: 30 seconds.
	ServerTimeout time.Duration

	// Reconnect is the automatic reconnection policy.
	Reconnect ReconnectConfig

	// Delivery is the inbound bridge tuning.
	Delivery DeliveryConfig

	// OnMessage receives decoded invocations, one at a time, in arrival
	// order. Runs on a pooled delivery worker. Optional.
	OnMessage func(msg Message)

	// OnStateChange observes connection state transitions. Optional.
	OnStateChange func(state ConnState)

	// OnSessionEnd fires once per torn-down session with its identity and
	// the closure reason (nil for an intentional stop). Optional.
	OnSessionEnd func(sessionID string, reason error)

	// OnRetryState observes the reconnection supervisor. Optional.
	OnRetryState func(state retry.State, attempt int)

	// OnDisconnected is the terminal notification: the session ended and no
	// further automatic reconnection will happen. At most once per
	// reconnection episode. Optional.
	OnDisconnected func(reason error)

	// Logger is optional.
	Logger Logger
}

// Stats holds a snapshot across the client and its collaborators.
type Stats struct {
	State       ConnState
	SessionID   string
	MessagesRx  uint64
	PingsRx     uint64
	PingsTx     uint64
	MalformedRx uint64
	Bridge      bridge.Stats
	Transport   transport.Stats
	Retry       retry.Stats
}

// session is one live connection: transport, delivery bridge and an
// identity. A new session is built per connection attempt.
type session struct {
	id        string
	gen       uint64
	transport transport.Transport
	bridge    *bridge.Bridge
}

// Client is the hub protocol engine. It owns the connection lifecycle:
// dialing through a fresh transport per attempt, the JSON handshake,
// keepalive and server-silence detection, decoding inbound frames, and
// driving the reconnection supervisor on abnormal closure.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - OnMessage runs on pooled delivery workers, bounded by the delivery
//     permit pool.
type Client struct {
	cfg        Config
	scheduler  *schedule.Scheduler
	supervisor *retry.Supervisor

	mu      sync.Mutex
	state   ConnState
	started bool
	session *session
	gen     uint64

	lastActivity atomic.Int64 // UnixNano of the last inbound frame

	// Statistics (atomic for performance)
	messagesRx  atomic.Uint64
	pingsRx     atomic.Uint64
	pingsTx     atomic.Uint64
	malformedRx atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a hub client.
//
// Parameters:
//   - cfg: Client configuration (Transport and Scheduler required)
//
// Returns:
//   - *Client: Ready for Start
//   - error: If required configuration is missing
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("hub: transport factory is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("hub: scheduler is required")
	}

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.ServerTimeout == 0 {
		cfg.ServerTimeout = defaultServerTimeout
	}

	c := &Client{
		cfg:       cfg,
		scheduler: cfg.Scheduler,
		state:     ConnDisconnected,
		logger:    cfg.Logger,
	}

	sup, err := retry.New(retry.Config{
		Enabled:     cfg.Reconnect.Enabled,
		Delays:      cfg.Reconnect.Delays,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Connect:     c.establish,
		Scheduler:   cfg.Scheduler,
		OnStateChange: func(state retry.State, attempt int) {
			c.logDebug("retry state", "state", state.String(), "attempt", attempt)
			if cfg.OnRetryState != nil {
				cfg.OnRetryState(state, attempt)
			}
		},
		OnTerminal: c.handleTerminal,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.supervisor = sup

	return c, nil
}

// Start establishes the initial connection. It blocks for the dial and
// handshake; automatic reconnection only guards established sessions, so a
// failed initial connect is returned to the caller rather than retried.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.establish(ctx); err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	c.supervisor.NotifyConnected()
	return nil
}

// establish builds a fresh session: transport dial, protocol handshake,
// receive pump and keepalive. It is also the supervisor's
// connection-establishment entry point during reconnection episodes.
func (c *Client) establish(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = ConnConnecting
	c.mu.Unlock()
	c.notifyState(ConnConnecting)

	br, err := bridge.New(bridge.Config{
		QueueCapacity:    c.cfg.Delivery.QueueCapacity,
		Permits:          c.cfg.Delivery.Permits,
		AdmissionTimeout: c.cfg.Delivery.AdmissionTimeout,
		InlineFallback:   c.cfg.Delivery.InlineFallback,
		Runner:           c.scheduler,
		Budget:           c.cfg.Budget,
		Logger:           c.cfg.Logger,
	})
	if err != nil {
		c.setDisconnected()
		return err
	}

	tr, err := c.cfg.Transport(transport.Events{
		OnData: br.OnData,
		OnDisconnect: func(reason error) {
			c.onTransportDisconnect(gen, reason)
		},
	})
	if err != nil {
		c.setDisconnected()
		return err
	}

	if err := tr.Start(ctx); err != nil {
		br.Close(err)
		c.setDisconnected()
		return err
	}

	sess := &session{
		id:        uuid.NewString(),
		gen:       gen,
		transport: tr,
		bridge:    br,
	}

	if err := c.handshake(ctx, sess); err != nil {
		br.Close(err)
		tr.Stop()
		c.setDisconnected()
		return err
	}

	c.mu.Lock()
	c.session = sess
	c.state = ConnConnected
	c.mu.Unlock()
	c.lastActivity.Store(time.Now().UnixNano())

	if err := br.Receive(c.pump(sess)); err != nil {
		c.logError("receive registration failed", err)
	}
	c.startKeepalive(sess)

	c.notifyState(ConnConnected)
	c.logInfo("session established", "session_id", sess.id)
	return nil
}

// handshake sends the protocol negotiation frame and waits for the reply,
// bounded by HandshakeTimeout via scheduler polling.
func (c *Client) handshake(ctx context.Context, sess *session) error {
	req, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return err
	}
	if err := sess.transport.Send(ctx, req); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	type result struct {
		frame []byte
		err   error
	}
	resCh := make(chan result, 1)
	if err := sess.bridge.Receive(func(frame []byte, err error) {
		resCh <- result{frame: frame, err: err}
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	var settled atomic.Bool
	timedOut := make(chan struct{})
	if err := c.scheduler.Timer(handshakePollTick, func(elapsed time.Duration) bool {
		if settled.Load() {
			return true
		}
		if elapsed >= c.cfg.HandshakeTimeout {
			close(timedOut)
			return true
		}
		return false
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	select {
	case res := <-resCh:
		settled.Store(true)
		if res.err != nil {
			return fmt.Errorf("%w: %w", ErrHandshakeFailed, res.err)
		}
		return decodeHandshakeResponse(res.frame)
	case <-timedOut:
		return ErrHandshakeTimeout
	case <-ctx.Done():
		settled.Store(true)
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, ctx.Err())
	}
}

// pump returns the self-re-registering receive callback for one session:
// handle a frame, then ask for the next. On a disconnection error it simply
// stops; the transport disconnect path owns recovery.
func (c *Client) pump(sess *session) bridge.ReceiveCallback {
	var cb bridge.ReceiveCallback
	cb = func(frame []byte, err error) {
		if err != nil {
			return
		}
		c.handleFrame(sess, frame)
		//nolint:errcheck // Closed bridge resolves the callback itself
		sess.bridge.Receive(cb)
	}
	return cb
}

// handleFrame decodes and dispatches one inbound frame.
func (c *Client) handleFrame(sess *session, frame []byte) {
	c.lastActivity.Store(time.Now().UnixNano())

	msg, err := decodeMessage(frame)
	if err != nil {
		c.malformedRx.Add(1)
		c.logWarn("dropping malformed frame", "error", err.Error())
		return
	}

	switch msg.Type {
	case msgTypePing:
		c.pingsRx.Add(1)

	case msgTypeClose:
		if msg.Error != "" {
			c.forceDisconnect(sess, fmt.Errorf("%w: %s", ErrServerClose, msg.Error))
		} else {
			c.logInfo("hub requested close")
			sess.transport.Stop()
		}

	case msgTypeInvocation:
		c.messagesRx.Add(1)
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(Message{
				ID:        msg.InvocationID,
				Target:    msg.Target,
				Arguments: msg.Arguments,
			})
		}

	default:
		c.logDebug("skipping frame with unknown type", "type", msg.Type)
	}
}

// startKeepalive runs the ping/server-silence poll for one session. The
// timer stops itself once the session is no longer current.
func (c *Client) startKeepalive(sess *session) {
	err := c.scheduler.Timer(c.cfg.KeepAliveInterval, func(_ time.Duration) bool {
		if !c.isCurrent(sess.gen) {
			return true
		}

		idle := time.Since(time.Unix(0, c.lastActivity.Load()))
		if idle > c.cfg.ServerTimeout {
			c.logWarn("hub silent beyond server timeout", "idle", idle.String())
			c.forceDisconnect(sess, fmt.Errorf("%w: silent for %s", ErrServerTimeout, idle))
			return true
		}

		ping, err := encodeFrame(wireMessage{Type: msgTypePing})
		if err != nil {
			return false
		}
		if err := sess.transport.Send(context.Background(), ping); err != nil {
			c.logDebug("keepalive ping failed", "error", err.Error())
			return false
		}
		c.pingsTx.Add(1)
		return false
	})
	if err != nil {
		c.logError("keepalive timer not started", err)
	}
}

// forceDisconnect tears a session down for a locally detected failure
// (server timeout, server-sent close with error). Runs on a pooled worker,
// never on the transport read goroutine.
func (c *Client) forceDisconnect(sess *session, reason error) {
	c.onTransportDisconnect(sess.gen, reason)
	sess.transport.Stop()
}

// onTransportDisconnect is the single teardown path for a session. Stale
// generations are ignored so each session disconnects exactly once. A non-nil
// reason is an abnormal closure and is handed to the reconnection supervisor.
func (c *Client) onTransportDisconnect(gen uint64, reason error) {
	c.mu.Lock()
	if c.session == nil || c.session.gen != gen {
		c.mu.Unlock()
		return
	}
	sess := c.session
	c.session = nil
	c.state = ConnDisconnected
	c.mu.Unlock()

	sess.bridge.Close(reason)
	c.notifyState(ConnDisconnected)
	if c.cfg.OnSessionEnd != nil {
		c.cfg.OnSessionEnd(sess.id, reason)
	}

	if reason == nil {
		c.logInfo("session closed", "session_id", sess.id)
		return
	}

	c.logWarn("session lost", "session_id", sess.id, "reason", reason.Error())
	c.supervisor.NotifyDisconnected(reason)
}

// handleTerminal surfaces the supervisor's once-per-episode terminal
// notification to the owner.
func (c *Client) handleTerminal(reason error) {
	c.logWarn("connection permanently down", "reason", reason.Error())
	if c.cfg.OnDisconnected != nil {
		c.cfg.OnDisconnected(reason)
	}
}

// Invoke sends one invocation message to the hub.
//
// Parameters:
//   - ctx: Context for cancellation
//   - target: Hub method name
//   - arguments: JSON-marshalled positional arguments
//
// Returns:
//   - string: The invocation ID assigned to the message
//   - error: ErrNotConnected without a live session, transport errors
//     otherwise
func (c *Client) Invoke(ctx context.Context, target string, arguments ...any) (string, error) {
	sess := c.currentSession()
	if sess == nil {
		return "", ErrNotConnected
	}

	msg := wireMessage{
		Type:         msgTypeInvocation,
		InvocationID: uuid.NewString(),
		Target:       target,
	}
	for _, arg := range arguments {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("hub: encode argument: %w", err)
		}
		msg.Arguments = append(msg.Arguments, raw)
	}

	frame, err := encodeFrame(msg)
	if err != nil {
		return "", err
	}
	if err := sess.transport.Send(ctx, frame); err != nil {
		return "", err
	}
	return msg.InvocationID, nil
}

// Stop shuts the client down: cancels any reconnection episode, closes the
// live session intentionally and blocks until teardown completes. Safe to
// call multiple times.
func (c *Client) Stop() {
	c.mu.Lock()
	c.started = false
	sess := c.session
	c.mu.Unlock()

	c.supervisor.Stop()
	if sess != nil {
		sess.transport.Stop()
	}
}

// currentSession returns the live session, or nil.
func (c *Client) currentSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// isCurrent reports whether gen identifies the live session.
func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.gen == gen
}

// setDisconnected records a failed connection attempt.
func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = ConnDisconnected
	c.mu.Unlock()
	c.notifyState(ConnDisconnected)
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the live session's ID, or empty.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// Stats returns a snapshot across the client and its collaborators.
func (c *Client) Stats() Stats {
	st := Stats{
		State:       c.State(),
		SessionID:   c.SessionID(),
		MessagesRx:  c.messagesRx.Load(),
		PingsRx:     c.pingsRx.Load(),
		PingsTx:     c.pingsTx.Load(),
		MalformedRx: c.malformedRx.Load(),
		Retry:       c.supervisor.Stats(),
	}
	if sess := c.currentSession(); sess != nil {
		st.Bridge = sess.bridge.Stats()
		st.Transport = sess.transport.Stats()
	}
	return st
}

// notifyState fires the optional state-change callback.
func (c *Client) notifyState(state ConnState) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(state)
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (c *Client) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
