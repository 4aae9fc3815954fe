package bridge

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferrule-io/hubwire/internal/budget"
)

// recordSeparator is the frame delimiter used by the hub wire protocol.
const recordSeparator = 0x1E

// Default bridge tuning.
const (
	// defaultAdmissionTimeout is the maximum wait for an execution permit
	// before the fallback path is taken.
	defaultAdmissionTimeout = 250 * time.Millisecond

	// defaultRetryDelay is how long a re-queued frame waits before the next
	// delivery attempt.
	defaultRetryDelay = 10 * time.Millisecond
)

// ReceiveCallback is invoked exactly once per Receive registration, with
// either one complete frame or a disconnection error (never both).
type ReceiveCallback func(frame []byte, err error)

// Runner schedules work onto a dedicated execution context. It is satisfied
// by *schedule.Scheduler.
type Runner interface {
	Schedule(callback func(), delay time.Duration) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// admission is the outcome of requesting an execution permit.
type admission int

const (
	// admissionGranted means a permit was acquired; the callback runs on
	// the current pooled worker and the permit is released afterwards.
	admissionGranted admission = iota

	// admissionInline means no permit arrived in time but the current
	// context was declared safe, so the callback runs without one.
	admissionInline

	// admissionRequeued means no permit arrived in time and inline
	// execution is not allowed; the frame goes back to the queue front.
	admissionRequeued
)

// Config holds bridge configuration.
type Config struct {
	// QueueCapacity is the inbound frame queue size Q. On overflow the
	// oldest frame is evicted. Required (>= 1).
	QueueCapacity int

	// Permits is the execution permit pool size W, bounding concurrent
	// callback executions. Required (>= 1).
	Permits int

	// AdmissionTimeout is the maximum wait for a permit. Default: 250ms.
	AdmissionTimeout time.Duration

	// InlineFallback permits executing the callback on the current pooled
	// worker without a permit when admission times out. When false the
	// frame is re-queued instead.
	InlineFallback bool

	// RetryDelay is the wait before retrying a re-queued frame.
	// Default: 10ms.
	RetryDelay time.Duration

	// Runner executes delivery attempts off the transport event context.
	// Required.
	Runner Runner

	// Budget is the sizing policy for the accumulation buffer.
	Budget budget.Policy

	// Logger is optional.
	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	FramesDelivered uint64
	FramesEvicted   uint64
	FramesRequeued  uint64
	InlineRuns      uint64
	QueueLen        int
	Permits         int
}

// Bridge converts the transport's event-driven "data arrived" notifications
// into the pull-based receive contract expected by the protocol engine.
//
// Raw bytes accumulate until a record separator completes a frame; complete
// frames enter a bounded FIFO queue (oldest evicted on overflow). A consumer
// registers at most one receive callback at a time; when both a queued frame
// and a pending callback exist, the pair is removed atomically and executed
// on a pooled worker under an execution permit.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - OnData is expected from a single transport event context at a time.
type Bridge struct {
	inbox   *inbox
	permits chan struct{}

	admissionTimeout time.Duration
	inlineFallback   bool
	retryDelay       time.Duration

	runner Runner
	policy budget.Policy

	// acc accumulates raw bytes until a record separator is found.
	// Only the transport event context appends; guarded for Close races.
	acc   []byte
	accMu sync.Mutex

	// closed state; disconnectErr is set once by Close.
	closed        atomic.Bool
	disconnectErr error
	closeMu       sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	delivered uint64
	evicted   uint64
	requeued  uint64
	inline    uint64
}

// New creates a delivery bridge.
//
// Parameters:
//   - cfg: Bridge configuration (QueueCapacity, Permits, Runner required)
//
// Returns:
//   - *Bridge: Ready for OnData/Receive traffic
//   - error: If required configuration is missing
func New(cfg Config) (*Bridge, error) {
	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("bridge: queue capacity must be at least 1, got %d", cfg.QueueCapacity)
	}
	if cfg.Permits < 1 {
		return nil, fmt.Errorf("bridge: permit pool size must be at least 1, got %d", cfg.Permits)
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("bridge: runner is required")
	}

	admissionTimeout := cfg.AdmissionTimeout
	if admissionTimeout <= 0 {
		admissionTimeout = defaultAdmissionTimeout
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	b := &Bridge{
		inbox:            newInbox(cfg.QueueCapacity),
		permits:          make(chan struct{}, cfg.Permits),
		admissionTimeout: admissionTimeout,
		inlineFallback:   cfg.InlineFallback,
		retryDelay:       retryDelay,
		runner:           cfg.Runner,
		policy:           cfg.Budget,
		logger:           cfg.Logger,
	}

	// Fill the permit pool.
	for i := 0; i < cfg.Permits; i++ {
		b.permits <- struct{}{}
	}

	return b, nil
}

// Receive registers callback as the single pending receive slot. It never
// blocks. If a frame is already queued, a delivery attempt is scheduled
// immediately. After Close the callback is resolved with the disconnection
// error instead.
//
// The consumer must call Receive again after each delivered frame; at most
// one registration is outstanding at a time.
func (b *Bridge) Receive(callback ReceiveCallback) error {
	if callback == nil {
		return ErrNilCallback
	}

	frameWaiting, err := b.inbox.register(callback)
	if err != nil {
		// Closed: resolve the registration with the disconnect reason
		// rather than leaving it unresolved.
		b.resolveDisconnected(callback)
		return nil
	}

	if frameWaiting {
		b.scheduleDelivery(0)
	}
	return nil
}

// OnData ingests raw transport bytes. Complete frames (terminated by the
// record separator) are cut out and queued; a partial tail is retained for
// the next call. Called from the transport event context, which must never
// execute delivery callbacks itself.
func (b *Bridge) OnData(data []byte) {
	if b.closed.Load() || len(data) == 0 {
		return
	}

	frames := b.appendAndSplit(data)
	if len(frames) == 0 {
		return
	}

	for _, frame := range frames {
		evicted, dropped := b.inbox.push(frame)
		if dropped {
			return
		}
		if evicted {
			atomic.AddUint64(&b.evicted, 1)
			b.logWarn("inbound queue full, evicting oldest frame",
				"capacity", b.inbox.capacity)
		}
	}

	b.scheduleDelivery(0)
}

// appendAndSplit accumulates data and returns any complete frames.
func (b *Bridge) appendAndSplit(data []byte) [][]byte {
	b.accMu.Lock()
	defer b.accMu.Unlock()

	b.acc = b.grow(b.acc, len(data))
	b.acc = append(b.acc, data...)

	var frames [][]byte
	for {
		idx := bytes.IndexByte(b.acc, recordSeparator)
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, b.acc[:idx])
		b.acc = b.acc[idx+1:]
		if len(frame) > 0 {
			frames = append(frames, frame)
		}
	}
	return frames
}

// grow ensures buf has room for n more bytes, sizing new allocations via the
// budget policy.
func (b *Bridge) grow(buf []byte, n int) []byte {
	if cap(buf)-len(buf) >= n {
		return buf
	}
	size, pool := b.policy.RecommendedBufferSize(len(buf) + n)
	if pool == budget.PoolSecondary {
		b.logDebug("accumulation buffer moved to secondary pool", "size", size)
	}
	grown := make([]byte, len(buf), size)
	copy(grown, buf)
	return grown
}

// scheduleDelivery queues a delivery attempt on the runner.
func (b *Bridge) scheduleDelivery(delay time.Duration) {
	if err := b.runner.Schedule(b.deliver, delay); err != nil {
		// Runner is shutting down; the frame stays queued and Close will
		// resolve any pending callback.
		b.logDebug("delivery attempt not scheduled", "error", err)
	}
}

// deliver is one delivery attempt, running on a pooled worker. It removes a
// (frame, callback) pair atomically when both exist, then requests an
// execution permit.
func (b *Bridge) deliver() {
	frame, callback, ok := b.inbox.takePair()
	if !ok {
		return
	}

	switch b.admit() {
	case admissionGranted:
		b.execute(frame, callback)
		b.permits <- struct{}{}

	case admissionInline:
		// This pooled worker has adequate stack headroom; run without a
		// permit rather than stall the queue.
		atomic.AddUint64(&b.inline, 1)
		b.execute(frame, callback)

	case admissionRequeued:
		atomic.AddUint64(&b.requeued, 1)
		b.logWarn("no execution permit available, re-queueing frame",
			"timeout", b.admissionTimeout.String())
		if b.inbox.restore(frame, callback) {
			atomic.AddUint64(&b.evicted, 1)
			b.logWarn("inbound queue refilled during stall, evicting re-queued frame",
				"capacity", b.inbox.capacity)
		}
		b.scheduleDelivery(b.retryDelay)
	}
}

// admit acquires an execution permit, waiting up to the admission timeout.
func (b *Bridge) admit() admission {
	select {
	case <-b.permits:
		return admissionGranted
	default:
	}

	timer := time.NewTimer(b.admissionTimeout)
	defer timer.Stop()

	select {
	case <-b.permits:
		return admissionGranted
	case <-timer.C:
		if b.inlineFallback && b.policy.SafeForInline(budget.TaskDeliveryWorker) {
			return admissionInline
		}
		return admissionRequeued
	}
}

// execute runs a delivery callback with panic recovery.
func (b *Bridge) execute(frame []byte, callback ReceiveCallback) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("receive callback panic recovered", fmt.Errorf("%v", r))
		}
	}()

	callback(frame, nil)
	atomic.AddUint64(&b.delivered, 1)
}

// Close shuts the bridge down. A pending receive callback is resolved
// exactly once with a disconnection error carrying reason; queued frames are
// discarded. Safe to call multiple times.
//
// Parameters:
//   - reason: Why the transport closed (nil for an intentional stop)
func (b *Bridge) Close(reason error) {
	b.closeMu.Lock()
	if b.closed.Load() {
		b.closeMu.Unlock()
		return
	}
	if reason != nil {
		b.disconnectErr = fmt.Errorf("%w: %w", ErrDisconnected, reason)
	} else {
		b.disconnectErr = ErrDisconnected
	}
	b.closed.Store(true)
	b.closeMu.Unlock()

	b.accMu.Lock()
	b.acc = nil
	b.accMu.Unlock()

	if callback := b.inbox.close(); callback != nil {
		b.resolveDisconnected(callback)
	}
}

// resolveDisconnected invokes callback with the disconnect error, preferring
// a pooled worker but falling back to the calling context if the runner is
// already gone. The callback must never be left unresolved.
func (b *Bridge) resolveDisconnected(callback ReceiveCallback) {
	b.closeMu.Lock()
	err := b.disconnectErr
	b.closeMu.Unlock()
	if err == nil {
		err = ErrDisconnected
	}

	if scheduleErr := b.runner.Schedule(func() { callback(nil, err) }, 0); scheduleErr != nil {
		callback(nil, err)
	}
}

// Stats returns current operational statistics.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesDelivered: atomic.LoadUint64(&b.delivered),
		FramesEvicted:   atomic.LoadUint64(&b.evicted),
		FramesRequeued:  atomic.LoadUint64(&b.requeued),
		InlineRuns:      atomic.LoadUint64(&b.inline),
		QueueLen:        b.inbox.size(),
		Permits:         cap(b.permits),
	}
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
