package retry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the supervisor's position in the reconnection state machine.
type State int

const (
	// StateConnected means the connection is established and healthy.
	StateConnected State = iota

	// StateAwaitingRetryDecision is the transient state entered on an
	// abnormal disconnection, before a retry is approved or refused.
	StateAwaitingRetryDecision

	// StateBackoff means the supervisor is waiting out the backoff delay
	// before the next attempt.
	StateBackoff

	// StateConnecting means a reconnection attempt is in flight.
	StateConnecting

	// StateGivenUp means reconnection was refused or exhausted. Terminal
	// for the episode.
	StateGivenUp

	// StateStopped means an explicit stop request ended the episode.
	StateStopped
)

// String returns a human-readable state name for logging.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingRetryDecision:
		return "awaiting_retry_decision"
	case StateBackoff:
		return "backoff"
	case StateConnecting:
		return "connecting"
	case StateGivenUp:
		return "given_up"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnectFunc is the external connection-establishment entry point: transport
// reconnect plus hub handshake. It must honour ctx cancellation.
type ConnectFunc func(ctx context.Context) error

// Waiter schedules a callback after a delay. It is satisfied by
// *schedule.Scheduler; backoff waits go through it rather than a private
// timer so all deferred work shares one bounded pool.
type Waiter interface {
	Schedule(callback func(), delay time.Duration) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds supervisor configuration.
type Config struct {
	// Enabled turns automatic reconnection on. When false every abnormal
	// disconnection is terminal.
	Enabled bool

	// Delays is the backoff table. Attempt k waits Delays[k-1]; attempts
	// beyond the table repeat the last entry. Required when Enabled.
	Delays []time.Duration

	// MaxAttempts limits attempts per episode. 0 means unlimited.
	MaxAttempts int

	// Connect re-establishes the connection. Required.
	Connect ConnectFunc

	// Scheduler runs backoff waits. Required.
	Scheduler Waiter

	// OnStateChange is invoked on every transition with the new state and
	// the current attempt number (0 outside an episode). Optional.
	OnStateChange func(state State, attempt int)

	// OnTerminal is invoked at most once per episode when reconnection
	// ends without success, carrying the last known failure reason wrapped
	// in ErrReconnectExhausted, ErrStopped, or ErrReconnectDisabled.
	OnTerminal func(reason error)

	// Logger is optional.
	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	State          State
	Attempt        int
	EpisodesTotal  uint64
	RecoveryTotal  uint64
	AttemptsTotal  uint64
	LastFailure    string
	LastRecoveryAt time.Time
}

// Supervisor drives the exponential-backoff reconnection state machine.
//
// One reconnection episode exists at a time: one cancellation context, one
// attempt counter. A new abnormal disconnection while an episode is live
// does not start a second one. Cancellation (Stop) aborts a backoff wait
// immediately, prevents the next attempt from starting, and is idempotent.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Supervisor struct {
	cfg Config

	mu            sync.Mutex
	state         State
	attempt       int
	episodeActive bool
	episodeCancel context.CancelFunc
	lastFailure   error

	// Statistics
	episodesTotal  uint64
	recoveryTotal  uint64
	attemptsTotal  uint64
	lastRecoveryAt time.Time

	wg sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Supervisor.
//
// Parameters:
//   - cfg: Supervisor configuration (Connect and Scheduler required)
//
// Returns:
//   - *Supervisor: In StateConnected with a zero attempt counter
//   - error: If required configuration is missing
func New(cfg Config) (*Supervisor, error) {
	if cfg.Connect == nil {
		return nil, fmt.Errorf("retry: connect function is required")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("retry: scheduler is required")
	}
	if cfg.Enabled && len(cfg.Delays) == 0 {
		return nil, fmt.Errorf("retry: backoff delay table must not be empty")
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("retry: max attempts must not be negative, got %d", cfg.MaxAttempts)
	}

	return &Supervisor{
		cfg:    cfg,
		state:  StateConnected,
		logger: cfg.Logger,
	}, nil
}

// NotifyConnected records a successful connection established outside the
// supervisor (initial connect or manual restart) and resets the attempt
// counter to zero.
func (s *Supervisor) NotifyConnected() {
	s.mu.Lock()
	s.state = StateConnected
	s.attempt = 0
	s.lastFailure = nil
	s.mu.Unlock()

	s.notifyState(StateConnected, 0)
}

// NotifyDisconnected reports an abnormal disconnection (non-nil reason) and
// starts a reconnection episode when policy allows. A nil reason is an
// intentional close and is ignored.
//
// When no episode can be started — auto-reconnect disabled, an episode
// already in progress, or the attempt counter already at the maximum — the
// owner receives a terminal notification carrying reason.
func (s *Supervisor) NotifyDisconnected(reason error) {
	if reason == nil {
		return
	}

	s.mu.Lock()
	s.state = StateAwaitingRetryDecision
	s.lastFailure = reason

	if refusal := s.retryRefusalLocked(); refusal != nil {
		s.state = StateGivenUp
		s.mu.Unlock()

		s.logWarn("not reconnecting", "reason", reason.Error(), "refusal", refusal.Error())
		s.notifyState(StateGivenUp, 0)
		s.terminal(fmt.Errorf("%w: %w", refusal, reason))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.episodeActive = true
	s.episodeCancel = cancel
	s.attempt = 0
	s.episodesTotal++
	s.mu.Unlock()

	s.logInfo("connection lost, starting reconnection episode", "reason", reason.Error())

	s.wg.Add(1)
	go s.runEpisode(ctx, reason)
}

// retryRefusalLocked decides whether a new episode may start.
// Caller holds s.mu.
func (s *Supervisor) retryRefusalLocked() error {
	if !s.cfg.Enabled {
		return ErrReconnectDisabled
	}
	if s.episodeActive {
		return ErrReconnectInProgress
	}
	if s.cfg.MaxAttempts > 0 && s.attempt >= s.cfg.MaxAttempts {
		return ErrReconnectExhausted
	}
	return nil
}

// runEpisode is the single reconnection-episode context.
func (s *Supervisor) runEpisode(ctx context.Context, cause error) {
	defer s.wg.Done()

	lastErr := cause

	for {
		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.attemptsTotal++
		s.mu.Unlock()

		delay := s.delayFor(attempt)
		s.setState(StateBackoff, attempt)
		s.logDebug("backing off before reconnect attempt",
			"attempt", attempt, "delay", delay.String())

		if !s.waitBackoff(ctx, delay) {
			s.endEpisode(StateStopped, fmt.Errorf("%w: %w", ErrStopped, lastErr))
			return
		}

		// A stop between the wait and the attempt must win.
		if ctx.Err() != nil {
			s.endEpisode(StateStopped, fmt.Errorf("%w: %w", ErrStopped, lastErr))
			return
		}

		s.setState(StateConnecting, attempt)
		err := s.cfg.Connect(ctx)
		if err == nil {
			s.succeed()
			return
		}
		if ctx.Err() != nil {
			s.endEpisode(StateStopped, fmt.Errorf("%w: %w", ErrStopped, err))
			return
		}

		lastErr = err
		s.logWarn("reconnect attempt failed", "attempt", attempt, "error", err.Error())

		if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			s.endEpisode(StateGivenUp, fmt.Errorf("%w: %w", ErrReconnectExhausted, lastErr))
			return
		}
	}
}

// delayFor returns the backoff delay for the given attempt (1-based),
// clamped to the last table entry.
func (s *Supervisor) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(s.cfg.Delays) {
		idx = len(s.cfg.Delays) - 1
	}
	return s.cfg.Delays[idx]
}

// waitBackoff waits out delay via the scheduler, returning false if the
// episode was cancelled first.
func (s *Supervisor) waitBackoff(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}

	fired := make(chan struct{})
	if err := s.cfg.Scheduler.Schedule(func() { close(fired) }, delay); err != nil {
		// Scheduler already closed; the process is shutting down.
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-fired:
		return true
	}
}

// succeed finishes the episode after a successful reconnect, resetting the
// attempt counter to zero.
func (s *Supervisor) succeed() {
	s.mu.Lock()
	s.state = StateConnected
	s.attempt = 0
	s.lastFailure = nil
	s.episodeActive = false
	s.episodeCancel = nil
	s.recoveryTotal++
	s.lastRecoveryAt = time.Now()
	total := s.recoveryTotal
	s.mu.Unlock()

	s.logInfo("reconnection successful", "total_recoveries", total)
	s.notifyState(StateConnected, 0)
}

// endEpisode finishes the episode in a terminal state and surfaces exactly
// one disconnected notification to the owner.
func (s *Supervisor) endEpisode(terminal State, reason error) {
	s.mu.Lock()
	s.state = terminal
	s.lastFailure = reason
	s.episodeActive = false
	s.episodeCancel = nil
	s.mu.Unlock()

	s.logInfo("reconnection episode ended", "state", terminal.String(), "reason", reason.Error())
	s.notifyState(terminal, 0)
	s.terminal(reason)
}

// Stop cancels any live episode: an in-progress backoff wait is aborted
// immediately and no further attempt starts. Idempotent; safe from any
// state. The episode's terminal notification is delivered before Stop
// returns.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.episodeCancel
	if !s.episodeActive {
		s.state = StateStopped
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the current episode's attempt counter (0 outside an
// episode or after a successful reconnect).
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Stats returns current operational statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		State:          s.state,
		Attempt:        s.attempt,
		EpisodesTotal:  s.episodesTotal,
		RecoveryTotal:  s.recoveryTotal,
		AttemptsTotal:  s.attemptsTotal,
		LastRecoveryAt: s.lastRecoveryAt,
	}
	if s.lastFailure != nil {
		st.LastFailure = s.lastFailure.Error()
	}
	return st
}

// setState updates state under the lock and fires the state callback.
func (s *Supervisor) setState(state State, attempt int) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.notifyState(state, attempt)
}

// notifyState fires the optional state-change callback.
func (s *Supervisor) notifyState(state State, attempt int) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state, attempt)
	}
}

// terminal fires the owner's terminal notification.
func (s *Supervisor) terminal(reason error) {
	if s.cfg.OnTerminal != nil {
		s.cfg.OnTerminal(reason)
	}
}

// SetLogger sets the logger for this supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (s *Supervisor) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (s *Supervisor) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (s *Supervisor) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
