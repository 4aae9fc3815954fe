package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ====== Test Helpers ======

// recordingWaiter captures requested backoff delays and fires callbacks
// immediately, so episode tests run without real waiting.
type recordingWaiter struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (w *recordingWaiter) Schedule(callback func(), delay time.Duration) error {
	w.mu.Lock()
	if w.err != nil {
		w.mu.Unlock()
		return w.err
	}
	w.delays = append(w.delays, delay)
	w.mu.Unlock()

	go callback()
	return nil
}

func (w *recordingWaiter) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]time.Duration, len(w.delays))
	copy(out, w.delays)
	return out
}

// blockingWaiter never fires its callbacks, holding the supervisor in
// StateBackoff until the episode is cancelled.
type blockingWaiter struct{}

func (blockingWaiter) Schedule(func(), time.Duration) error { return nil }

// transitionRecorder collects state-change callbacks.
type transitionRecorder struct {
	mu          sync.Mutex
	transitions []State
	attempts    []int
}

func (r *transitionRecorder) record(state State, attempt int) {
	r.mu.Lock()
	r.transitions = append(r.transitions, state)
	r.attempts = append(r.attempts, attempt)
	r.mu.Unlock()
}

func (r *transitionRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.transitions))
	copy(out, r.transitions)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

var errConnRefused = errors.New("dial tcp: connection refused")

// ====== Construction Tests ======

func TestNewValidation(t *testing.T) {
	connect := func(ctx context.Context) error { return nil }
	waiter := &recordingWaiter{}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid",
			cfg:     Config{Enabled: true, Delays: []time.Duration{time.Second}, Connect: connect, Scheduler: waiter},
			wantErr: false,
		},
		{
			name:    "valid disabled without delays",
			cfg:     Config{Connect: connect, Scheduler: waiter},
			wantErr: false,
		},
		{
			name:    "missing connect",
			cfg:     Config{Enabled: true, Delays: []time.Duration{time.Second}, Scheduler: waiter},
			wantErr: true,
		},
		{
			name:    "missing scheduler",
			cfg:     Config{Enabled: true, Delays: []time.Duration{time.Second}, Connect: connect},
			wantErr: true,
		},
		{
			name:    "enabled with empty delay table",
			cfg:     Config{Enabled: true, Connect: connect, Scheduler: waiter},
			wantErr: true,
		},
		{
			name:    "negative max attempts",
			cfg:     Config{Enabled: true, Delays: []time.Duration{time.Second}, MaxAttempts: -1, Connect: connect, Scheduler: waiter},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ====== Backoff Table Tests ======

func TestBackoffDelaysFollowTableThenRepeatLast(t *testing.T) {
	waiter := &recordingWaiter{}
	table := []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

	var calls int
	var mu sync.Mutex
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled:     true,
		Delays:      table,
		MaxAttempts: 6,
		Connect: func(ctx context.Context) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return errConnRefused
		},
		Scheduler:  waiter,
		OnTerminal: func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(fmt.Errorf("hub closed connection"))

	select {
	case <-terminalCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}

	// Six attempts: the first four follow the table, the rest repeat the
	// last entry. Zero delays bypass the waiter, so only the non-zero ones
	// are recorded.
	want := []time.Duration{2 * time.Second, 10 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second}
	got := waiter.recorded()
	if len(got) != len(want) {
		t.Fatalf("recorded %d delays %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 6 {
		t.Errorf("connect called %d times, want 6", calls)
	}
}

// ====== Episode Lifecycle Tests ======

func TestExhaustionAfterMaxAttempts(t *testing.T) {
	waiter := &recordingWaiter{}
	recorder := &transitionRecorder{}

	var calls int
	var mu sync.Mutex
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled:       true,
		Delays:        []time.Duration{time.Millisecond},
		MaxAttempts:   3,
		Connect:       func(ctx context.Context) error { mu.Lock(); calls++; mu.Unlock(); return errConnRefused },
		Scheduler:     waiter,
		OnStateChange: recorder.record,
		OnTerminal:    func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)

	var reason error
	select {
	case reason = <-terminalCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}

	if !errors.Is(reason, ErrReconnectExhausted) {
		t.Errorf("terminal reason = %v, want ErrReconnectExhausted", reason)
	}
	if !errors.Is(reason, errConnRefused) {
		t.Errorf("terminal reason = %v, want wrapped %v", reason, errConnRefused)
	}

	mu.Lock()
	if calls != 3 {
		t.Errorf("connect called %d times, want exactly 3", calls)
	}
	mu.Unlock()

	if got := sup.State(); got != StateGivenUp {
		t.Errorf("State() = %v, want StateGivenUp", got)
	}

	// No fourth attempt may start after exhaustion.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if calls != 3 {
		t.Errorf("connect called %d times after terminal, want 3", calls)
	}
	mu.Unlock()

	// Backoff(k) then Connecting(k) for k = 1..3, then GivenUp.
	wantStates := []State{
		StateBackoff, StateConnecting,
		StateBackoff, StateConnecting,
		StateBackoff, StateConnecting,
		StateGivenUp,
	}
	got := recorder.states()
	if len(got) != len(wantStates) {
		t.Fatalf("transitions = %v, want %v", got, wantStates)
	}
	for i := range wantStates {
		if got[i] != wantStates[i] {
			t.Errorf("transition[%d] = %v, want %v", i, got[i], wantStates[i])
		}
	}
}

func TestSuccessResetsAttemptCounter(t *testing.T) {
	waiter := &recordingWaiter{}

	var calls int
	var mu sync.Mutex

	sup, err := New(Config{
		Enabled: true,
		Delays:  []time.Duration{time.Millisecond},
		Connect: func(ctx context.Context) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				return errConnRefused
			}
			return nil
		},
		Scheduler: waiter,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)

	waitFor(t, 2*time.Second, func() bool { return sup.State() == StateConnected })

	if got := sup.Attempt(); got != 0 {
		t.Errorf("Attempt() after success = %d, want 0", got)
	}

	stats := sup.Stats()
	if stats.RecoveryTotal != 1 {
		t.Errorf("RecoveryTotal = %d, want 1", stats.RecoveryTotal)
	}
	if stats.AttemptsTotal != 3 {
		t.Errorf("AttemptsTotal = %d, want 3", stats.AttemptsTotal)
	}

	// A fresh disconnection starts a new episode from attempt 1, not from
	// where the previous episode left off.
	sup.NotifyDisconnected(errConnRefused)
	waitFor(t, 2*time.Second, func() bool { return sup.State() == StateConnected })

	if stats := sup.Stats(); stats.EpisodesTotal != 2 {
		t.Errorf("EpisodesTotal = %d, want 2", stats.EpisodesTotal)
	}
	mu.Lock()
	if calls != 4 {
		t.Errorf("connect called %d times, want 4", calls)
	}
	mu.Unlock()
}

// ====== Cancellation Tests ======

func TestStopDuringBackoffPreventsNextAttempt(t *testing.T) {
	recorder := &transitionRecorder{}

	var calls int
	var mu sync.Mutex
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled:       true,
		Delays:        []time.Duration{time.Hour},
		Connect:       func(ctx context.Context) error { mu.Lock(); calls++; mu.Unlock(); return nil },
		Scheduler:     blockingWaiter{},
		OnStateChange: recorder.record,
		OnTerminal:    func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)
	waitFor(t, time.Second, func() bool { return sup.State() == StateBackoff })

	sup.Stop()

	if got := sup.State(); got != StateStopped {
		t.Errorf("State() after Stop = %v, want StateStopped", got)
	}

	var reason error
	select {
	case reason = <-terminalCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}
	if !errors.Is(reason, ErrStopped) {
		t.Errorf("terminal reason = %v, want ErrStopped", reason)
	}

	mu.Lock()
	if calls != 0 {
		t.Errorf("connect called %d times after stop during backoff, want 0", calls)
	}
	mu.Unlock()

	for _, state := range recorder.states() {
		if state == StateConnecting {
			t.Error("StateConnecting reached after Stop during backoff")
		}
	}
}

func TestStopCancelsInFlightConnect(t *testing.T) {
	waiter := &recordingWaiter{}
	connecting := make(chan struct{})
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled: true,
		Delays:  []time.Duration{0},
		Connect: func(ctx context.Context) error {
			close(connecting)
			<-ctx.Done()
			return ctx.Err()
		},
		Scheduler:  waiter,
		OnTerminal: func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)

	select {
	case <-connecting:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connect attempt")
	}

	sup.Stop()

	select {
	case reason := <-terminalCh:
		if !errors.Is(reason, ErrStopped) {
			t.Errorf("terminal reason = %v, want ErrStopped", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}

	if got := sup.State(); got != StateStopped {
		t.Errorf("State() = %v, want StateStopped", got)
	}
}

func TestStopIdempotent(t *testing.T) {
	sup, err := New(Config{
		Enabled:   true,
		Delays:    []time.Duration{time.Hour},
		Connect:   func(ctx context.Context) error { return nil },
		Scheduler: blockingWaiter{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)
	waitFor(t, time.Second, func() bool { return sup.State() == StateBackoff })

	sup.Stop()
	sup.Stop()
	sup.Stop()

	if got := sup.State(); got != StateStopped {
		t.Errorf("State() = %v, want StateStopped", got)
	}
}

func TestStopWithoutEpisode(t *testing.T) {
	sup, err := New(Config{
		Enabled:   true,
		Delays:    []time.Duration{time.Second},
		Connect:   func(ctx context.Context) error { return nil },
		Scheduler: &recordingWaiter{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.Stop()

	if got := sup.State(); got != StateStopped {
		t.Errorf("State() = %v, want StateStopped", got)
	}
}

// ====== Refusal Tests ======

func TestDisabledGoesTerminalImmediately(t *testing.T) {
	var calls int
	var mu sync.Mutex
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled:    false,
		Connect:    func(ctx context.Context) error { mu.Lock(); calls++; mu.Unlock(); return nil },
		Scheduler:  &recordingWaiter{},
		OnTerminal: func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)

	select {
	case reason := <-terminalCh:
		if !errors.Is(reason, ErrReconnectDisabled) {
			t.Errorf("terminal reason = %v, want ErrReconnectDisabled", reason)
		}
		if !errors.Is(reason, errConnRefused) {
			t.Errorf("terminal reason = %v, want wrapped %v", reason, errConnRefused)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}

	mu.Lock()
	if calls != 0 {
		t.Errorf("connect called %d times when disabled, want 0", calls)
	}
	mu.Unlock()

	if got := sup.State(); got != StateGivenUp {
		t.Errorf("State() = %v, want StateGivenUp", got)
	}
}

func TestDisconnectDuringLiveEpisodeRefused(t *testing.T) {
	terminalCh := make(chan error, 2)

	sup, err := New(Config{
		Enabled:    true,
		Delays:     []time.Duration{time.Hour},
		Connect:    func(ctx context.Context) error { return nil },
		Scheduler:  blockingWaiter{},
		OnTerminal: func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)
	waitFor(t, time.Second, func() bool { return sup.State() == StateBackoff })

	// A second disconnection while the episode is live does not start a
	// second episode; the caller gets an immediate refusal.
	sup.NotifyDisconnected(fmt.Errorf("duplicate disconnect"))

	select {
	case reason := <-terminalCh:
		if !errors.Is(reason, ErrReconnectInProgress) {
			t.Errorf("terminal reason = %v, want ErrReconnectInProgress", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for refusal notification")
	}

	if stats := sup.Stats(); stats.EpisodesTotal != 1 {
		t.Errorf("EpisodesTotal = %d, want 1", stats.EpisodesTotal)
	}

	sup.Stop()
}

func TestNilReasonIgnored(t *testing.T) {
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled:    true,
		Delays:     []time.Duration{time.Millisecond},
		Connect:    func(ctx context.Context) error { return nil },
		Scheduler:  &recordingWaiter{},
		OnTerminal: func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(nil)

	select {
	case reason := <-terminalCh:
		t.Errorf("unexpected terminal notification for nil reason: %v", reason)
	case <-time.After(50 * time.Millisecond):
	}

	if got := sup.State(); got != StateConnected {
		t.Errorf("State() = %v, want StateConnected", got)
	}
}

// ====== Statistics Tests ======

func TestStatsTrackFailures(t *testing.T) {
	terminalCh := make(chan error, 1)

	sup, err := New(Config{
		Enabled:     true,
		Delays:      []time.Duration{0},
		MaxAttempts: 2,
		Connect:     func(ctx context.Context) error { return errConnRefused },
		Scheduler:   &recordingWaiter{},
		OnTerminal:  func(reason error) { terminalCh <- reason },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sup.NotifyDisconnected(errConnRefused)

	select {
	case <-terminalCh:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}

	stats := sup.Stats()
	if stats.State != StateGivenUp {
		t.Errorf("Stats().State = %v, want StateGivenUp", stats.State)
	}
	if stats.AttemptsTotal != 2 {
		t.Errorf("AttemptsTotal = %d, want 2", stats.AttemptsTotal)
	}
	if stats.RecoveryTotal != 0 {
		t.Errorf("RecoveryTotal = %d, want 0", stats.RecoveryTotal)
	}
	if stats.LastFailure == "" {
		t.Error("LastFailure empty, want failure reason")
	}
}
