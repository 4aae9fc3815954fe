package schedule

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferrule-io/hubwire/internal/budget"
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

// Default scheduler tuning.
const (
	// defaultWorkerCount is the number of pooled workers.
	defaultWorkerCount = 2

	// defaultDispatchTick is the bounded wait between dispatch-loop wakes.
	// Scheduling also kicks the loop directly, so the tick is only an upper
	// bound on dispatch latency.
	defaultDispatchTick = 50 * time.Millisecond

	// defaultCloseGrace is how long Close waits for in-flight callbacks.
	defaultCloseGrace = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds scheduler configuration.
type Config struct {
	// Workers is the fixed worker pool size. Default: 2.
	Workers int

	// Tick is the dispatch loop wake interval. Default: 50ms.
	Tick time.Duration

	// CloseGrace is how long Close waits for in-flight callbacks before
	// abandoning them. Default: 5s.
	CloseGrace time.Duration

	// Budget is the sizing policy. The zero value is usable.
	Budget budget.Policy

	// Logger is optional.
	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	Scheduled uint64
	Executed  uint64
	Panics    uint64
	Pending   int
	Workers   int
}

// task is one unit of delayed work.
type task struct {
	callback func()
	due      time.Time
	seq      uint64
}

// Scheduler runs callbacks after a delay on a fixed pool of workers.
//
// A single dispatch loop wakes on a bounded tick (or immediately when work is
// scheduled), scans due tasks in insertion order, and hands each to the first
// free worker. A worker runs exactly one callback at a time; due tasks that
// find no free worker are retried on the next wake.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scheduler struct {
	tick  time.Duration
	grace time.Duration

	// pending holds undispatched tasks in insertion order.
	pending []*task
	seq     uint64
	closed  bool
	mu      sync.Mutex

	// idle carries each free worker's hand-off channel.
	idle chan chan func()

	// kick wakes the dispatch loop early after Schedule.
	kick chan struct{}

	workers int
	budget  budget.Policy

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	scheduled atomic.Uint64
	executed  atomic.Uint64
	panics    atomic.Uint64
}

// New creates a Scheduler and starts its worker pool and dispatch loop.
//
// Parameters:
//   - cfg: Scheduler configuration (zero values use defaults)
//
// Returns:
//   - *Scheduler: Running scheduler; call Close to shut down
func New(cfg Config) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultDispatchTick
	}
	grace := cfg.CloseGrace
	if grace <= 0 {
		grace = defaultCloseGrace
	}

	s := &Scheduler{
		tick:    tick,
		grace:   grace,
		idle:    make(chan chan func(), workers),
		kick:    make(chan struct{}, 1),
		workers: workers,
		budget:  cfg.Budget,
		done:    newCloseOnce(),
		logger:  cfg.Logger,
	}

	s.logDebug("worker pool starting",
		"workers", workers,
		"worker_stack_budget", s.budget.RecommendedStackSize(budget.TaskDeliveryWorker),
		"dispatch_stack_budget", s.budget.RecommendedStackSize(budget.TaskDispatchLoop),
	)

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.dispatchLoop()

	return s
}

// Schedule enqueues callback to run no earlier than now + delay.
// A zero delay means "as soon as a worker is free".
//
// Parameters:
//   - callback: Work to execute on a pooled worker
//   - delay: Minimum wait before execution
//
// Returns:
//   - error: ErrSchedulerClosed after Close, ErrNilCallback for nil work
func (s *Scheduler) Schedule(callback func(), delay time.Duration) error {
	if callback == nil {
		return ErrNilCallback
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.seq++
	s.pending = append(s.pending, &task{
		callback: callback,
		due:      time.Now().Add(delay),
		seq:      s.seq,
	})
	s.mu.Unlock()

	s.scheduled.Add(1)

	// Wake the dispatch loop without blocking.
	select {
	case s.kick <- struct{}{}:
	default:
	}

	return nil
}

// dispatchLoop wakes on a bounded tick (or a kick) and assigns due tasks to
// free workers.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}

		s.dispatchDue(time.Now())
	}
}

// dispatchDue hands every due task to a free worker, in insertion order.
// When no worker is free the scan stops; remaining tasks are retried on the
// next wake.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[:0]
	starved := false

	for i, t := range s.pending {
		if starved || now.Before(t.due) {
			kept = append(kept, t)
			continue
		}

		select {
		case work := <-s.idle:
			work <- t.callback
		default:
			// No free worker. Keep this and everything after it, in order.
			kept = append(kept, s.pending[i])
			starved = true
		}
	}

	// Clear dropped tail references so dispatched tasks can be collected.
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept
}

// worker executes one callback at a time. It registers its hand-off channel
// as idle between callbacks and recovers callback panics.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	work := make(chan func(), 1)

	for {
		select {
		case s.idle <- work:
		case <-s.done.Done():
			return
		}

		select {
		case callback := <-work:
			s.runCallback(id, callback)
		case <-s.done.Done():
			return
		}
	}
}

// runCallback executes a callback with panic recovery. A panicking callback
// is logged and the worker returns to the free pool.
func (s *Scheduler) runCallback(id int, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logError("scheduled callback panic recovered", fmt.Errorf("worker %d: %v", id, r))
		}
	}()

	callback()
	s.executed.Add(1)
}

// Close stops accepting new work and waits up to the grace period for
// in-flight callbacks to finish. Undispatched tasks are discarded.
// Safe to call multiple times.
//
// Returns:
//   - error: ErrCloseTimeout if in-flight work outlived the grace period
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.pending)
	s.pending = nil
	s.mu.Unlock()

	s.done.Close()

	if dropped > 0 {
		s.logDebug("discarding undispatched tasks", "count", dropped)
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(s.grace):
		s.logError("in-flight callbacks exceeded close grace period", ErrCloseTimeout)
		return ErrCloseTimeout
	}
}

// Stats returns current operational statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()

	return Stats{
		Scheduled: s.scheduled.Load(),
		Executed:  s.executed.Load(),
		Panics:    s.panics.Load(),
		Pending:   pending,
		Workers:   s.workers,
	}
}

// SetLogger sets the logger for this scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (s *Scheduler) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Scheduler) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
