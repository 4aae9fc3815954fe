// Package schedule provides delayed and periodic callback execution on a
// small fixed worker pool.
//
// It exists so that latency- and stack-sensitive contexts (the transport
// read loop, the dispatch loop itself) never run user callbacks directly.
// All deferred work in hubwire — delivery hand-off, keepalive polling,
// reconnect backoff waits — flows through one explicitly constructed
// Scheduler that is injected into its consumers.
//
// # Model
//
//   - A fixed pool of W workers, each running at most one callback at a time.
//   - A single dispatch loop that wakes on a bounded tick (or immediately
//     after Schedule), scans due tasks in insertion order, and hands each to
//     the first free worker. Due tasks that find no free worker are retried
//     on the next wake.
//   - Callback panics are recovered at the worker boundary and logged; the
//     worker returns to the free pool.
//
// # Shutdown
//
// Close stops accepting new work (Schedule returns ErrSchedulerClosed),
// discards undispatched tasks, and waits a bounded grace period for
// in-flight callbacks.
//
// # Usage
//
//	s := schedule.New(schedule.Config{Workers: 2})
//	defer s.Close()
//	s.Schedule(func() { ... }, 100*time.Millisecond)
package schedule
