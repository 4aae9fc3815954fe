// Package bridge converts an event-driven transport into the pull-based
// single-pending-callback receive contract expected by the hub protocol
// engine.
//
// The transport announces "data arrived" from a context with very limited
// stack headroom; the protocol engine consumes one complete frame at a time
// and asks again. This package sits between the two:
//
//	transport event ──► accumulate + frame ──► bounded FIFO queue
//	                                               │
//	consumer Receive(cb) ──► pending slot ─────────┤
//	                                               ▼
//	                              pooled worker + execution permit
//	                                               │
//	                                               ▼
//	                                      callback(frame, nil)
//
// # Guarantees
//
//   - Frames are delivered in arrival order, each at most once.
//   - The queue never exceeds its capacity Q; on overflow the oldest frame
//     is evicted and a warning logged.
//   - Concurrent callback executions are bounded by the permit pool size W
//     (except on the explicit inline fallback path).
//   - A pending callback is resolved exactly once with a disconnection
//     error if the transport closes while it is outstanding.
//
// # Admission control
//
// An execution permit must be held for the duration of a callback. When no
// permit arrives within the admission timeout there are two safe fallbacks,
// selected by configuration: run inline on the current pooled worker (known
// adequate stack), or put the frame back at the queue front and retry. A
// dequeued frame is never silently dropped.
package bridge
