// Package retry supervises automatic reconnection after abnormal
// disconnections.
//
// The supervisor is a small state machine:
//
//	Connected ──abnormal disconnect──► AwaitingRetryDecision
//	    ▲                                   │ policy allows
//	    │ success                           ▼
//	    └──────── Connecting(k) ◄── Backoff(k) ◄──┐
//	                   │ failure                  │
//	                   └──────────────────────────┘ k+1
//
// Refused or exhausted episodes end in GivenUp; an explicit stop ends in
// Stopped. Both deliver exactly one terminal notification to the owner,
// carrying the last known failure reason.
//
// Backoff delays come from a fixed table: attempt k waits the k-th entry,
// and attempts beyond the table repeat its last entry. One episode — one
// cancellation context, one attempt counter — exists at a time; the counter
// resets to zero on success and on manual restart.
//
// Owner callbacks (OnStateChange, OnTerminal) run on the episode goroutine
// and must not call Stop synchronously.
package retry
