// Package budget provides resource sizing policy for hubwire's concurrency
// machinery.
//
// The scheduler, delivery bridge, and reconnection supervisor consult this
// package when sizing accumulation buffers and deciding whether a context is
// safe for inline callback execution. On constrained deployments a secondary
// larger memory region can be declared in configuration; buffers above a
// threshold are then drawn from it.
//
// The policy is pure tuning: it carries no state and has no side effects.
package budget
