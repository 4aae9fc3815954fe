package budget

import "github.com/ferrule-io/hubwire/internal/infrastructure/config"

// TaskCategory identifies the execution context a budget decision applies to.
type TaskCategory int

// Task categories consumed by the scheduler, bridge, and retry supervisor.
const (
	// TaskDeliveryWorker is a pooled worker executing delivery callbacks.
	TaskDeliveryWorker TaskCategory = iota

	// TaskDispatchLoop is the scheduler's dispatch loop.
	TaskDispatchLoop

	// TaskReconnect is a reconnection episode.
	TaskReconnect

	// TaskTransportEvent is the transport's event/read context. It has the
	// smallest headroom and must never run user callbacks directly.
	TaskTransportEvent
)

// String returns a human-readable category name for logging.
func (c TaskCategory) String() string {
	switch c {
	case TaskDeliveryWorker:
		return "delivery_worker"
	case TaskDispatchLoop:
		return "dispatch_loop"
	case TaskReconnect:
		return "reconnect"
	case TaskTransportEvent:
		return "transport_event"
	default:
		return "unknown"
	}
}

// Pool identifies which memory region a buffer should be drawn from.
type Pool int

const (
	// PoolPrimary is the default (fast, small) memory region.
	PoolPrimary Pool = iota

	// PoolSecondary is the larger, slower region used for big buffers when
	// the deployment provides one.
	PoolSecondary
)

// Default stack budgets in bytes per task category. These are advisory:
// consumers use them to size accumulation buffers and to decide whether a
// context is safe for inline callback execution.
const (
	deliveryWorkerStack = 16 * 1024
	dispatchLoopStack   = 4 * 1024
	reconnectStack      = 8 * 1024
	transportEventStack = 4 * 1024

	// defaultSecondaryThreshold is the buffer size above which the
	// secondary pool is preferred, when available.
	defaultSecondaryThreshold = 4096

	// minBufferSize is the smallest buffer ever recommended.
	minBufferSize = 256
)

// Policy is a stateless sizing policy consumed by the scheduler, bridge,
// and retry supervisor. All methods are side-effect-free.
type Policy struct {
	// secondaryPool indicates a secondary larger memory region is available.
	secondaryPool bool

	// secondaryThreshold is the byte size above which PoolSecondary is
	// preferred.
	secondaryThreshold int
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg config.BudgetConfig) Policy {
	threshold := cfg.SecondaryThreshold
	if threshold <= 0 {
		threshold = defaultSecondaryThreshold
	}
	return Policy{
		secondaryPool:      cfg.SecondaryPool,
		secondaryThreshold: threshold,
	}
}

// RecommendedStackSize returns the advisory stack budget in bytes for the
// given task category.
func (p Policy) RecommendedStackSize(category TaskCategory) int {
	switch category {
	case TaskDeliveryWorker:
		return deliveryWorkerStack
	case TaskDispatchLoop:
		return dispatchLoopStack
	case TaskReconnect:
		return reconnectStack
	case TaskTransportEvent:
		return transportEventStack
	default:
		return dispatchLoopStack
	}
}

// RecommendedBufferSize returns the allocation size and pool for a buffer
// that must hold at least n bytes. Sizes are rounded up to the next power of
// two (minimum 256) so repeated growth reuses allocation classes.
func (p Policy) RecommendedBufferSize(n int) (int, Pool) {
	size := minBufferSize
	for size < n {
		size <<= 1
	}

	pool := PoolPrimary
	if p.secondaryPool && size > p.secondaryThreshold {
		pool = PoolSecondary
	}
	return size, pool
}

// SafeForInline reports whether a context with the given category has enough
// stack headroom to run a delivery callback inline. Only pooled delivery
// workers qualify; the transport event context never does.
func (p Policy) SafeForInline(category TaskCategory) bool {
	return category == TaskDeliveryWorker
}
