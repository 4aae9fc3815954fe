package bridge

import "sync"

// inbox owns both the bounded frame queue and the pending receive slot
// behind a single mutex, so "take one frame and the pending callback" is
// atomic by construction rather than by lock-ordering convention.
type inbox struct {
	mu       sync.Mutex
	queue    [][]byte
	capacity int
	pending  ReceiveCallback
	closed   bool
}

func newInbox(capacity int) *inbox {
	return &inbox{capacity: capacity}
}

// push appends a frame, evicting the oldest entry first when the queue is
// full. Returns whether an eviction happened. Frames pushed after close are
// discarded.
func (in *inbox) push(frame []byte) (evicted, dropped bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return false, true
	}

	if len(in.queue) >= in.capacity {
		in.queue[0] = nil
		in.queue = in.queue[1:]
		evicted = true
	}
	in.queue = append(in.queue, frame)
	return evicted, false
}

// register installs cb as the pending receive slot and reports whether a
// queued frame is already waiting. The consumer's single-call-at-a-time
// discipline guarantees the slot is empty; the bridge itself never
// overwrites a registration.
func (in *inbox) register(cb ReceiveCallback) (frameWaiting bool, err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return false, ErrClosed
	}

	in.pending = cb
	return len(in.queue) > 0, nil
}

// takePair atomically removes the oldest frame and clears the pending slot,
// but only when both exist. Otherwise nothing changes.
func (in *inbox) takePair() ([]byte, ReceiveCallback, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed || in.pending == nil || len(in.queue) == 0 {
		return nil, nil, false
	}

	frame := in.queue[0]
	in.queue[0] = nil
	in.queue = in.queue[1:]
	cb := in.pending
	in.pending = nil
	return frame, cb, true
}

// restore puts a dequeued frame back at the FRONT of the queue and
// reinstalls its callback, undoing takePair after a failed admission.
// Front insertion preserves arrival order. If the queue refilled to
// capacity while the pair was out, the restored frame predates every
// queued entry, so it is the oldest and is the one evicted. Returns
// whether that eviction happened.
func (in *inbox) restore(frame []byte, cb ReceiveCallback) (evicted bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		// close already resolved the consumer with a disconnect error;
		// the frame is abandoned with the rest of the queue.
		return false
	}

	in.pending = cb
	if len(in.queue) >= in.capacity {
		return true
	}
	in.queue = append([][]byte{frame}, in.queue...)
	return false
}

// close marks the inbox closed, clears the queue, and returns the pending
// callback (if any) exactly once so the caller can resolve it with a
// disconnect error. Subsequent calls return nil.
func (in *inbox) close() ReceiveCallback {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil
	}
	in.closed = true

	for i := range in.queue {
		in.queue[i] = nil
	}
	in.queue = nil

	cb := in.pending
	in.pending = nil
	return cb
}

// size returns the current queue length.
func (in *inbox) size() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// snapshot returns a copy of the queued frames, oldest first. Test and
// diagnostics helper.
func (in *inbox) snapshot() [][]byte {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([][]byte, len(in.queue))
	copy(out, in.queue)
	return out
}
