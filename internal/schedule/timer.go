package schedule

import "time"

// Timer runs predicate every tick until it returns true, then stops.
//
// The elapsed time since the timer started is passed to the predicate, which
// enables polling-style timeouts (handshake deadline, keepalive) without a
// dedicated timer primitive:
//
//	err := scheduler.Timer(500*time.Millisecond, func(elapsed time.Duration) bool {
//	    if handshakeDone() {
//	        return true // stop polling
//	    }
//	    if elapsed > handshakeTimeout {
//	        abortHandshake()
//	        return true
//	    }
//	    return false
//	})
//
// The predicate runs on a pooled worker. If the scheduler closes while the
// timer is live, the timer stops silently; the initial registration still
// reports ErrSchedulerClosed.
//
// Parameters:
//   - tick: Fixed interval between predicate evaluations (must be positive)
//   - predicate: Returns true to stop the timer
//
// Returns:
//   - error: ErrInvalidTick, ErrNilCallback, or ErrSchedulerClosed
func (s *Scheduler) Timer(tick time.Duration, predicate func(elapsed time.Duration) bool) error {
	if tick <= 0 {
		return ErrInvalidTick
	}
	if predicate == nil {
		return ErrNilCallback
	}

	start := time.Now()

	var step func()
	step = func() {
		if predicate(time.Since(start)) {
			return
		}
		// Rescheduling after close is the timer's normal end of life.
		//nolint:errcheck // Nothing to report to; the scheduler is gone.
		s.Schedule(step, tick)
	}

	return s.Schedule(step, tick)
}
