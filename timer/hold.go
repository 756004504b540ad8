package timer

import (
	"time"
)

/*
 * A single active-hold timer. It runs a callback on normal expiry,
 * and a cleanup action on both expiry and cancellation, so the
 * associated lamp is never left on. Cancel blocks until the timer
 * goroutine has fully terminated: a replacement hold for the same
 * record must never race the one it replaces.
 */
type Hold struct {
	cancel chan struct{}
	done   chan struct{}
}

func StartHold(duration time.Duration, onExpire func(), cleanup func()) *Hold {
	hold := &Hold{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(hold.done)

		expiry := time.NewTimer(duration)
		defer expiry.Stop()

		select {
		case <-expiry.C:
			if onExpire != nil {
				onExpire()
			}

		case <-hold.cancel:
		}

		if cleanup != nil {
			cleanup()
		}
	}()

	return hold
}

/*
 * Cancel the hold and wait for it to finish. Safe to call after
 * expiry; it simply joins the finished goroutine.
 */
func (h *Hold) Cancel() {
	select {
	case <-h.done:
	default:
		select {
		case h.cancel <- struct{}{}:
		case <-h.done:
		}
	}

	<-h.done
}

/*
 * Report whether the hold has terminated, by expiry or by
 * cancellation.
 */
func (h *Hold) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
