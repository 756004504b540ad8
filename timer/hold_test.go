package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHoldExpiryRunsCallbackThenCleanup(t *testing.T) {
	var expired, cleaned atomic.Int32
	var order atomic.Int32

	hold := StartHold(20*time.Millisecond,
		func() {
			expired.Add(1)
			order.CompareAndSwap(0, 1)
		},
		func() {
			cleaned.Add(1)
			order.CompareAndSwap(1, 2)
		})

	deadline := time.Now().Add(2 * time.Second)
	for !hold.Done() {
		if time.Now().After(deadline) {
			t.Fatal("hold never expired")
		}
		time.Sleep(time.Millisecond)
	}

	if expired.Load() != 1 || cleaned.Load() != 1 {
		t.Errorf("expired %d times, cleaned %d times", expired.Load(), cleaned.Load())
	}
	if order.Load() != 2 {
		t.Error("cleanup did not run after the expiry callback")
	}
}

func TestHoldCancelSkipsCallbackButRunsCleanup(t *testing.T) {
	var expired, cleaned atomic.Int32

	hold := StartHold(time.Hour,
		func() { expired.Add(1) },
		func() { cleaned.Add(1) })

	hold.Cancel()

	/* Cancel joins the goroutine, so both counters are final here. */
	if expired.Load() != 0 {
		t.Error("cancelled hold still ran its expiry callback")
	}
	if cleaned.Load() != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleaned.Load())
	}
	if !hold.Done() {
		t.Error("hold not done after Cancel returned")
	}
}

func TestHoldCancelAfterExpiryIsANoOp(t *testing.T) {
	var expired, cleaned atomic.Int32

	hold := StartHold(time.Millisecond,
		func() { expired.Add(1) },
		func() { cleaned.Add(1) })

	deadline := time.Now().Add(2 * time.Second)
	for !hold.Done() {
		if time.Now().After(deadline) {
			t.Fatal("hold never expired")
		}
		time.Sleep(time.Millisecond)
	}

	hold.Cancel()
	hold.Cancel()

	if expired.Load() != 1 || cleaned.Load() != 1 {
		t.Errorf("expired %d times, cleaned %d times after double cancel", expired.Load(), cleaned.Load())
	}
}

func TestHoldReplacementNeverOverlaps(t *testing.T) {
	var active atomic.Int32
	var overlapped atomic.Bool

	var hold *Hold
	for i := 0; i < 20; i++ {
		if hold != nil {
			hold.Cancel()
		}

		if active.Add(1) > 1 {
			overlapped.Store(true)
		}
		hold = StartHold(5*time.Millisecond, nil, func() { active.Add(-1) })

		time.Sleep(time.Millisecond)
	}
	hold.Cancel()

	if overlapped.Load() {
		t.Error("a replacement hold started before its predecessor cleaned up")
	}
	if active.Load() != 0 {
		t.Errorf("%d holds still active after final cancel", active.Load())
	}
}
