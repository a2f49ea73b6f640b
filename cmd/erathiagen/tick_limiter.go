package main

import (
	"time"
)

// TickLimiter provides high-precision tick rate limiting for the headless
// generation loop.
type TickLimiter struct {
	next time.Time
}

// NewTickLimiter creates a new tick limiter
func NewTickLimiter() *TickLimiter {
	return &TickLimiter{}
}

// Wait blocks until the next tick should run based on the given rate.
// Uses a hybrid sleep/spin approach for better precision on high tick rates.
func (t *TickLimiter) Wait(rate int) {
	if rate <= 0 {
		t.next = time.Time{}
		return
	}

	target := time.Second / time.Duration(rate)

	if t.next.IsZero() {
		t.next = time.Now().Add(target)
	} else {
		t.next = t.next.Add(target)
	}

	for {
		remaining := time.Until(t.next)
		if remaining <= 0 {
			break
		}
		if remaining > 200*time.Microsecond {
			time.Sleep(remaining - 200*time.Microsecond)
		}
		// busy-wait for the final few microseconds
		if time.Until(t.next) <= 0 {
			break
		}
	}

	// If we're significantly late (e.g., hitch), resync to avoid drift
	if late := -time.Until(t.next); late > target {
		t.next = time.Now().Add(target)
	}
}
