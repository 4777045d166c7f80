// Package clock abstracts wall-clock access so schedulers can be driven
// deterministically in tests.
//
// Production code uses Real(). Tests use Fake(t0) and move time forward
// with Advance; WaitForTimers closes the race between a goroutine arming a
// timer and the test advancing past it.
package clock

import "time"

// Clock is the subset of the time package used by runners and sweeps.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	// If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Stop it when the
	// waiting goroutine gives up so fake clocks don't count it as pending.
	NewTimer(d time.Duration) *Timer
}

// Timer is a single-shot timer. Read the fire time from C.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the Timer from firing. It reports whether the call
// stopped the timer (false if it already fired or was stopped).
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}
