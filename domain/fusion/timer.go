package fusion

import "time"

// Timer is a periodic deadline advanced by the loop. It never bursts to
// catch up: a timer more than one period late resynchronises to now.
type Timer struct {
	period time.Duration
	last   time.Time
}

// NewTimer returns a timer whose first fire is one period after start.
// A non-positive period fires on every check.
func NewTimer(period time.Duration, start time.Time) Timer {
	return Timer{period: period, last: start}
}

// Period returns the timer period.
func (t *Timer) Period() time.Duration { return t.period }

// Due reports whether the timer fires at now and advances it if so.
func (t *Timer) Due(now time.Time) bool {
	if t.period <= 0 {
		t.last = now
		return true
	}
	elapsed := now.Sub(t.last)
	if elapsed < t.period {
		return false
	}
	if elapsed >= 2*t.period {
		t.last = now
	} else {
		t.last = t.last.Add(t.period)
	}
	return true
}
