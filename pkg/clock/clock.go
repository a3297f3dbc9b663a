// Package clock provides the monotonic time source used by the fusion loop.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of time operations the scheduler depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)
}

// Real implements Clock using the standard time package.
type Real struct{}

// Now returns the current time. The returned value carries a monotonic reading.
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep pauses the current goroutine for at least the duration d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Sim is a manually controlled clock for tests. Sleep advances the
// simulated time instead of blocking.
type Sim struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewSim creates a Sim clock set to the given time.
func NewSim(start time.Time) *Sim {
	return &Sim{now: start}
}

// Now returns the simulated current time.
func (c *Sim) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the simulated time by d.
func (c *Sim) Sleep(d time.Duration) {
	c.Advance(d)
	c.mu.Lock()
	c.slept += d
	c.mu.Unlock()
}

// Advance moves the simulated time forward without recording a sleep.
func (c *Sim) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (c *Sim) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
