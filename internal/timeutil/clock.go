// Package timeutil provides the clock used to time segmentation stages, with
// deterministic implementations for tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of time operations the stage timers need.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the duration since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// StepClock advances by a fixed step on every call to Now, so each timed
// region measures a whole number of steps.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a StepClock starting at t.
func NewStepClock(t time.Time, step time.Duration) *StepClock {
	return &StepClock{now: t, step: step}
}

// Now returns the current time and then advances the clock by one step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Since returns the duration from t to the current time.
func (c *StepClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
