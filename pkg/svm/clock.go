package svm

import (
	"sync/atomic"
	"time"
)

// TimeSource supplies the unix timestamp programs see in their clock.
type TimeSource interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// ManualClock is a TimeSource under caller control.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a clock fixed at unix.
func NewManualClock(unix int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(unix)
	return c
}

// Now returns the clock's current value.
func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// Set moves the clock to unix.
func (c *ManualClock) Set(unix int64) {
	c.now.Store(unix)
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (c *ManualClock) Advance(d time.Duration) {
	c.now.Add(int64(d / time.Second))
}
