package engine

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing sequence numbers. Safe for concurrent
// use. Change batches and scenario ids are stamped from it.
type Clock struct {
	seq atomic.Int64
}

func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes a clock whose last stamp was start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last stamp handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Timer is a pending callback scheduled by a TimeSource.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// TimeSource provides wall time and timers.
// Implemented by SystemTime (production) and testutil.ManualClock (tests).
type TimeSource interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemTime is the TimeSource backed by package time.
type SystemTime struct{}

// Now returns time.Now().
func (SystemTime) Now() time.Time { return time.Now() }

// AfterFunc schedules f on its own goroutine after d.
func (SystemTime) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
