package parking

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// MonotonicClock never reports a time earlier than one it already returned,
// so a wall clock stepping backwards cannot shorten a stay.
type MonotonicClock struct {
	src  Clock
	mu   sync.Mutex
	last time.Time
}

func NewMonotonicClock(src Clock) *MonotonicClock {
	if src == nil {
		src = SystemClock{}
	}
	return &MonotonicClock{src: src}
}

func (c *MonotonicClock) Now() time.Time {
	now := c.src.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
