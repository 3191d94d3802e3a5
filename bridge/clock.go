package bridge

import (
	"sync"
	"time"
)

// Clock is a wall-clock wrapper that returns strictly increasing values
// even for consecutive calls within the same millisecond. It is used
// exclusively to stamp filesystem node modification times, so the guest's
// import caching never observes a non-increasing timestamp.
type Clock struct {
	mu sync.Mutex

	now func() time.Time

	lastMillis   int64
	counter      int64
	lastReturned time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current time, nudged forward by a per-millisecond
// counter when the wall clock has not advanced. The counter resets
// whenever the wall clock moves to a new millisecond.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	millis := c.now().UnixMilli()
	if millis != c.lastMillis {
		c.lastMillis = millis
		c.counter = 0
	} else {
		c.counter++
	}

	t := time.UnixMilli(millis).Add(time.Duration(c.counter) * time.Microsecond)
	if !t.After(c.lastReturned) {
		// Wall clock stalled or went backwards past the counter.
		t = c.lastReturned.Add(time.Microsecond)
	}
	c.lastReturned = t

	return t
}
