package playback

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// VirtualClock is a Scheduler driven by Advance instead of real time. The
// simulator and tests use it to fire readiness timeouts deterministically.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*virtualTimer
}

type virtualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewVirtualClock returns a clock at time zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

// AfterFunc schedules fn to run once the clock advances by d.
func (c *VirtualClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	timer := &virtualTimer{at: c.now + d, seq: c.seq, fn: fn}
	c.timers = append(c.timers, timer)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.fired || timer.stopped {
			return false
		}
		timer.stopped = true
		return true
	}
}

// Advance moves the clock forward, running due timers in deadline order on
// the calling goroutine. Timers armed by a callback fire in the same call
// when they fall inside the window.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		slices.SortFunc(c.timers, func(a, b *virtualTimer) int {
			if n := cmp.Compare(a.at, b.at); n != 0 {
				return n
			}
			return cmp.Compare(a.seq, b.seq)
		})
		var due *virtualTimer
		pending := c.timers[:0]
		for _, t := range c.timers {
			if t.stopped || t.fired {
				continue
			}
			if due == nil && t.at <= target {
				due = t
				continue
			}
			pending = append(pending, t)
		}
		c.timers = pending
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		due.fired = true
		c.now = due.at
		c.mu.Unlock()
		due.fn()
	}
}

// Now returns the elapsed virtual time.
func (c *VirtualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of armed timers.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
