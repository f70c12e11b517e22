// Package timer provides the single-shot countdown used by the reminder
// cycle controller. At most one expiry may be pending at a time; arming an
// already-armed countdown is a programming error and panics.
package timer

import (
	"sync"
	"time"
)

// Countdown is a single-shot delay. Arm schedules one expiry, delivered by
// calling the fire function given at construction; after delivery the
// countdown disarms itself. Cancel removes a pending expiry and is a no-op
// when nothing is pending.
type Countdown struct {
	mu       sync.Mutex
	fire     func()
	t        *time.Timer
	gen      uint64 // bumped on Cancel so a stale firing can detect it lost the race
	armed    bool
	deadline time.Time
}

func New(fire func()) *Countdown {
	return &Countdown{fire: fire}
}

// Arm schedules the expiry after d. Panics if an expiry is already pending:
// two competing timing intents mean the state machine is broken, and
// silently replacing the timer would mask that.
func (c *Countdown) Arm(d time.Duration) {
	c.mu.Lock()
	if c.armed {
		c.mu.Unlock()
		panic("timer: Arm called while an expiry is already pending")
	}
	c.armed = true
	c.deadline = time.Now().Add(d)
	gen := c.gen
	c.t = time.AfterFunc(d, func() { c.expire(gen) })
	c.mu.Unlock()
}

func (c *Countdown) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.armed {
		// Cancelled after the runtime timer fired but before we got here.
		c.mu.Unlock()
		return
	}
	c.armed = false
	c.t = nil
	c.deadline = time.Time{}
	c.mu.Unlock()

	c.fire()
}

// Cancel removes a pending expiry. Calling it with nothing pending is a
// no-op.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return
	}
	c.t.Stop()
	c.t = nil
	c.gen++
	c.armed = false
	c.deadline = time.Time{}
}

// Armed reports whether an expiry is pending.
func (c *Countdown) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Deadline returns when the pending expiry is due, or the zero time when
// nothing is pending.
func (c *Countdown) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}
