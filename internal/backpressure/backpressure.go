// Package backpressure derives pause/resume signals from a ring buffer's
// fullness, emitting exactly one warning event on the rising edge and one
// resume event on the falling edge (C2).
package backpressure

import "sync"

// FullnessSource reports whether the underlying buffer is at or above its
// backpressure threshold. *ringbuf.Buffer satisfies this.
type FullnessSource interface {
	IsFull() bool
}

// Controller tracks the rising/falling edge of a FullnessSource's IsFull
// signal and notifies a listener on each transition exactly once.
type Controller struct {
	mu       sync.Mutex
	source   FullnessSource
	paused   bool
	onPause  func()
	onResume func()
}

// New constructs a Controller over source. onPause/onResume may be nil.
func New(source FullnessSource, onPause, onResume func()) *Controller {
	return &Controller{source: source, onPause: onPause, onResume: onResume}
}

// ShouldPause returns the current pause state, firing the rising/falling
// edge callback exactly once per transition.
func (c *Controller) ShouldPause() bool {
	full := c.source.IsFull()

	c.mu.Lock()
	defer c.mu.Unlock()

	if full && !c.paused {
		c.paused = true
		if c.onPause != nil {
			c.onPause()
		}
	} else if !full && c.paused {
		c.paused = false
		if c.onResume != nil {
			c.onResume()
		}
	}
	return c.paused
}
