// Package control implements the Pause/InterjectController described in
// spec.md §4.9: process-wide pause/user-control/interjection state that
// the scheduler and turn engine both consult as cooperative yield points.
// Grounded on the teacher's hitl.Manager (mutex-guarded process-wide
// state with TTL/expiry fields), narrowed from an approval workflow to a
// simple gate.
package control

import (
	"sync"
	"time"
)

// Controller holds the process-wide pause/interjection state.
type Controller struct {
	mu                sync.Mutex
	paused            bool
	userControlUntil  time.Time
	userInterruptTs   time.Time
}

// New builds an un-paused Controller.
func New() *Controller {
	return &Controller{}
}

// SetPaused toggles the global pause flag.
func (c *Controller) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
}

// Paused reports the current pause flag.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// OpenUserControl grants the user exclusive control for ttl, called when
// the UI opens an interjection prompt.
func (c *Controller) OpenUserControl(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userControlUntil = time.Now().Add(ttl)
}

// CloseUserControl clears user control immediately, called when the
// interjection prompt completes.
func (c *Controller) CloseUserControl() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userControlUntil = time.Time{}
}

// UserControlActive reports whether the user-control TTL hasn't expired.
func (c *Controller) UserControlActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.userControlUntil)
}

// RecordInterrupt stamps the moment the user interjected, consulted by
// the turn engine's 1.5s yield window.
func (c *Controller) RecordInterrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userInterruptTs = time.Now()
}

// RecentlyInterrupted reports whether a user interjection landed within
// window (1500ms per spec.md §4.9).
func (c *Controller) RecentlyInterrupted(window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userInterruptTs.IsZero() {
		return false
	}
	return time.Since(c.userInterruptTs) < window
}

// SchedulerBlocked reports whether the scheduler should skip a tick
// entirely: paused or user control active.
func (c *Controller) SchedulerBlocked() bool {
	return c.Paused() || c.UserControlActive()
}
