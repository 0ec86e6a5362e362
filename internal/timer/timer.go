// Package timer drives the three quiz timing modes. The controller is
// tick-driven: the host scheduler (or a test) calls Tick once per second,
// so no goroutines or wall clocks live here.
package timer

import (
	"sync"

	"quiz-attempt-service/internal/domain"
)

// Controller counts down according to a TimerPolicy and fires the expiry
// callback when a budget reaches zero. Under TimerTotalQuiz the callback
// fires at most once for the whole attempt; under TimerPerQuestion it fires
// once per question and ResetForQuestion re-arms it.
type Controller struct {
	mu        sync.Mutex
	policy    domain.TimerPolicy
	remaining int
	running   bool
	paused    bool
	expired   bool // total-quiz mode only: latch after the single expiry
	onExpire  func()
}

// New builds a controller for the given policy. The expiry callback runs
// synchronously inside Tick; it must not call back into the controller.
func New(policy domain.TimerPolicy, onExpire func()) *Controller {
	return &Controller{policy: policy, onExpire: onExpire}
}

// Start arms the countdown with a full budget.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.paused = false
	c.expired = false
	c.remaining = c.policy.Seconds
}

// Tick consumes one second. Returns true when this tick fired the expiry
// callback.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	if c.policy.Mode == domain.TimerNone || !c.running || c.paused || c.expired {
		c.mu.Unlock()
		return false
	}
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}
	if c.policy.Mode == domain.TimerTotalQuiz {
		c.expired = true
	}
	// Per-question mode stays paused until ResetForQuestion re-arms it, so a
	// late tick can never stack a second expiry while the first is handled.
	c.paused = true
	fire := c.onExpire
	c.mu.Unlock()

	if fire != nil {
		fire()
	}
	return true
}

// Pause freezes the countdown without losing the remaining value.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume continues from the frozen value. A total-quiz timer that already
// expired stays expired.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired {
		return
	}
	c.paused = false
}

// ResetForQuestion grants the current question a full budget. Only
// meaningful under TimerPerQuestion; a no-op otherwise.
func (c *Controller) ResetForQuestion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy.Mode != domain.TimerPerQuestion || !c.running {
		return
	}
	c.remaining = c.policy.Seconds
	c.paused = false
}

// Remaining reports the seconds left on the active budget. Always 0 under
// TimerNone.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy.Mode == domain.TimerNone {
		return 0
	}
	return c.remaining
}

// Mode exposes the policy's timing mode.
func (c *Controller) Mode() domain.TimerMode {
	return c.policy.Mode
}
