package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultWarningWindow is how long before expiry the user is warned.
const DefaultWarningWindow = 5 * time.Minute

// ClockState is the state of an ExpiryClock.
type ClockState string

const (
	ClockIdle  ClockState = "idle"
	ClockArmed ClockState = "armed"
	ClockFired ClockState = "fired"
)

// ExpiryClock answers whether a token is expired and holds at most one
// pending warning timer.
type ExpiryClock struct {
	clock clockwork.Clock

	mu    sync.Mutex
	timer clockwork.Timer
	state ClockState
	// gen is bumped on every Arm and Disarm so a timer that already started
	// firing cannot deliver a stale warning.
	gen uint64
}

// NewExpiryClock creates an idle clock. A nil clock means the real clock.
func NewExpiryClock(clock clockwork.Clock) *ExpiryClock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ExpiryClock{clock: clock, state: ClockIdle}
}

// IsExpired reports whether token is expired. Undecodable tokens count as expired.
func (c *ExpiryClock) IsExpired(token string) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return !exp.After(c.clock.Now())
}

// Arm schedules onWarning to run window before expiresAt, replacing any
// pending timer. If that moment has already passed, onWarning runs before
// Arm returns.
func (c *ExpiryClock) Arm(expiresAt time.Time, window time.Duration, onWarning func()) {
	c.mu.Lock()
	c.stopLocked()
	c.gen++
	gen := c.gen

	delay := expiresAt.Add(-window).Sub(c.clock.Now())
	if delay <= 0 {
		c.state = ClockFired
		c.mu.Unlock()
		onWarning()
		return
	}

	c.state = ClockArmed
	c.timer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.state = ClockFired
		c.timer = nil
		c.mu.Unlock()
		onWarning()
	})
	c.mu.Unlock()
}

// Disarm cancels the pending timer without invoking it. Safe to call repeatedly.
func (c *ExpiryClock) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	c.state = ClockIdle
}

// State returns the current state.
func (c *ExpiryClock) State() ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ExpiryClock) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
