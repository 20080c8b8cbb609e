// Package countdown drives per-second ticks toward a target instant.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TickFunc receives the remaining whole seconds, always > 0.
type TickFunc func(remaining int)

// Countdown invokes a tick callback once per second until the target instant
// and an expiry callback exactly once when it is reached. Only one run is
// active at a time: Start stops the previous run first.
type Countdown struct {
	clock clockwork.Clock

	mu   sync.Mutex
	stop chan struct{} // nil when no run is active
}

// New creates a Countdown driven by clock.
func New(clock clockwork.Clock) *Countdown {
	return &Countdown{clock: clock}
}

// Start begins a countdown to target. onTick fires immediately and then on
// every tick while time remains; onExpire fires once when remaining reaches
// zero, after which the run ends. Callbacks run on the countdown goroutine and
// may call Start or Stop themselves.
func (c *Countdown) Start(target time.Time, onTick TickFunc, onExpire func()) {
	c.mu.Lock()
	c.stopLocked()
	stop := make(chan struct{})
	c.stop = stop
	// The ticker is created before Start returns so a fake clock already sees
	// it as a waiter.
	ticker := c.clock.NewTicker(time.Second)
	c.mu.Unlock()

	go c.run(ticker, stop, target, onTick, onExpire)
}

// Stop ends the active run, if any. A stopped run never fires onExpire.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Active reports whether a run is in progress.
func (c *Countdown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *Countdown) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Countdown) run(ticker clockwork.Ticker, stop chan struct{}, target time.Time, onTick TickFunc, onExpire func()) {
	defer ticker.Stop()

	if c.emit(stop, target, onTick, onExpire) {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if c.emit(stop, target, onTick, onExpire) {
				return
			}
		}
	}
}

// emit delivers one tick or the expiry. It reports whether the run is over.
func (c *Countdown) emit(stop chan struct{}, target time.Time, onTick TickFunc, onExpire func()) bool {
	select {
	case <-stop:
		return true
	default:
	}

	if remaining := Remaining(target, c.clock.Now()); remaining > 0 {
		onTick(remaining)
		return false
	}

	// Claim the expiry under the lock so a concurrent Stop or Start wins
	// cleanly and onExpire cannot fire for a superseded run.
	c.mu.Lock()
	if c.stop != stop {
		c.mu.Unlock()
		return true
	}
	c.stop = nil
	c.mu.Unlock()

	onExpire()
	return true
}

// Remaining returns the whole seconds left until target, rounded up.
// It never returns a negative value.
func Remaining(target, now time.Time) int {
	d := target.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
