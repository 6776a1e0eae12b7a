// Package clock abstracts timers so expiry logic can be tested without
// sleeping. Production code uses Real(); tests use Fake() and call Advance.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package used by passkeeper.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// NewTicker delivers ticks on the returned channel every d until stop
	// is called.
	NewTicker(d time.Duration) (ticks <-chan time.Time, stop func())
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. It reports false if the call already ran or
	// was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// FakeClock is a deterministic Clock. Time moves only on Advance.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	ticks    chan time.Time
	interval time.Duration
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run when the clock passes now+d. With d <= 0,
// f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{clock: c, waiter: &fakeWaiter{fired: true}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

// NewTicker registers a periodic waiter. Ticks are dropped when the
// consumer falls behind.
func (c *FakeClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &fakeWaiter{deadline: c.current.Add(d), ticks: make(chan time.Time, 1), interval: d}
	c.waiters = append(c.waiters, w)
	return w.ticks, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached, in deadline order. Callbacks run without the
// clock's lock held, so they may call back into the clock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
			select {
			case next.ticks <- c.current:
			default:
			}
			continue
		}
		next.fired = true
		c.mu.Unlock()
		next.callback()
		c.mu.Lock()
	}
	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// Pending returns the number of timers and tickers that have neither fired
// nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	due := make([]*fakeWaiter, 0, len(c.waiters))
	for _, w := range c.waiters {
		if !w.stopped && !w.fired && !w.deadline.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due[0]
}

func (c *FakeClock) compactLocked() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	return true
}
