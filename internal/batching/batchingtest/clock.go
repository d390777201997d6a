package batchingtest

import (
	"slices"
	"sync"
	"time"

	"github.com/Amund211/chatrelay/internal/batching"
)

// FakeClock is a manually advanced clock for tests.
//
// Timers created with AfterFunc fire synchronously inside Advance, in the
// order they are due.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *FakeClock
	at    time.Time
	f     func()
	done  bool
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) batching.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		clock: c,
		at:    c.now.Add(d),
		f:     f,
	}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock forward and runs every timer that is now due
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due []*fakeTimer
	remaining := c.timers[:0]
	for _, timer := range c.timers {
		switch {
		case timer.done:
		case !timer.at.After(c.now):
			timer.done = true
			due = append(due, timer)
		default:
			remaining = append(remaining, timer)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *fakeTimer) int {
		return a.at.Compare(b.at)
	})

	// Outside the lock: the callbacks may create new timers
	for _, timer := range due {
		timer.f()
	}
}

// PendingTimers returns the number of timers that have neither fired nor been stopped
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := 0
	for _, timer := range c.timers {
		if !timer.done {
			pending++
		}
	}
	return pending
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	return true
}
