package clock

import (
	"sync"
	"time"
)

// FakeClock is an auto-advancing Clock for tests. Every After call moves
// the clock forward by the requested duration, records it, and fires at
// once, so code that sleeps runs instantly while the recorded durations
// stay observable.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// After advances the clock by d and returns an already-fired channel.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	if d > 0 {
		f.current = f.current.Add(d)
	}
	f.sleeps = append(f.sleeps, d)
	now := f.current
	f.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward without recording a sleep.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Sleeps returns a copy of every duration passed to After, in order.
func (f *FakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
