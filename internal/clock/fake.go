package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually-advanced Clock for deterministic tests. It mirrors
// the waiter-list approach zoobzio-streamz uses for its own clock tests:
// timers register a target time, and Advance fires every waiter whose
// target has been reached.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	target time.Time
	dest   chan time.Time
	period time.Duration // non-zero for tickers
	active bool
}

// NewFakeClock creates a FakeClock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the fake clock's current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that receives the fake time once d has elapsed.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

// AfterFunc is not used by recoguard's production paths; it is provided so
// FakeClock satisfies the full Clock surface.
func (f *FakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := f.NewTimer(d)
	go func() {
		<-t.C()
		fn()
	}()
	return t
}

// NewTimer creates a fake Timer that fires when the clock advances past d.
func (f *FakeClock) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		target: f.now.Add(d),
		dest:   make(chan time.Time, 1),
		active: true,
	}
	f.waiters = append(f.waiters, w)
	return &fakeTimer{clock: f, waiter: w}
}

// Advance moves the fake clock forward by d, firing any waiter whose target
// time has been reached or passed. A ticker waiter (period > 0) stays in the
// list and its target is rolled forward past now instead of being removed
// after its first fire; it receives at most one tick per Advance, however
// many periods that Advance spans.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.active {
			continue
		}
		if !w.target.After(f.now) {
			select {
			case w.dest <- f.now:
			default:
			}
			if w.period > 0 {
				for !w.target.After(f.now) {
					w.target = w.target.Add(w.period)
				}
				remaining = append(remaining, w)
			}
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining
}

// NewTicker creates a fake Ticker that fires every d once the clock has
// advanced past each successive period.
func (f *FakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		target: f.now.Add(d),
		dest:   make(chan time.Time, 1),
		period: d,
		active: true,
	}
	f.waiters = append(f.waiters, w)
	return &fakeTicker{clock: f, waiter: w}
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.waiter.dest }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.waiter.active
	t.waiter.active = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.waiter.active
	t.waiter.active = true
	t.waiter.target = t.clock.now.Add(d)
	return was
}

type fakeTicker struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.waiter.dest }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.active = false
}
