// Package timeutil provides a testable abstraction over time operations.
// The occupancy debounce, discovery sampling and relay watchdog are all
// wall-clock driven, so tests steer them through MockClock.
package timeutil

import (
	"sync"
	"time"
)

// Clock abstracts the time operations the service depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// Sleep pauses for the specified duration.
	Sleep(d time.Duration)

	// NewTimer creates a Timer that fires once after at least d.
	NewTimer(d time.Duration) Timer

	// NewTicker returns a Ticker delivering ticks every d.
	NewTicker(d time.Duration) Ticker
}

// Timer represents a single event timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker delivers periodic ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                   { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration  { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)            { time.Sleep(d) }
func (RealClock) NewTimer(d time.Duration) Timer   { return &realTimer{time.NewTimer(d)} }
func (RealClock) NewTicker(d time.Duration) Ticker { return &realTicker{time.NewTicker(d)} }

type realTimer struct{ t *time.Timer }

func (t *realTimer) C() <-chan time.Time { return t.t.C }
func (t *realTimer) Stop() bool          { return t.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (t *realTicker) C() <-chan time.Time { return t.t.C }
func (t *realTicker) Stop()               { t.t.Stop() }

// MockClock is a manually advanced clock for tests. Advance moves time
// forward and fires any timers or tickers whose deadline has passed.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*mockTimer
	tickers []*mockTicker
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep returns immediately; mock time only moves via Advance.
func (c *MockClock) Sleep(time.Duration) {}

// Advance moves the clock forward and fires expired timers and tickers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := append([]*mockTimer(nil), c.timers...)
	tickers := append([]*mockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.fireIfDue(now)
	}
	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	c.timers = append(c.timers, t)
	return t
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

type mockTimer struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	stopped  bool
	fired    bool
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *mockTimer) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired || now.Before(t.deadline) {
		return
	}
	t.fired = true
	select {
	case t.ch <- now:
	default:
	}
}

type mockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *mockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.interval)
}
