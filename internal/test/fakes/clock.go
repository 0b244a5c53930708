// Package fakes provides manual test doubles for the domain ports.
package fakes

import (
	"sync"
	"time"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// Clock is a manually driven ports.Clock. Time only moves on Advance and
// tickers only fire on Tick.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*Ticker
}

// NewClock creates a clock frozen at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the frozen time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// NewTicker registers a ticker that fires on Tick
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &Ticker{ch: make(chan time.Time, 1), period: d}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick fires every running ticker once. Like time.Ticker, a tick is dropped
// when the previous one has not been consumed yet.
func (c *Clock) Tick() {
	c.mu.Lock()
	now := c.now
	tickers := append([]*Ticker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

// ActiveTickers returns the number of tickers that have not been stopped
func (c *Clock) ActiveTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := 0
	for _, t := range c.tickers {
		if !t.Stopped() {
			active++
		}
	}
	return active
}

// Tickers returns every ticker created so far, in creation order
func (c *Clock) Tickers() []*Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Ticker(nil), c.tickers...)
}

// Ticker is the ticker handed out by Clock
type Ticker struct {
	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	stopped bool
}

func (t *Ticker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}

// C returns the tick channel
func (t *Ticker) C() <-chan time.Time {
	return t.ch
}

// Stop stops the ticker
func (t *Ticker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Reset changes the period and restarts a stopped ticker
func (t *Ticker) Reset(d time.Duration) {
	t.mu.Lock()
	t.period = d
	t.stopped = false
	t.mu.Unlock()
}

// Period returns the last configured period
func (t *Ticker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

// Stopped reports whether Stop was called
func (t *Ticker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Sampler is a settable ports.MemorySampler
type Sampler struct {
	mu sync.Mutex
	mb uint64
}

// Set changes the reported heap size
func (s *Sampler) Set(mb uint64) {
	s.mu.Lock()
	s.mb = mb
	s.mu.Unlock()
}

// HeapAllocMB returns the configured heap size
func (s *Sampler) HeapAllocMB() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mb
}

var (
	_ ports.Clock         = (*Clock)(nil)
	_ ports.MemorySampler = (*Sampler)(nil)
)
