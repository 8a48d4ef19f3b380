// Package clock provides the single monotonic+wall-clock time source shared
// by every component. No component calls time.Now() directly.
package clock

import (
	"sync"
	"time"
)

// TimePoint pairs a monotonic reading with a wall-clock reading taken at the
// same instant. Only the monotonic component may be used for scheduling;
// the system component is for attaching external timestamps and may jump
// forward or backward if the device's wall clock is corrected.
type TimePoint struct {
	MonotonicMs int64
	SystemMs    int64
}

// Before reports whether t is strictly before o on the monotonic axis.
func (t TimePoint) Before(o TimePoint) bool { return t.MonotonicMs < o.MonotonicMs }

// Add returns a TimePoint d later on both axes.
func (t TimePoint) Add(d time.Duration) TimePoint {
	ms := d.Milliseconds()
	return TimePoint{MonotonicMs: t.MonotonicMs + ms, SystemMs: t.SystemMs + ms}
}

// Sub returns the monotonic difference t - o as a time.Duration.
func (t TimePoint) Sub(o TimePoint) time.Duration {
	return time.Duration(t.MonotonicMs-o.MonotonicMs) * time.Millisecond
}

// Clock is the process-wide time source. The zero value is not usable;
// construct with New. Clock is safe for concurrent use.
type Clock struct {
	mu      sync.Mutex
	start   time.Time // instant of construction; monotonic reads use monoRef
	monoRef time.Time // time.Now() reference for monotonic reads
}

// New constructs a Clock anchored to the current instant.
func New() *Clock {
	now := time.Now()
	return &Clock{start: now, monoRef: now}
}

// Now returns the current TimePoint. The monotonic component is derived from
// Go's monotonic clock reading (time.Since never observes wall-clock jumps);
// the system component is derived from the wall clock and may jump.
func (c *Clock) Now() TimePoint {
	c.mu.Lock()
	ref := c.monoRef
	c.mu.Unlock()

	now := time.Now()
	return TimePoint{
		MonotonicMs: now.Sub(ref).Milliseconds(),
		SystemMs:    now.UnixMilli(),
	}
}

var (
	processClockMu sync.Mutex
	processClock   *Clock
)

// Init installs the process-wide singleton clock. Components that do not
// receive a *Clock explicitly (e.g. constructed deep in a call chain during
// tests) may fall back to Default. Re-entrant: calling Init again replaces
// the singleton, which only test setup should do.
func Init() *Clock {
	processClockMu.Lock()
	defer processClockMu.Unlock()
	processClock = New()
	return processClock
}

// Shutdown clears the process-wide singleton.
func Shutdown() {
	processClockMu.Lock()
	defer processClockMu.Unlock()
	processClock = nil
}

// Default returns the process-wide singleton, constructing one on first use.
func Default() *Clock {
	processClockMu.Lock()
	defer processClockMu.Unlock()
	if processClock == nil {
		processClock = New()
	}
	return processClock
}
