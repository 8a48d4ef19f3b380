package connectivity

import "sync"

// Allocator is the accounting allocator spec.md §5 requires every outbound
// allocation to pass through: sendBuffer fails with QuotaReached before any
// network I/O if admitting the payload would exceed the configured ceiling.
// Re-entrant and shared across all connectivity activity on the Client.
type Allocator struct {
	mu   sync.Mutex
	used int64
	max  int64
}

// NewAllocator constructs an Allocator with the given ceiling. A
// non-positive ceiling disables the quota (unbounded).
func NewAllocator(maxBytes int64) *Allocator {
	return &Allocator{max: maxBytes}
}

// Reserve admits n bytes against the ceiling, returning false without
// mutating state if the ceiling would be exceeded.
func (a *Allocator) Reserve(n int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.max > 0 && a.used+n > a.max {
		return false
	}
	a.used += n
	return true
}

// Release returns n previously reserved bytes to the pool. Callers must
// release exactly what they reserved, once, regardless of publish outcome.
func (a *Allocator) Release(n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= n
	if a.used < 0 {
		a.used = 0
	}
}

// InUse reports the currently reserved byte count, for diagnostics.
func (a *Allocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}
