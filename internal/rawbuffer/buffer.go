// Package rawbuffer implements the raw-data buffer manager: a per-signal
// ring of {bytes, timestamp} samples addressed by an opaque 32-bit handle,
// with per-signal quotas and a global process-wide byte ceiling enforced by
// LRU eviction. The doubly-linked-list-plus-map eviction structure is
// modeled on a caching library in the reference corpus that tracks a
// maxmemory/usedmemory budget with mutex-guarded insert/evict.
package rawbuffer

import (
	"errors"
	"sync"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
)

// ErrSampleTooLarge is returned by Push when a sample exceeds the signal's
// configured MaxBytesPerSample.
var ErrSampleTooLarge = errors.New("rawbuffer: sample exceeds MaxBytesPerSample")

// SignalConfig overrides the buffer manager's defaults for one signal.
// A zero field means "use the manager-wide default" (itself zero == no
// limit on that axis).
type SignalConfig struct {
	MaxSamples        int   // 0 = unlimited sample count for this signal
	MaxBytesPerSample int   // 0 = unlimited per-sample size
	ReservedBytes     int64 // bytes this signal may hold even under global pressure
	MaxBytes          int64 // 0 = unlimited total bytes for this signal
}

type entry struct {
	handle   uint32
	signalID uint32
	data     []byte
	ts       clock.TimePoint
	size     int

	// global LRU list (most-recently-pushed at head)
	gNext, gPrev *entry
	// per-signal list (most-recently-pushed at head)
	sNext, sPrev *entry
}

type signalState struct {
	cfg        SignalConfig
	head, tail *entry
	count      int
	bytes      int64
}

// Manager is the process-wide (or per-ingestion-adapter, in tests) raw-data
// buffer. Safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	globalMaxByte int64 // 0 = unlimited
	usedBytes     int64
	nextHandle    uint32
	entries       map[uint32]*entry
	signals       map[uint32]*signalState

	// global LRU list across all signals, used to satisfy the global ceiling
	gHead, gTail *entry
}

// New constructs a Manager with the given global byte ceiling (0 = unlimited).
func New(globalMaxBytes int64) *Manager {
	return &Manager{
		globalMaxByte: globalMaxBytes,
		entries:       make(map[uint32]*entry),
		signals:       make(map[uint32]*signalState),
	}
}

// Configure installs (or replaces) the per-signal override for signalID.
// Safe to call before or after samples have been pushed for that signal.
func (m *Manager) Configure(signalID uint32, cfg SignalConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateFor(signalID)
	s.cfg = cfg
}

func (m *Manager) stateFor(signalID uint32) *signalState {
	s, ok := m.signals[signalID]
	if !ok {
		s = &signalState{}
		m.signals[signalID] = s
	}
	return s
}

// Push stores data as the newest sample for signalID at timestamp ts and
// returns its handle. It applies per-signal quotas first (evicting that
// signal's own oldest samples), then the global byte ceiling (evicting the
// globally-oldest sample belonging to a signal currently over its
// ReservedBytes floor).
func (m *Manager) Push(signalID uint32, data []byte, ts clock.TimePoint) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stateFor(signalID)
	if s.cfg.MaxBytesPerSample > 0 && len(data) > s.cfg.MaxBytesPerSample {
		return 0, ErrSampleTooLarge
	}

	m.nextHandle++
	h := m.nextHandle
	e := &entry{handle: h, signalID: signalID, data: data, ts: ts, size: len(data)}

	m.entries[h] = e
	m.linkSignalFront(s, e)
	m.linkGlobalFront(e)
	s.count++
	s.bytes += int64(e.size)
	m.usedBytes += int64(e.size)

	m.evictSignalOverage(signalID, s)
	m.evictGlobalOverage()

	return h, nil
}

// Borrow returns the bytes and timestamp stored at handle for signalID.
// ok is false ("Missing") if the handle does not exist, was evicted, or
// belongs to a different signal than signalID.
func (m *Manager) Borrow(signalID, handle uint32) (data []byte, ts clock.TimePoint, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[handle]
	if !found || e.signalID != signalID {
		return nil, clock.TimePoint{}, false
	}
	return e.data, e.ts, true
}

func (m *Manager) evictSignalOverage(signalID uint32, s *signalState) {
	for (s.cfg.MaxSamples > 0 && s.count > s.cfg.MaxSamples) ||
		(s.cfg.MaxBytes > 0 && s.bytes > s.cfg.MaxBytes) {
		oldest := s.tail
		if oldest == nil {
			break
		}
		m.evict(oldest)
	}
}

func (m *Manager) evictGlobalOverage() {
	if m.globalMaxByte <= 0 {
		return
	}
	candidate := m.gTail
	for m.usedBytes > m.globalMaxByte && candidate != nil {
		prev := candidate.gPrev
		s := m.signals[candidate.signalID]
		if s.bytes > s.cfg.ReservedBytes {
			m.evict(candidate)
		}
		candidate = prev
	}
}

func (m *Manager) evict(e *entry) {
	s := m.signals[e.signalID]
	m.unlinkSignal(s, e)
	m.unlinkGlobal(e)
	delete(m.entries, e.handle)
	s.count--
	s.bytes -= int64(e.size)
	m.usedBytes -= int64(e.size)
}

func (m *Manager) linkSignalFront(s *signalState, e *entry) {
	e.sNext = s.head
	e.sPrev = nil
	if s.head != nil {
		s.head.sPrev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (m *Manager) unlinkSignal(s *signalState, e *entry) {
	if e.sPrev != nil {
		e.sPrev.sNext = e.sNext
	}
	if e.sNext != nil {
		e.sNext.sPrev = e.sPrev
	}
	if s.head == e {
		s.head = e.sNext
	}
	if s.tail == e {
		s.tail = e.sPrev
	}
}

func (m *Manager) linkGlobalFront(e *entry) {
	e.gNext = m.gHead
	e.gPrev = nil
	if m.gHead != nil {
		m.gHead.gPrev = e
	}
	m.gHead = e
	if m.gTail == nil {
		m.gTail = e
	}
}

func (m *Manager) unlinkGlobal(e *entry) {
	if e.gPrev != nil {
		e.gPrev.gNext = e.gNext
	}
	if e.gNext != nil {
		e.gNext.gPrev = e.gPrev
	}
	if m.gHead == e {
		m.gHead = e.gNext
	}
	if m.gTail == e {
		m.gTail = e.gPrev
	}
}

// UsedBytes reports the manager's current total byte usage across all
// signals, for diagnostics/metrics.
func (m *Manager) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedBytes
}

// SampleCount reports the number of live samples currently held for signalID.
func (m *Manager) SampleCount(signalID uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.signals[signalID]; ok {
		return s.count
	}
	return 0
}
