package inspection

import (
	"time"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

func msToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// sample is one stored reading plus the set of conditions that have already
// consumed it for a snapshot.
type sample struct {
	val        values.Value
	ts         clock.TimePoint
	seq        uint64
	consumedBy map[string]bool
}

// ringBuffer tracks one (signalID, fetchRequestID) signal's recent history.
// The latest reading is always tracked regardless of cfg.SampleBufferSize —
// a zero-sized buffer is legal for condition-only signals that never emit
// but must still be readable by SIGNAL/IS_NULL evaluation.
type ringBuffer struct {
	cfg SignalConfig

	history  []sample // len == cap(cfg.SampleBufferSize) once allocated
	writeIdx int
	count    int

	latest       sample
	hasSample    bool
	lastSampleTs clock.TimePoint
}

func newRingBuffer(cfg SignalConfig) *ringBuffer {
	rb := &ringBuffer{cfg: cfg}
	if cfg.SampleBufferSize > 0 {
		rb.history = make([]sample, cfg.SampleBufferSize)
	}
	return rb
}

// push applies the subsampling filter and, if the sample survives it,
// records it as both the latest reading and (capacity permitting) a history
// entry. Returns false if the sample was dropped by subsampling.
func (rb *ringBuffer) push(val values.Value, ts clock.TimePoint, seq uint64) bool {
	if rb.hasSample && rb.cfg.MinimumSampleIntervalMs > 0 {
		if ts.Sub(rb.lastSampleTs).Milliseconds() < rb.cfg.MinimumSampleIntervalMs {
			return false
		}
	}

	s := sample{val: val, ts: ts, seq: seq}
	rb.latest = s
	rb.hasSample = true
	rb.lastSampleTs = ts

	if len(rb.history) > 0 {
		rb.history[rb.writeIdx] = s
		rb.writeIdx = (rb.writeIdx + 1) % len(rb.history)
		if rb.count < len(rb.history) {
			rb.count++
		}
	}
	return true
}

// unconsumedSince returns, in chronological order, every history entry
// whose ts is no later than maxTs and that has not already been marked
// consumed for conditionID, marking each as consumed as a side effect.
func (rb *ringBuffer) unconsumedSince(conditionID string, maxTs clock.TimePoint) []sample {
	if len(rb.history) == 0 {
		return nil
	}
	out := make([]sample, 0, rb.count)
	// Oldest entry is writeIdx (if full) or index 0 (if not yet wrapped).
	start := 0
	if rb.count == len(rb.history) {
		start = rb.writeIdx
	}
	for i := 0; i < rb.count; i++ {
		idx := (start + i) % len(rb.history)
		s := rb.history[idx]
		if s.ts.MonotonicMs > maxTs.MonotonicMs {
			continue
		}
		if s.consumedBy != nil && s.consumedBy[conditionID] {
			continue
		}
		if s.consumedBy == nil {
			rb.history[idx].consumedBy = map[string]bool{}
		}
		rb.history[idx].consumedBy[conditionID] = true
		out = append(out, rb.history[idx])
	}
	return out
}

// windowAgg accumulates the current fixed window for one signal and retains
// the last two completed windows' aggregates.
type windowAgg struct {
	periodMs int64

	windowStart clock.TimePoint
	started     bool
	curMin, curMax, curSum float64
	curCount    int

	lastMin, lastMax, lastAvg float64
	lastClosed                bool

	prevMin, prevMax, prevAvg float64
	prevClosed                bool
}

func newWindowAgg(periodMs int64) *windowAgg {
	return &windowAgg{periodMs: periodMs}
}

// add folds one sample into the window currently accumulating, closing and
// rolling over windows as monotonic time advances past windowStart+period.
func (w *windowAgg) add(v values.Value, ts clock.TimePoint) {
	d, ok := v.AsDouble()
	if !ok {
		return
	}
	if !w.started {
		w.windowStart = ts
		w.started = true
	}
	for ts.MonotonicMs >= w.windowStart.MonotonicMs+w.periodMs {
		w.closeWindow()
		w.windowStart = w.windowStart.Add(msToDuration(w.periodMs))
	}

	if w.curCount == 0 {
		w.curMin, w.curMax = d, d
	} else {
		if d < w.curMin {
			w.curMin = d
		}
		if d > w.curMax {
			w.curMax = d
		}
	}
	w.curSum += d
	w.curCount++
}

func (w *windowAgg) closeWindow() {
	w.prevMin, w.prevMax, w.prevAvg = w.lastMin, w.lastMax, w.lastAvg
	w.prevClosed = w.lastClosed

	if w.curCount > 0 {
		w.lastMin = w.curMin
		w.lastMax = w.curMax
		w.lastAvg = w.curSum / float64(w.curCount)
	}
	// curCount == 0: "a window with no samples returns its last stored
	// value" — leave lastMin/lastMax/lastAvg untouched.
	w.lastClosed = true

	w.curMin, w.curMax, w.curSum, w.curCount = 0, 0, 0, 0
}
