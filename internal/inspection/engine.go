package inspection

import (
	"sync"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
	"github.com/rs/zerolog"
)

// conditionState is the per-condition state machine: Idle -> Triggered ->
// Emitting -> Idle, per spec.md §4.E.
type conditionPhase uint8

const (
	phaseIdle conditionPhase = iota
	phaseTriggered
	phaseEmitting
)

type conditionState struct {
	phase            conditionPhase
	prevResult       bool
	hasPrevResult    bool
	triggerTime      clock.TimePoint
	emitAt           clock.TimePoint
	lastPublish      clock.TimePoint
	hasLastPublish   bool
	lastConsumedSeq  map[uint32]uint64
}

type bufKey struct {
	signalID       uint32
	fetchRequestID uint32
}

// Snapshot is a CollectedDataFrame: one emitted bundle of samples for one
// triggered condition.
type Snapshot struct {
	CampaignSyncID string
	TriggerTime    clock.TimePoint
	Samples        map[uint32][]SignalSample
}

// SignalSample is one timestamped value within a Snapshot.
type SignalSample struct {
	Value     values.Value
	Timestamp clock.TimePoint
}

// Engine is the inspection engine: ring buffers, window aggregates,
// condition evaluation, and snapshot emission. Safe for concurrent
// addNewSignal calls from an intake goroutine concurrent with
// evaluateConditions/collectNextDataToSend from the owning worker — a
// single coarse mutex serializes all of them, since each transition is
// fast in-memory work and a finer-grained lock would not pay for itself.
type Engine struct {
	mu  sync.Mutex
	log zerolog.Logger

	functions *evaluator.FunctionRegistry
	handles   evaluator.HandleStore

	matrix  Matrix
	buffers map[bufKey]*ringBuffer
	windows map[uint32]*windowAgg
	states  map[string]*conditionState

	seq uint64

	// pendingWaitMs is not read or written by the engine;
	// CollectNextDataToSend returns the wait hint to its caller directly.
	pendingWaitMs int64
}

// New constructs an Engine with no active matrix.
func New(log zerolog.Logger, functions *evaluator.FunctionRegistry, handles evaluator.HandleStore) *Engine {
	return &Engine{
		log:       log.With().Str("component", "inspection").Logger(),
		functions: functions,
		handles:   handles,
		buffers:   make(map[bufKey]*ringBuffer),
		windows:   make(map[uint32]*windowAgg),
		states:    make(map[string]*conditionState),
	}
}

// OnInspectionMatrixChange replaces the active matrix. Per spec.md §4.E this
// flushes every signal history buffer unconditionally, even for signals
// present in both the old and new matrix — the behavior is preserved
// because downstream tests assert invariant 4 against it.
func (e *Engine) OnInspectionMatrixChange(matrix Matrix, now clock.TimePoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.matrix = matrix
	e.buffers = make(map[bufKey]*ringBuffer)
	e.windows = make(map[uint32]*windowAgg)

	for signalID, period := range matrix.WindowedSignals {
		e.windows[signalID] = newWindowAgg(period)
	}

	newStates := make(map[string]*conditionState, len(matrix.Conditions))
	for _, c := range matrix.Conditions {
		for _, sc := range c.Signals {
			key := bufKey{sc.SignalID, sc.FetchRequestID}
			if _, ok := e.buffers[key]; !ok {
				e.buffers[key] = newRingBuffer(sc)
			}
		}
		newStates[c.CampaignSyncID] = &conditionState{lastConsumedSeq: make(map[uint32]uint64)}
	}
	e.states = newStates

	e.log.Debug().Int("conditions", len(matrix.Conditions)).Msg("inspection matrix replaced")
}

// AddNewSignal records a new reading for signalID under fetchRequestID.
// Ring buffers not referenced by the active matrix silently discard the
// sample — there is nothing downstream to buffer it for.
func (e *Engine) AddNewSignal(signalID, fetchRequestID uint32, ts clock.TimePoint, val values.Value) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := bufKey{signalID, fetchRequestID}
	rb, ok := e.buffers[key]
	if !ok {
		return
	}
	e.seq++
	if !rb.push(val, ts, e.seq) {
		return
	}
	if w, ok := e.windows[signalID]; ok {
		w.add(val, ts)
	}
}

// signalView adapts one condition's engine-wide view into the narrower
// evaluator.SignalSource interface.
type signalView struct {
	e    *Engine
	cond *conditionState
}

func (v signalView) LatestSample(signalID uint32) (values.Value, clock.TimePoint, bool) {
	rb, ok := v.e.buffers[bufKey{signalID, 0}]
	if !ok || !rb.hasSample {
		return values.Value{}, clock.TimePoint{}, false
	}
	return rb.latest.val, rb.latest.ts, true
}

func (v signalView) HasUnconsumedSample(signalID uint32) bool {
	rb, ok := v.e.buffers[bufKey{signalID, 0}]
	if !ok || !rb.hasSample {
		return false
	}
	return rb.latest.seq > v.cond.lastConsumedSeq[signalID]
}

func (v signalView) Window(signalID uint32, fn evaluator.WindowFunc) (values.Value, bool) {
	w, ok := v.e.windows[signalID]
	if !ok || !w.lastClosed {
		return values.Value{}, false
	}
	switch fn {
	case evaluator.WindowLastMin:
		return values.FromFloat64(w.lastMin), true
	case evaluator.WindowLastMax:
		return values.FromFloat64(w.lastMax), true
	case evaluator.WindowLastAvg:
		return values.FromFloat64(w.lastAvg), true
	case evaluator.WindowPrevMin:
		if w.prevClosed {
			return values.FromFloat64(w.prevMin), true
		}
		return values.FromFloat64(w.lastMin), true
	case evaluator.WindowPrevMax:
		if w.prevClosed {
			return values.FromFloat64(w.prevMax), true
		}
		return values.FromFloat64(w.lastMax), true
	case evaluator.WindowPrevAvg:
		if w.prevClosed {
			return values.FromFloat64(w.prevAvg), true
		}
		return values.FromFloat64(w.lastAvg), true
	default:
		return values.Value{}, false
	}
}

// EvaluateConditions evaluates every condition in the active matrix against
// the current buffer state, advancing each condition's state machine.
// Returns whether any condition is fireable after this call, either newly
// triggered or already triggered and not yet collected, so two calls with
// no signal added in between return the same result.
func (e *Engine) EvaluateConditions(now clock.TimePoint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	anyFireable := false
	for _, c := range e.matrix.Conditions {
		st := e.states[c.CampaignSyncID]
		if st == nil {
			continue
		}
		if st.phase != phaseIdle {
			anyFireable = true
			continue // Triggered/Emitting: absorbed until collected
		}

		ctx := evaluator.Context{
			Signals:        signalView{e: e, cond: st},
			Functions:      e.functions,
			Handles:        e.handles,
			Now:            now,
			AlwaysEvaluate: c.AlwaysEvaluate,
		}
		boolVal, success, skip := evaluator.Evaluate(c.Condition, ctx)
		if skip {
			continue
		}

		effective := success && boolVal
		risingEdgeOK := !c.TriggerOnlyOnRisingEdge || (st.hasPrevResult && !st.prevResult)
		publishOK := !st.hasLastPublish || now.MonotonicMs >= st.lastPublish.MonotonicMs+c.MinimumPublishIntervalMs

		if effective && risingEdgeOK && publishOK {
			st.phase = phaseTriggered
			st.triggerTime = now
			st.emitAt = now.Add(msToDuration(c.AfterDurationMs))
			anyFireable = true
		}

		st.prevResult = effective
		st.hasPrevResult = true

		for _, sc := range c.Signals {
			if rb, ok := e.buffers[bufKey{sc.SignalID, sc.FetchRequestID}]; ok && rb.hasSample {
				st.lastConsumedSeq[sc.SignalID] = rb.latest.seq
			}
		}
	}

	// Promote any Triggered condition whose afterDuration has elapsed.
	for _, c := range e.matrix.Conditions {
		st := e.states[c.CampaignSyncID]
		if st != nil && st.phase == phaseTriggered && now.MonotonicMs >= st.emitAt.MonotonicMs {
			st.phase = phaseEmitting
		}
	}

	return anyFireable
}

// CollectNextDataToSend returns the next ready snapshot, if any, and the
// minimum milliseconds to wait before a future afterDuration expiry — for
// the caller's scheduling loop.
func (e *Engine) CollectNextDataToSend(now clock.TimePoint) (*Snapshot, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var waitMs int64 = -1
	for _, c := range e.matrix.Conditions {
		st := e.states[c.CampaignSyncID]
		if st == nil || st.phase != phaseEmitting {
			if st != nil && st.phase == phaseTriggered {
				remaining := st.emitAt.MonotonicMs - now.MonotonicMs
				if remaining < 0 {
					remaining = 0
				}
				if waitMs < 0 || remaining < waitMs {
					waitMs = remaining
				}
			}
			continue
		}

		snap := &Snapshot{
			CampaignSyncID: c.CampaignSyncID,
			TriggerTime:    st.triggerTime,
			Samples:        make(map[uint32][]SignalSample),
		}
		maxTs := st.triggerTime.Add(msToDuration(c.AfterDurationMs))
		for _, sc := range c.Signals {
			rb, ok := e.buffers[bufKey{sc.SignalID, sc.FetchRequestID}]
			if !ok {
				continue
			}
			raw := rb.unconsumedSince(c.CampaignSyncID, maxTs)
			if len(raw) == 0 {
				continue
			}
			out := make([]SignalSample, len(raw))
			for i, s := range raw {
				out[i] = SignalSample{Value: s.val, Timestamp: s.ts}
			}
			snap.Samples[sc.SignalID] = out
		}

		st.phase = phaseIdle
		st.lastPublish = st.triggerTime
		st.hasLastPublish = true

		return snap, waitMs
	}

	return nil, waitMs
}
