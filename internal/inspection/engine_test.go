package inspection

import (
	"testing"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
	"github.com/rs/zerolog"
)

func ts(ms int64) clock.TimePoint { return clock.TimePoint{MonotonicMs: ms, SystemMs: ms} }

func newTestEngine() *Engine {
	return New(zerolog.Nop(), evaluator.NewFunctionRegistry(), nil)
}

// buildANDCondition builds a tree for `leftSignal > leftLit AND rightSignal > rightLit`.
func buildANDCondition(s1, s2 uint32, lit1, lit2 float64) *evaluator.Tree {
	tree := evaluator.NewTree()
	a := tree.AddBinary(evaluator.NodeOpBigger, tree.AddSignal(s1), tree.AddFloat(lit1))
	b := tree.AddBinary(evaluator.NodeOpBigger, tree.AddSignal(s2), tree.AddFloat(lit2))
	tree.SetRoot(tree.AddBinary(evaluator.NodeOpAnd, a, b))
	return tree
}

// TestS1TwoSignalANDBufferedCollection implements spec scenario S1.
func TestS1TwoSignalANDBufferedCollection(t *testing.T) {
	e := newTestEngine()
	cond := ConditionConfig{
		CampaignSyncID: "campaign-1",
		Condition:      buildANDCondition(1, 2, -100, -500),
		Signals: []SignalConfig{
			{SignalID: 1},
			{SignalID: 2},
			{SignalID: 3, SampleBufferSize: 50},
		},
		MinimumPublishIntervalMs: 0,
		AfterDurationMs:          0,
	}
	e.OnInspectionMatrixChange(Matrix{Conditions: []ConditionConfig{cond}}, ts(0))

	e.AddNewSignal(3, 0, ts(100), values.FromFloat64(10))
	e.AddNewSignal(3, 0, ts(100), values.FromFloat64(20))
	e.AddNewSignal(3, 0, ts(100), values.FromFloat64(30))
	if fired := e.EvaluateConditions(ts(100)); fired {
		t.Fatal("expected no trigger at t=100: s1,s2 absent")
	}

	e.AddNewSignal(1, 0, ts(1100), values.FromFloat64(-90))
	e.AddNewSignal(2, 0, ts(1100), values.FromFloat64(-1000))
	if fired := e.EvaluateConditions(ts(1100)); fired {
		t.Fatal("expected no trigger at t=1100: s2 > -500 is false")
	}

	e.AddNewSignal(2, 0, ts(2100), values.FromFloat64(-480))
	if fired := e.EvaluateConditions(ts(2100)); !fired {
		t.Fatal("expected trigger at t=2100")
	}

	snap, _ := e.CollectNextDataToSend(ts(2100))
	if snap == nil {
		t.Fatal("expected a snapshot to be ready")
	}
	if snap.TriggerTime.MonotonicMs != 2100 {
		t.Errorf("triggerTime = %d, want 2100", snap.TriggerTime.MonotonicMs)
	}
	samples := snap.Samples[3]
	if len(samples) != 3 {
		t.Fatalf("len(samples[3]) = %d, want 3", len(samples))
	}
	want := []float64{10, 20, 30}
	for i, s := range samples {
		got, _ := s.Value.AsDouble()
		if got != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, got, want[i])
		}
	}
}

// TestS2RisingEdgeTrigger implements spec scenario S2.
func TestS2RisingEdgeTrigger(t *testing.T) {
	e := newTestEngine()
	tree := evaluator.NewTree()
	tree.SetRoot(tree.AddBinary(evaluator.NodeOpNotEqual, tree.AddSignal(1), tree.AddSignal(2)))

	cond := ConditionConfig{
		CampaignSyncID:          "campaign-2",
		Condition:               tree,
		Signals:                 []SignalConfig{{SignalID: 1, SampleBufferSize: 4}, {SignalID: 2, SampleBufferSize: 4}},
		TriggerOnlyOnRisingEdge: true,
	}
	e.OnInspectionMatrixChange(Matrix{Conditions: []ConditionConfig{cond}}, ts(0))

	e.AddNewSignal(1, 0, ts(100), values.FromFloat64(1000))
	e.AddNewSignal(2, 0, ts(100), values.FromFloat64(2000))
	if fired := e.EvaluateConditions(ts(100)); fired {
		t.Fatal("initial true is not a rising edge and must not emit")
	}

	e.AddNewSignal(1, 0, ts(1100), values.FromFloat64(0))
	e.AddNewSignal(2, 0, ts(1100), values.FromFloat64(0))
	if fired := e.EvaluateConditions(ts(1100)); fired {
		t.Fatal("expected false (equal values) at t=1100")
	}

	e.AddNewSignal(2, 0, ts(2100), values.FromFloat64(-480))
	if fired := e.EvaluateConditions(ts(2100)); !fired {
		t.Fatal("expected rising-edge trigger at t=2100")
	}
}

// TestInvariantEvaluateConditionsIdempotent checks invariant 1 from spec.md §8.
func TestInvariantEvaluateConditionsIdempotent(t *testing.T) {
	e := newTestEngine()
	tree := evaluator.NewTree()
	tree.SetRoot(tree.AddBinary(evaluator.NodeOpBigger, tree.AddSignal(1), tree.AddFloat(0)))
	cond := ConditionConfig{CampaignSyncID: "idempotent", Condition: tree, Signals: []SignalConfig{{SignalID: 1}}}
	e.OnInspectionMatrixChange(Matrix{Conditions: []ConditionConfig{cond}}, ts(0))
	e.AddNewSignal(1, 0, ts(10), values.FromFloat64(5))

	first := e.EvaluateConditions(ts(10))
	second := e.EvaluateConditions(ts(10))
	if first != second {
		t.Errorf("EvaluateConditions not idempotent: first=%v second=%v", first, second)
	}
}

// TestInvariantFreshHistoryAfterMatrixChange checks invariant 4.
func TestInvariantFreshHistoryAfterMatrixChange(t *testing.T) {
	e := newTestEngine()
	tree := evaluator.NewTree()
	tree.SetRoot(tree.AddSignal(1))
	cond := ConditionConfig{CampaignSyncID: "c", Condition: tree, Signals: []SignalConfig{{SignalID: 1, SampleBufferSize: 10}}}

	e.OnInspectionMatrixChange(Matrix{Conditions: []ConditionConfig{cond}}, ts(0))
	e.AddNewSignal(1, 0, ts(1), values.FromFloat64(1))

	e.OnInspectionMatrixChange(Matrix{Conditions: []ConditionConfig{cond}}, ts(2))
	rb := e.buffers[bufKey{1, 0}]
	if rb.hasSample {
		t.Error("expected a fresh (empty) history buffer immediately after onInspectionMatrixChange")
	}
}

func TestSampleBufferSizeZeroIsLegal(t *testing.T) {
	e := newTestEngine()
	tree := evaluator.NewTree()
	tree.SetRoot(tree.AddBinary(evaluator.NodeOpBigger, tree.AddSignal(1), tree.AddFloat(0)))
	cond := ConditionConfig{CampaignSyncID: "c", Condition: tree, Signals: []SignalConfig{{SignalID: 1, SampleBufferSize: 0}}}
	e.OnInspectionMatrixChange(Matrix{Conditions: []ConditionConfig{cond}}, ts(0))

	e.AddNewSignal(1, 0, ts(1), values.FromFloat64(5))
	if fired := e.EvaluateConditions(ts(1)); !fired {
		t.Error("condition-only signal (sampleBufferSize=0) should still support condition evaluation")
	}
}

func TestSubsamplingFilterDropsTooFrequentSamples(t *testing.T) {
	rb := newRingBuffer(SignalConfig{MinimumSampleIntervalMs: 1000, SampleBufferSize: 4})
	if !rb.push(values.FromFloat64(1), ts(0), 1) {
		t.Fatal("first push should always succeed")
	}
	if rb.push(values.FromFloat64(2), ts(500), 2) {
		t.Error("push within the minimum interval should be dropped")
	}
	if !rb.push(values.FromFloat64(3), ts(1000), 3) {
		t.Error("push at exactly the minimum interval should succeed")
	}
}

func TestWindowFunctionSkipsUntilFirstWindowCloses(t *testing.T) {
	e := newTestEngine()
	tree := evaluator.NewTree()
	tree.SetRoot(tree.AddWindow(1, evaluator.WindowLastAvg))
	cond := ConditionConfig{CampaignSyncID: "w", Condition: tree, Signals: []SignalConfig{{SignalID: 1}}}
	e.OnInspectionMatrixChange(Matrix{
		Conditions:      []ConditionConfig{cond},
		WindowedSignals: map[uint32]int64{1: 1000},
	}, ts(0))

	e.AddNewSignal(1, 0, ts(100), values.FromFloat64(10))
	if fired := e.EvaluateConditions(ts(100)); fired {
		t.Error("window should not be usable before the first window closes")
	}

	e.AddNewSignal(1, 0, ts(1100), values.FromFloat64(20)) // closes first window, opens second
	if fired := e.EvaluateConditions(ts(1100)); !fired {
		t.Error("expected the window aggregate to be usable once the first window closes")
	}
}
