package lks

import (
	"testing"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/persistence"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
	"github.com/rs/zerolog"
)

func ts(ms int64) clock.TimePoint { return clock.TimePoint{MonotonicMs: ms, SystemMs: ms} }

type fakeSink struct {
	snapshots []Snapshot
}

func (f *fakeSink) Emit(s Snapshot) { f.snapshots = append(f.snapshots, s) }

func newTestInspector(t *testing.T) (*Inspector, *fakeSink) {
	t.Helper()
	store, err := persistence.New(t.TempDir())
	if err != nil {
		t.Fatalf("persistence.New: %v", err)
	}
	sink := &fakeSink{}
	return New(zerolog.Nop(), store, sink), sink
}

// TestS3PeriodicActivateSnapshotPeriodicAutoDeactivate implements spec
// scenario S3.
func TestS3PeriodicActivateSnapshotPeriodicAutoDeactivate(t *testing.T) {
	insp, sink := newTestInspector(t)
	insp.OnStateTemplatesChanged([]StateTemplate{{
		ID:       "lks1",
		Signals:  []uint32{1},
		Strategy: UpdateStrategy{Kind: StrategyPeriodic, PeriodMs: 800},
	}}, ts(0))

	resp := insp.OnNewCommand(Command{
		ID: "cmd-1", StateTemplateID: "lks1", Kind: CommandActivate,
		HasDeactivateAfter: true, DeactivateAfterSeconds: 2, ReceivedTime: ts(0),
	}, ts(0))
	if resp.Status != StatusSucceeded || resp.Reason != ReasonUnspecified {
		t.Fatalf("activate response = %+v", resp)
	}

	insp.AddNewSignal(1, ts(0), values.FromFloat64(10))

	insp.Tick(ts(0))
	if len(sink.snapshots) != 1 {
		t.Fatalf("expected on-activate snapshot at t=0, got %d", len(sink.snapshots))
	}

	insp.Tick(ts(800))
	if len(sink.snapshots) != 2 {
		t.Fatalf("expected periodic emission at t=800, got %d", len(sink.snapshots))
	}

	insp.Tick(ts(1600))
	if len(sink.snapshots) != 3 {
		t.Fatalf("expected periodic emission at t=1600, got %d", len(sink.snapshots))
	}

	insp.Tick(ts(2001))
	if len(sink.snapshots) != 3 {
		t.Fatalf("expected auto-deactivation at t=2001 with no new emission, got %d", len(sink.snapshots))
	}

	insp.AddNewSignal(1, ts(2100), values.FromFloat64(99))
	insp.Tick(ts(2900))
	if len(sink.snapshots) != 3 {
		t.Fatalf("expected no further emission after auto-deactivation, got %d", len(sink.snapshots))
	}
}

func TestActivateOnAlreadyActivatedDoesNotResendSnapshot(t *testing.T) {
	insp, sink := newTestInspector(t)
	insp.OnStateTemplatesChanged([]StateTemplate{{
		ID: "t1", Signals: []uint32{1}, Strategy: UpdateStrategy{Kind: StrategyPeriodic, PeriodMs: 1000},
	}}, ts(0))

	insp.OnNewCommand(Command{ID: "c1", StateTemplateID: "t1", Kind: CommandActivate}, ts(0))
	insp.Tick(ts(0))
	if len(sink.snapshots) != 1 {
		t.Fatalf("expected 1 snapshot after first activation tick, got %d", len(sink.snapshots))
	}

	resp := insp.OnNewCommand(Command{ID: "c2", StateTemplateID: "t1", Kind: CommandActivate}, ts(100))
	if resp.Reason != ReasonAlreadyActivated {
		t.Errorf("reason = %q, want %q", resp.Reason, ReasonAlreadyActivated)
	}
	insp.Tick(ts(100))
	if len(sink.snapshots) != 1 {
		t.Fatalf("re-activation must not resend a snapshot, got %d snapshots", len(sink.snapshots))
	}
}

func TestDeactivateOnAlreadyDeactivated(t *testing.T) {
	insp, _ := newTestInspector(t)
	insp.OnStateTemplatesChanged([]StateTemplate{{ID: "t1", Signals: []uint32{1}}}, ts(0))

	resp := insp.OnNewCommand(Command{ID: "c1", StateTemplateID: "t1", Kind: CommandDeactivate}, ts(0))
	if resp.Status != StatusSucceeded || resp.Reason != ReasonAlreadyDeactivated {
		t.Errorf("response = %+v", resp)
	}
}

func TestCommandUnknownTemplateIsExecutionFailed(t *testing.T) {
	insp, _ := newTestInspector(t)
	resp := insp.OnNewCommand(Command{ID: "c1", StateTemplateID: "missing", Kind: CommandActivate}, ts(0))
	if resp.Status != StatusExecutionFailed || resp.Reason != ReasonOutOfSync {
		t.Errorf("response = %+v", resp)
	}
}

func TestFetchSnapshotEmitsRegardlessOfActivation(t *testing.T) {
	insp, sink := newTestInspector(t)
	insp.OnStateTemplatesChanged([]StateTemplate{{ID: "t1", Signals: []uint32{1}}}, ts(0))
	insp.AddNewSignal(1, ts(0), values.FromFloat64(7))

	resp := insp.OnNewCommand(Command{ID: "c1", StateTemplateID: "t1", Kind: CommandFetchSnapshot}, ts(50))
	if resp.Status != StatusSucceeded {
		t.Fatalf("response = %+v", resp)
	}
	if len(sink.snapshots) != 1 {
		t.Fatalf("expected one snapshot from FetchSnapshot, got %d", len(sink.snapshots))
	}
	got, ok := sink.snapshots[0].Samples[1].Value.AsDouble()
	if !ok || got != 7 {
		t.Errorf("sample = %v, ok=%v, want 7", got, ok)
	}
}

func TestOnChangeEmitsOnlyWhenValueDiffers(t *testing.T) {
	insp, sink := newTestInspector(t)
	insp.OnStateTemplatesChanged([]StateTemplate{{
		ID: "t1", Signals: []uint32{1}, Strategy: UpdateStrategy{Kind: StrategyOnChange},
	}}, ts(0))
	insp.OnNewCommand(Command{ID: "c1", StateTemplateID: "t1", Kind: CommandActivate}, ts(0))

	insp.AddNewSignal(1, ts(10), values.FromFloat64(1))
	if len(sink.snapshots) != 1 {
		t.Fatalf("first observed value after activation should always emit, got %d", len(sink.snapshots))
	}

	insp.AddNewSignal(1, ts(20), values.FromFloat64(1))
	if len(sink.snapshots) != 1 {
		t.Fatalf("unchanged value must not emit, got %d", len(sink.snapshots))
	}

	insp.AddNewSignal(1, ts(30), values.FromFloat64(2))
	if len(sink.snapshots) != 2 {
		t.Fatalf("changed value must emit, got %d", len(sink.snapshots))
	}
}

func TestLoadPersistedDropsExpiredActivation(t *testing.T) {
	dir := t.TempDir()
	store, err := persistence.New(dir)
	if err != nil {
		t.Fatalf("persistence.New: %v", err)
	}
	if err := store.SaveActivations(map[string]persistence.ActivationRecord{
		"t1": {StateTemplateID: "t1", Activated: true, DeactivateAfterSystemTimeMs: 100},
		"t2": {StateTemplateID: "t2", Activated: true, DeactivateAfterSystemTimeMs: 10_000},
	}); err != nil {
		t.Fatalf("SaveActivations: %v", err)
	}

	insp := New(zerolog.Nop(), store, &fakeSink{})
	insp.OnStateTemplatesChanged([]StateTemplate{{ID: "t1"}, {ID: "t2"}}, ts(5000))
	insp.LoadPersisted(ts(5000))

	if _, ok := insp.activations["t1"]; ok {
		t.Error("t1's expired activation should have been dropped")
	}
	rec, ok := insp.activations["t2"]
	if !ok || !rec.activated {
		t.Errorf("t2 should still be activated, got %+v", rec)
	}
}

func TestStateTemplatesChangedDropsActivationForRemovedTemplate(t *testing.T) {
	insp, _ := newTestInspector(t)
	insp.OnStateTemplatesChanged([]StateTemplate{{ID: "t1"}}, ts(0))
	insp.OnNewCommand(Command{ID: "c1", StateTemplateID: "t1", Kind: CommandActivate}, ts(0))

	insp.OnStateTemplatesChanged([]StateTemplate{{ID: "t2"}}, ts(1))
	if _, ok := insp.activations["t1"]; ok {
		t.Error("activation for a removed template should be dropped")
	}
}
