package sender

import (
	"testing"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/inspection"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/lks"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

func TestFromInspectionSnapshotOrdersItemsBySignalID(t *testing.T) {
	snap := inspection.Snapshot{
		CampaignSyncID: "camp-1",
		TriggerTime:    clock.TimePoint{SystemMs: 500},
		Samples: map[uint32][]inspection.SignalSample{
			3: {{Value: values.FromFloat64(3), Timestamp: clock.TimePoint{SystemMs: 500}}},
			1: {{Value: values.FromFloat64(1), Timestamp: clock.TimePoint{SystemMs: 500}}},
		},
	}

	frame := FromInspectionSnapshot(snap, true, true)
	if len(frame.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(frame.Items))
	}
	if !frame.Compression || !frame.Persist {
		t.Error("expected compression and persist flags to carry through")
	}
	if frame.CampaignSyncID != "camp-1" || frame.TriggerTime != 500 {
		t.Errorf("envelope = %+v", frame.Envelope)
	}
}

func TestFromInspectionSnapshotMintsDistinctEventIDs(t *testing.T) {
	snap := inspection.Snapshot{CampaignSyncID: "camp-1", Samples: map[uint32][]inspection.SignalSample{}}
	a := FromInspectionSnapshot(snap, false, false)
	b := FromInspectionSnapshot(snap, false, false)
	if a.EventID == b.EventID {
		t.Errorf("expected distinct event IDs, got %q twice", a.EventID)
	}
}

func TestFromLKSSnapshotNeverPersistsOrCompresses(t *testing.T) {
	snap := lks.Snapshot{
		StateTemplateID: "tmpl-1",
		Timestamp:       clock.TimePoint{SystemMs: 42},
		Samples: map[uint32]lks.SignalSample{
			1: {Value: values.FromFloat64(9), Timestamp: clock.TimePoint{SystemMs: 42}},
		},
	}
	frame := FromLKSSnapshot(snap)
	if frame.Persist || frame.Compression {
		t.Error("LKS frames should never set persist or compression")
	}
	if len(frame.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(frame.Items))
	}
}
