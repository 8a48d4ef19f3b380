package sender

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/inspection"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/lks"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

// eventSeq mints the eventId suffix the core requires to be present and
// stable across every payload split from the same frame. The wire-level
// event identifier format is otherwise unspecified (external serialiser,
// spec.md §1), so a process-local monotonic counter is enough to keep every
// split of one frame addressable.
var eventSeq uint64

func nextEventID(prefix string) string {
	n := atomic.AddUint64(&eventSeq, 1)
	return fmt.Sprintf("%s-%d", prefix, n)
}

// wireSample is the stand-in item encoding used where the spec leaves the
// serialiser external: just enough of a typed value to round-trip through
// JSON for transmission and, later, diagnostics.
type wireSample struct {
	SignalID  uint32  `json:"signalId"`
	Type      uint8   `json:"type"`
	Number    float64 `json:"number,omitempty"`
	Handle    uint32  `json:"handle,omitempty"`
	TimeMs    int64   `json:"timeMs"`
}

func encodeSample(signalID uint32, val values.Value, timeMs int64) Item {
	w := wireSample{SignalID: signalID, Type: uint8(val.Type()), TimeMs: timeMs}
	if val.Type() == values.TypeStringHandle || val.Type() == values.TypeComplexHandle {
		w.Handle = val.Handle()
	} else if n, ok := val.AsDouble(); ok {
		w.Number = n
	}
	b, _ := json.Marshal(w)
	return Item(b)
}

// FromInspectionSnapshot builds a Frame from one triggered condition's
// collected data frame, flattening its per-signal sample lists into a single
// ordered item list, preserving signal order for split-boundary stability.
func FromInspectionSnapshot(snap inspection.Snapshot, compress, persist bool) Frame {
	signalIDs := make([]uint32, 0, len(snap.Samples))
	for id := range snap.Samples {
		signalIDs = append(signalIDs, id)
	}
	sortUint32s(signalIDs)

	var items []Item
	for _, id := range signalIDs {
		for _, s := range snap.Samples[id] {
			items = append(items, encodeSample(id, s.Value, s.Timestamp.SystemMs))
		}
	}

	return Frame{
		Envelope: Envelope{
			CampaignSyncID: snap.CampaignSyncID,
			EventID:        nextEventID(snap.CampaignSyncID),
			TriggerTime:    snap.TriggerTime.SystemMs,
			Compression:    compress,
			Persist:        persist,
		},
		Items: items,
	}
}

// FromLKSSnapshot builds a Frame from one LKS emission. LKS emissions are
// always sent, never persisted on failure — spec.md §4.F treats a missed
// periodic/on-change report as superseded by the next one, not as data to
// retry.
func FromLKSSnapshot(snap lks.Snapshot) Frame {
	signalIDs := make([]uint32, 0, len(snap.Samples))
	for id := range snap.Samples {
		signalIDs = append(signalIDs, id)
	}
	sortUint32s(signalIDs)

	items := make([]Item, 0, len(signalIDs))
	for _, id := range signalIDs {
		s := snap.Samples[id]
		items = append(items, encodeSample(id, s.Value, s.Timestamp.SystemMs))
	}

	return Frame{
		Envelope: Envelope{
			CampaignSyncID: snap.StateTemplateID,
			EventID:        nextEventID(snap.StateTemplateID),
			TriggerTime:    snap.Timestamp.SystemMs,
			Compression:    false,
			Persist:        false,
		},
		Items: items,
	}
}

func sortUint32s(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
