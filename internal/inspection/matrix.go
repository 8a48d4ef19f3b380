// Package inspection implements the per-signal ring buffers, fixed-window
// aggregation, condition evaluation, and snapshot emission described as the
// inspection engine: the component with the largest share of the system's
// implementation budget.
package inspection

import (
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
)

// SignalConfig is one signal's buffering requirement as derived by the
// campaign lifecycle manager for a single condition.
type SignalConfig struct {
	SignalID                uint32
	FetchRequestID           uint32 // 0 for ordinary (non-partial-signal) fetches
	SampleBufferSize         int    // 0 is legal: condition-only, no emission storage
	MinimumSampleIntervalMs  int64  // 0 = no subsampling filter
}

// ConditionConfig is one ConditionWithCollectedData: an AST plus the signals
// it collects and its publish-throttling parameters.
type ConditionConfig struct {
	CampaignSyncID          string
	Condition               *evaluator.Tree
	Signals                 []SignalConfig
	MinimumPublishIntervalMs int64
	AfterDurationMs          int64
	TriggerOnlyOnRisingEdge  bool
	AlwaysEvaluate           bool
	Priority                 int
}

// Matrix is the flattened, evaluator-ready form of the active collection
// schemes — the Inspection Matrix of spec.md §3.
type Matrix struct {
	Conditions []ConditionConfig
	// WindowedSignals maps a signal ID to its fixed-window period, for
	// signals referenced by any condition's WINDOW_FUNCTION nodes. Window
	// state is per-signal, not per-condition, per spec.md §4.D.
	WindowedSignals map[uint32]int64
}
