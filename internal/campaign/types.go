package campaign

import (
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

// DecoderManifest is the opaque cloud document the campaign lifecycle
// manager reconciles against, consumed entirely through this interface per
// spec.md §3/§4.G — the concrete protocol-decode bytes are out of scope.
type DecoderManifest interface {
	SyncID() string
	// SignalType returns the decoded type of signalID and whether the
	// manifest knows that signal at all.
	SignalType(signalID uint32) (values.Type, bool)
	// HasDecodableSignal reports whether the manifest decodes at least one
	// signal — an empty manifest is rejected at ingestion.
	HasDecodableSignal() bool
}

// SignalCollectionConfig is one signal's collection parameters within a
// CollectionScheme, mirroring inspection.SignalConfig's shape one layer up
// (before partial-signal IDs are resolved against the Decoder Dictionary).
type SignalCollectionConfig struct {
	SignalID                uint32
	SignalPath              string // non-empty for a partial signal within a complex root signal
	SampleBufferSize        int
	MinimumSampleIntervalMs int64
	FixedWindowPeriodMs     int64 // 0 = no window requested
}

// CollectionScheme mirrors spec.md §3's Collection Scheme record.
type CollectionScheme struct {
	CampaignSyncID         string
	DecoderManifestSyncID  string
	StartTimeMs            int64 // system (wall-clock) time, per the cloud-assigned schedule
	ExpiryTimeMs           int64
	AfterDurationMs        int64
	Condition              *evaluator.Tree
	MinimumPublishIntervalMs int64
	TriggerOnlyOnRisingEdge  bool
	Signals                  []SignalCollectionConfig
	RawFrameIDs              []uint32
	Compress                 bool
	Persist                  bool
	Priority                 int
}

// PartialSignalKey identifies a partial-signal entry derived from a complex
// root signal's sub-path.
type PartialSignalKey struct {
	RootSignalID uint32
	SignalPath   string
}

// internalSignalIDBitmask is the reserved high-bit subspace for partial
// signal IDs minted by the Decoder Dictionary, per spec.md §3.
const internalSignalIDBitmask = uint32(1) << 31

// DecoderDictionary is the derived artifact: every signal referenced by an
// active scheme, resolved to its type, plus the partial-signal entries
// minted for complex-signal sub-paths.
type DecoderDictionary struct {
	Signals        map[uint32]values.Type
	PartialSignals map[PartialSignalKey]uint32
}
