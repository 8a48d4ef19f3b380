package campaign

import (
	"testing"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/persistence"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/rawbuffer"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
	"github.com/rs/zerolog"
)

func ts(ms int64) clock.TimePoint { return clock.TimePoint{MonotonicMs: ms, SystemMs: ms} }

type fakeDM struct {
	id      string
	signals map[uint32]values.Type
}

func (d fakeDM) SyncID() string { return d.id }
func (d fakeDM) SignalType(id uint32) (values.Type, bool) {
	t, ok := d.signals[id]
	return t, ok
}
func (d fakeDM) HasDecodableSignal() bool { return len(d.signals) > 0 }

// testHarness wires fake parsers backed by in-memory registries, standing in
// for the real (out-of-scope) wire-format decoders.
type testHarness struct {
	dmRegistry      map[string]DecoderManifest
	schemeRegistry  map[string][]CollectionScheme
}

func newTestHarness() *testHarness {
	return &testHarness{
		dmRegistry:     make(map[string]DecoderManifest),
		schemeRegistry: make(map[string][]CollectionScheme),
	}
}

func (h *testHarness) parseDM(raw []byte) (DecoderManifest, error) {
	if dm, ok := h.dmRegistry[string(raw)]; ok {
		return dm, nil
	}
	return fakeDM{}, nil
}

func (h *testHarness) parseSchemes(raw []byte) ([]CollectionScheme, error) {
	return h.schemeRegistry[string(raw)], nil
}

func newTestManager(t *testing.T, h *testHarness) (*Manager, *recordingListener) {
	t.Helper()
	m, l, _ := newTestManagerWithRawBuffer(t, h, 0)
	return m, l
}

func newTestManagerWithRawBuffer(t *testing.T, h *testHarness, maxBytesPerSignal int64) (*Manager, *recordingListener, *rawbuffer.Manager) {
	t.Helper()
	store, err := persistence.New(t.TempDir())
	if err != nil {
		t.Fatalf("persistence.New: %v", err)
	}
	b := NewBroadcaster()
	l := &recordingListener{}
	b.RegisterDecoderDictionaryListener(l)
	b.RegisterInspectionMatrixListener(l)
	b.RegisterFetchMatrixListener(l)
	b.RegisterActiveSchemeListListener(l)
	rawBuf := rawbuffer.New(0)
	m := New(zerolog.Nop(), store, b, rawBuf, maxBytesPerSignal, h.parseDM, h.parseSchemes)
	return m, l, rawBuf
}

func simpleCondition() *evaluator.Tree {
	tree := evaluator.NewTree()
	tree.SetRoot(tree.AddBool(true))
	return tree
}

func TestInvalidDecoderManifestIsDiscarded(t *testing.T) {
	h := newTestHarness()
	m, _ := newTestManager(t, h)

	h.dmRegistry["dm-good"] = fakeDM{id: "dm-good", signals: map[uint32]values.Type{1: values.TypeFloat64}}
	m.OnDecoderManifestUpdate([]byte("dm-good"))
	m.Reconcile(ts(0))
	if m.currentDM == nil || m.currentDM.SyncID() != "dm-good" {
		t.Fatalf("expected dm-good to be adopted, got %v", m.currentDM)
	}

	m.OnDecoderManifestUpdate([]byte("does-not-exist"))
	m.Reconcile(ts(1))
	if m.currentDM.SyncID() != "dm-good" {
		t.Errorf("invalid manifest should leave the previous one active, got %v", m.currentDM.SyncID())
	}
}

func TestSchemeRejectedOnDecoderManifestSyncIDMismatch(t *testing.T) {
	h := newTestHarness()
	m, _ := newTestManager(t, h)
	h.dmRegistry["dm-1"] = fakeDM{id: "dm-1", signals: map[uint32]values.Type{1: values.TypeFloat64}}
	m.OnDecoderManifestUpdate([]byte("dm-1"))
	m.Reconcile(ts(0))

	h.schemeRegistry["schemes-1"] = []CollectionScheme{
		{CampaignSyncID: "c1", DecoderManifestSyncID: "dm-wrong", StartTimeMs: 0, ExpiryTimeMs: 1000, Condition: simpleCondition()},
	}
	m.OnCollectionSchemeUpdate([]byte("schemes-1"))
	m.Reconcile(ts(0))

	if _, ok := m.schemes["c1"]; ok {
		t.Error("scheme referencing the wrong decoder manifest SyncID should be rejected")
	}
}

func TestSchemeRejectedOnExpiry(t *testing.T) {
	h := newTestHarness()
	m, _ := newTestManager(t, h)
	h.dmRegistry["dm-1"] = fakeDM{id: "dm-1", signals: map[uint32]values.Type{1: values.TypeFloat64}}
	m.OnDecoderManifestUpdate([]byte("dm-1"))
	m.Reconcile(ts(0))

	h.schemeRegistry["schemes-1"] = []CollectionScheme{
		{CampaignSyncID: "expired", DecoderManifestSyncID: "dm-1", StartTimeMs: 0, ExpiryTimeMs: 100, Condition: simpleCondition()},
	}
	m.OnCollectionSchemeUpdate([]byte("schemes-1"))
	m.Reconcile(ts(500))

	if _, ok := m.schemes["expired"]; ok {
		t.Error("already-expired scheme should be rejected on arrival")
	}
}

func TestEnabledIdlePartitionAndTimelineTransition(t *testing.T) {
	h := newTestHarness()
	m, l := newTestManager(t, h)
	h.dmRegistry["dm-1"] = fakeDM{id: "dm-1", signals: map[uint32]values.Type{1: values.TypeFloat64}}
	m.OnDecoderManifestUpdate([]byte("dm-1"))
	m.Reconcile(ts(0))

	h.schemeRegistry["schemes-1"] = []CollectionScheme{
		{
			CampaignSyncID: "future", DecoderManifestSyncID: "dm-1",
			StartTimeMs: 1000, ExpiryTimeMs: 2000, Condition: simpleCondition(),
			Signals: []SignalCollectionConfig{{SignalID: 1}},
		},
	}
	m.OnCollectionSchemeUpdate([]byte("schemes-1"))
	m.Reconcile(ts(0))

	if m.enabled["future"] {
		t.Fatal("scheme with a future start time should begin idle")
	}
	if len(l.activeSchemes) == 0 || len(l.activeSchemes[len(l.activeSchemes)-1]) != 0 {
		t.Errorf("expected no active schemes yet, got %+v", l.activeSchemes)
	}

	m.Reconcile(ts(1500))
	if !m.enabled["future"] {
		t.Fatal("scheme should become enabled once now >= startTime")
	}
	last := l.activeSchemes[len(l.activeSchemes)-1]
	if len(last) != 1 || last[0] != "future" {
		t.Errorf("active schemes = %v, want [future]", last)
	}

	m.Reconcile(ts(2500))
	if _, present := m.schemes["future"]; present {
		t.Error("expired scheme should be dropped from the working set")
	}
}

func TestRecomputeConfiguresRawBufferPerEnabledSignal(t *testing.T) {
	h := newTestHarness()
	m, _, rawBuf := newTestManagerWithRawBuffer(t, h, 4096)
	h.dmRegistry["dm-1"] = fakeDM{id: "dm-1", signals: map[uint32]values.Type{1: values.TypeFloat64}}
	m.OnDecoderManifestUpdate([]byte("dm-1"))
	m.Reconcile(ts(0))

	h.schemeRegistry["schemes-1"] = []CollectionScheme{
		{
			CampaignSyncID: "c1", DecoderManifestSyncID: "dm-1",
			StartTimeMs: 0, ExpiryTimeMs: 10_000, Condition: simpleCondition(),
			Signals: []SignalCollectionConfig{{SignalID: 1, SampleBufferSize: 2}},
		},
	}
	m.OnCollectionSchemeUpdate([]byte("schemes-1"))
	m.Reconcile(ts(0))

	for i := 0; i < 3; i++ {
		if _, err := rawBuf.Push(1, []byte("x"), ts(int64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if got := rawBuf.SampleCount(1); got != 2 {
		t.Errorf("SampleCount(1) = %d, want 2 (MaxSamples from the enabled scheme's SampleBufferSize)", got)
	}
}

func TestLoadPersistedReprocessesAsFreshlyArrived(t *testing.T) {
	dir := t.TempDir()
	store, err := persistence.New(dir)
	if err != nil {
		t.Fatalf("persistence.New: %v", err)
	}
	if err := store.SaveDecoderManifest([]byte("dm-1")); err != nil {
		t.Fatalf("SaveDecoderManifest: %v", err)
	}
	if err := store.SaveCollectionSchemes([]byte("schemes-1")); err != nil {
		t.Fatalf("SaveCollectionSchemes: %v", err)
	}

	h := newTestHarness()
	h.dmRegistry["dm-1"] = fakeDM{id: "dm-1", signals: map[uint32]values.Type{1: values.TypeFloat64}}
	h.schemeRegistry["schemes-1"] = []CollectionScheme{
		{CampaignSyncID: "restored", DecoderManifestSyncID: "dm-1", StartTimeMs: 0, ExpiryTimeMs: 10_000, Condition: simpleCondition()},
	}

	b := NewBroadcaster()
	m := New(zerolog.Nop(), store, b, nil, 0, h.parseDM, h.parseSchemes)
	m.LoadPersisted(ts(0))

	if m.currentDM == nil || m.currentDM.SyncID() != "dm-1" {
		t.Fatalf("expected persisted decoder manifest to be restored, got %v", m.currentDM)
	}
	if !m.enabled["restored"] {
		t.Error("expected persisted scheme to be restored and enabled")
	}
}
