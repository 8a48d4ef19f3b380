// Package testdecoder provides plain-struct Decoder Manifest and Collection
// Scheme List fixtures for tests that exercise internal/campaign without
// constructing the real wire-format parsers, which are out of scope for
// this core per spec.md §1.
package testdecoder

import (
	"fmt"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/campaign"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

// Manifest is a campaign.DecoderManifest backed by a plain map, built with
// ManifestBuilder rather than decoded from bytes.
type Manifest struct {
	syncID  string
	signals map[uint32]values.Type
}

func (m *Manifest) SyncID() string { return m.syncID }

func (m *Manifest) SignalType(signalID uint32) (values.Type, bool) {
	t, ok := m.signals[signalID]
	return t, ok
}

func (m *Manifest) HasDecodableSignal() bool { return len(m.signals) > 0 }

// ManifestBuilder assembles a Manifest fixture one signal at a time.
type ManifestBuilder struct {
	syncID  string
	signals map[uint32]values.Type
}

// NewManifestBuilder starts a builder for a manifest with the given SyncID.
func NewManifestBuilder(syncID string) *ManifestBuilder {
	return &ManifestBuilder{syncID: syncID, signals: make(map[uint32]values.Type)}
}

// WithSignal registers signalID's decoded type and returns the builder for
// chaining.
func (b *ManifestBuilder) WithSignal(signalID uint32, t values.Type) *ManifestBuilder {
	b.signals[signalID] = t
	return b
}

// Build returns the finished fixture.
func (b *ManifestBuilder) Build() *Manifest {
	return &Manifest{syncID: b.syncID, signals: b.signals}
}

// SchemeBuilder assembles a campaign.CollectionScheme fixture.
type SchemeBuilder struct {
	scheme campaign.CollectionScheme
}

// NewScheme starts a builder for a scheme tied to decoderManifestSyncID,
// active from startMs until (not including) expiryMs.
func NewScheme(campaignSyncID, decoderManifestSyncID string, startMs, expiryMs int64) *SchemeBuilder {
	return &SchemeBuilder{scheme: campaign.CollectionScheme{
		CampaignSyncID:        campaignSyncID,
		DecoderManifestSyncID: decoderManifestSyncID,
		StartTimeMs:           startMs,
		ExpiryTimeMs:          expiryMs,
	}}
}

// WithSignal appends a whole-signal collection config.
func (b *SchemeBuilder) WithSignal(signalID uint32, sampleBufferSize int, minIntervalMs int64) *SchemeBuilder {
	b.scheme.Signals = append(b.scheme.Signals, campaign.SignalCollectionConfig{
		SignalID:                signalID,
		SampleBufferSize:        sampleBufferSize,
		MinimumSampleIntervalMs: minIntervalMs,
	})
	return b
}

// WithWindowedSignal appends a signal that also requests a fixed collection
// window of periodMs.
func (b *SchemeBuilder) WithWindowedSignal(signalID uint32, sampleBufferSize int, periodMs int64) *SchemeBuilder {
	b.scheme.Signals = append(b.scheme.Signals, campaign.SignalCollectionConfig{
		SignalID:            signalID,
		SampleBufferSize:    sampleBufferSize,
		FixedWindowPeriodMs: periodMs,
	})
	return b
}

// WithCondition attaches a trigger condition tree.
func (b *SchemeBuilder) WithCondition(tree *evaluator.Tree) *SchemeBuilder {
	b.scheme.Condition = tree
	return b
}

// Build returns the finished scheme.
func (b *SchemeBuilder) Build() campaign.CollectionScheme { return b.scheme }

// SchemeListParser adapts a fixed slice of schemes into a
// campaign.CollectionSchemeParser for tests that don't need real wire
// decoding — the raw bytes serve only as a lookup key; callers associate a
// key with a scheme list via Register below.
type SchemeListParser struct {
	byKey map[string][]campaign.CollectionScheme
}

// NewSchemeListParser returns a parser with no registered fixtures.
func NewSchemeListParser() *SchemeListParser {
	return &SchemeListParser{byKey: make(map[string][]campaign.CollectionScheme)}
}

// Register associates a raw-bytes key with a fixed scheme list; pass the
// same key string (as []byte) to Manager.OnCollectionSchemeUpdate.
func (p *SchemeListParser) Register(key string, schemes []campaign.CollectionScheme) {
	p.byKey[key] = schemes
}

// Parse implements campaign.CollectionSchemeParser.
func (p *SchemeListParser) Parse(raw []byte) ([]campaign.CollectionScheme, error) {
	schemes, ok := p.byKey[string(raw)]
	if !ok {
		return nil, fmt.Errorf("testdecoder: no scheme list registered for key %q", string(raw))
	}
	return schemes, nil
}

// ManifestParser adapts a fixed map of manifests into a
// campaign.DecoderManifestParser, keyed the same way as SchemeListParser.
type ManifestParser struct {
	byKey map[string]*Manifest
}

// NewManifestParser returns a parser with no registered fixtures.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{byKey: make(map[string]*Manifest)}
}

// Register associates a raw-bytes key with a fixed manifest.
func (p *ManifestParser) Register(key string, m *Manifest) {
	p.byKey[key] = m
}

// Parse implements campaign.DecoderManifestParser.
func (p *ManifestParser) Parse(raw []byte) (campaign.DecoderManifest, error) {
	m, ok := p.byKey[string(raw)]
	if !ok {
		return nil, fmt.Errorf("testdecoder: no manifest registered for key %q", string(raw))
	}
	return m, nil
}
