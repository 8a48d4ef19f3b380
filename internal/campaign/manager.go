// Package campaign implements the campaign lifecycle manager: ingestion and
// reconciliation of the cloud's Decoder Manifest and Collection Scheme List,
// derivation of the Decoder Dictionary and Inspection Matrix, and the
// enabled/idle scheme timeline, per spec.md §4.G.
package campaign

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/inspection"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/persistence"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/rawbuffer"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
	"github.com/rs/zerolog"
)

// DecoderManifestParser decodes a raw manifest document into a
// DecoderManifest. Supplied by the driver: the wire format is out of scope
// for this core (spec.md §1).
type DecoderManifestParser func(raw []byte) (DecoderManifest, error)

// CollectionSchemeParser decodes a raw collection scheme list document.
type CollectionSchemeParser func(raw []byte) ([]CollectionScheme, error)

// Manager is the campaign lifecycle manager. Callback-thread inputs
// (OnDecoderManifestUpdate, OnCollectionSchemeUpdate) only set a pending
// flag under pendingMu and signal wake; all reconciliation work happens on
// Reconcile, called from the single owning worker goroutine.
type Manager struct {
	log         zerolog.Logger
	store       *persistence.Store
	broadcaster *Broadcaster

	// rawBuf receives a Configure call per enabled signal each time the
	// Decoder Dictionary is recomputed, per spec.md §4.G step 5 ("update the
	// raw-data buffer manager config accordingly"). May be nil in tests that
	// don't care about buffer quotas.
	rawBuf                     *rawbuffer.Manager
	rawBufferMaxBytesPerSignal int64

	parseDM      DecoderManifestParser
	parseSchemes CollectionSchemeParser

	pendingMu         sync.Mutex
	pendingDMRaw      []byte
	hasPendingDM      bool
	pendingSchemesRaw []byte
	hasPendingSchemes bool
	wake              chan struct{}

	// Owned exclusively by the calling goroutine (the Worker's loop, or a
	// test calling Reconcile directly) — no lock needed for the fields below.
	currentDM DecoderManifest
	schemes   map[string]CollectionScheme
	enabled   map[string]bool
	timeline  *timelineHeap

	// activeCount mirrors len(enabled==true) for lock-free reads from the
	// metrics scrape goroutine.
	activeCount atomic.Int64
}

// New constructs a Manager with no working state. Call LoadPersisted after
// construction to restore a prior session. rawBuf may be nil, in which case
// the Decoder Dictionary recomputation skips configuring per-signal raw
// buffer quotas; rawBufferMaxBytesPerSignal is the per-signal MaxBytes
// applied to every signal referenced by an enabled scheme.
func New(log zerolog.Logger, store *persistence.Store, broadcaster *Broadcaster, rawBuf *rawbuffer.Manager, rawBufferMaxBytesPerSignal int64, parseDM DecoderManifestParser, parseSchemes CollectionSchemeParser) *Manager {
	return &Manager{
		log:                        log.With().Str("component", "campaign").Logger(),
		store:                      store,
		broadcaster:                broadcaster,
		rawBuf:                     rawBuf,
		rawBufferMaxBytesPerSignal: rawBufferMaxBytesPerSignal,
		parseDM:                    parseDM,
		parseSchemes:               parseSchemes,
		wake:                       make(chan struct{}, 1),
		schemes:                    make(map[string]CollectionScheme),
		enabled:                    make(map[string]bool),
		timeline:                   newTimeline(),
	}
}

// OnDecoderManifestUpdate marks a new Decoder Manifest document pending and
// wakes the main loop. Safe to call from any goroutine.
func (m *Manager) OnDecoderManifestUpdate(raw []byte) {
	m.pendingMu.Lock()
	m.pendingDMRaw = raw
	m.hasPendingDM = true
	m.pendingMu.Unlock()
	m.signalWake()
}

// OnCollectionSchemeUpdate marks a new Collection Scheme List document
// pending and wakes the main loop. Safe to call from any goroutine.
func (m *Manager) OnCollectionSchemeUpdate(raw []byte) {
	m.pendingMu.Lock()
	m.pendingSchemesRaw = raw
	m.hasPendingSchemes = true
	m.pendingMu.Unlock()
	m.signalWake()
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// LoadPersisted attempts to load the last persisted DM and scheme list; if
// either loads, it is processed as though freshly arrived, per spec.md
// §4.G's startup contract.
func (m *Manager) LoadPersisted(now clock.TimePoint) {
	any := false
	if raw, ok := m.store.LoadDecoderManifest(); ok {
		m.pendingMu.Lock()
		m.pendingDMRaw = raw
		m.hasPendingDM = true
		m.pendingMu.Unlock()
		any = true
	}
	if raw, ok := m.store.LoadCollectionSchemes(); ok {
		m.pendingMu.Lock()
		m.pendingSchemesRaw = raw
		m.hasPendingSchemes = true
		m.pendingMu.Unlock()
		any = true
	}
	if any {
		m.Reconcile(now)
	}
}

// Reconcile performs one wakeup cycle: moves pending documents into the
// working slot, validates and reconciles them, advances the timeline, and
// broadcasts recomputed artifacts if anything changed. Returns whether any
// artifact changed.
func (m *Manager) Reconcile(now clock.TimePoint) bool {
	m.pendingMu.Lock()
	dmRaw, hasDM := m.pendingDMRaw, m.hasPendingDM
	schemesRaw, hasSchemes := m.pendingSchemesRaw, m.hasPendingSchemes
	m.hasPendingDM = false
	m.hasPendingSchemes = false
	m.pendingMu.Unlock()

	changed := false

	if hasDM {
		dm, err := m.parseDM(dmRaw)
		if err != nil || dm.SyncID() == "" || !dm.HasDecodableSignal() {
			m.log.Warn().Err(err).Msg("discarding invalid decoder manifest, previous manifest remains active")
		} else {
			m.currentDM = dm
			if err := m.store.SaveDecoderManifest(dmRaw); err != nil {
				m.log.Error().Err(err).Msg("failed to persist decoder manifest")
			}
			changed = true
		}
	}

	if hasSchemes {
		parsed, err := m.parseSchemes(schemesRaw)
		if err != nil {
			m.log.Warn().Err(err).Msg("discarding invalid collection scheme list")
		} else {
			accepted := make(map[string]CollectionScheme, len(parsed))
			for _, s := range parsed {
				if m.currentDM == nil || s.DecoderManifestSyncID != m.currentDM.SyncID() {
					continue
				}
				if now.SystemMs > s.ExpiryTimeMs {
					continue
				}
				accepted[s.CampaignSyncID] = s
			}
			m.schemes = accepted
			if err := m.store.SaveCollectionSchemes(schemesRaw); err != nil {
				m.log.Error().Err(err).Msg("failed to persist collection scheme list")
			}
			m.rebuildTimeline(now)
			changed = true
		}
	}

	if m.processTimeline(now) {
		changed = true
	}

	if changed {
		m.recomputeAndBroadcast(now)
	}
	return changed
}

// rebuildTimeline fully re-derives the enabled/idle partition and timeline
// from the current accepted scheme set — called only when that set itself
// changes (a new list was accepted).
func (m *Manager) rebuildTimeline(now clock.TimePoint) {
	m.timeline = newTimeline()
	m.enabled = make(map[string]bool, len(m.schemes))
	for id, s := range m.schemes {
		if now.SystemMs >= s.StartTimeMs && now.SystemMs < s.ExpiryTimeMs {
			m.enabled[id] = true
			m.timeline.push(timelineEntry{whenMs: s.ExpiryTimeMs, campaignSyncID: id, kind: entryExpiry})
		} else {
			m.enabled[id] = false
			m.timeline.push(timelineEntry{whenMs: s.StartTimeMs, campaignSyncID: id, kind: entryStart})
		}
	}
}

// processTimeline advances every expired head entry: idle->enabled on
// start, enabled->(removed) on expiry. Returns whether anything changed.
func (m *Manager) processTimeline(now clock.TimePoint) bool {
	changed := false
	for {
		top, ok := m.timeline.peek()
		if !ok || top.whenMs > now.SystemMs {
			break
		}
		m.timeline.pop()

		s, stillPresent := m.schemes[top.campaignSyncID]
		if !stillPresent {
			continue
		}
		switch top.kind {
		case entryStart:
			m.enabled[top.campaignSyncID] = true
			m.timeline.push(timelineEntry{whenMs: s.ExpiryTimeMs, campaignSyncID: top.campaignSyncID, kind: entryExpiry})
		case entryExpiry:
			delete(m.enabled, top.campaignSyncID)
			delete(m.schemes, top.campaignSyncID)
		}
		changed = true
	}
	return changed
}

func (m *Manager) recomputeAndBroadcast(now clock.TimePoint) {
	dict := m.buildDecoderDictionary()
	matrix := m.buildInspectionMatrix(dict)
	m.configureRawBuffer(matrix)

	m.broadcaster.notifyDecoderDictionary(dict)
	m.broadcaster.notifyInspectionMatrix(matrix, now)
	m.broadcaster.notifyFetchMatrix(matrix, now)

	ids := make([]string, 0, len(m.enabled))
	for id, en := range m.enabled {
		if en {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	m.activeCount.Store(int64(len(ids)))
	m.broadcaster.notifyActiveSchemes(ids)
}

// ActiveCampaignCount reports the number of currently enabled campaigns.
// Safe for concurrent use from the telemetry scrape goroutine.
func (m *Manager) ActiveCampaignCount() int {
	return int(m.activeCount.Load())
}

// buildDecoderDictionary derives the Decoder Dictionary from every signal
// referenced by an enabled scheme: whole signals resolve their type via the
// current Decoder Manifest; partial signals (a sub-path into a complex
// signal) each mint a fresh internal ID from the reserved high-bit
// subspace, per spec.md §3/§4.G step 5.
func (m *Manager) buildDecoderDictionary() DecoderDictionary {
	dict := DecoderDictionary{
		Signals:        make(map[uint32]values.Type),
		PartialSignals: make(map[PartialSignalKey]uint32),
	}
	nextInternalID := internalSignalIDBitmask

	for id, en := range m.enabled {
		if !en {
			continue
		}
		s := m.schemes[id]
		for _, sig := range s.Signals {
			if sig.SignalPath == "" {
				if t, ok := m.currentDM.SignalType(sig.SignalID); ok {
					dict.Signals[sig.SignalID] = t
				}
				continue
			}
			key := PartialSignalKey{RootSignalID: sig.SignalID, SignalPath: sig.SignalPath}
			if _, exists := dict.PartialSignals[key]; !exists {
				dict.PartialSignals[key] = nextInternalID
				nextInternalID++
			}
		}
	}
	return dict
}

// buildInspectionMatrix derives the Inspection Matrix from every enabled
// scheme, resolving partial-signal references against dict and aggregating
// each signal's fixed-window period as the minimum requested across
// schemes, per spec.md §4.G step 5.
func (m *Manager) buildInspectionMatrix(dict DecoderDictionary) inspection.Matrix {
	matrix := inspection.Matrix{WindowedSignals: make(map[uint32]int64)}

	for id, en := range m.enabled {
		if !en {
			continue
		}
		s := m.schemes[id]
		cond := inspection.ConditionConfig{
			CampaignSyncID:           id,
			Condition:                s.Condition,
			MinimumPublishIntervalMs: s.MinimumPublishIntervalMs,
			AfterDurationMs:          s.AfterDurationMs,
			TriggerOnlyOnRisingEdge:  s.TriggerOnlyOnRisingEdge,
			Priority:                 s.Priority,
		}
		for _, sig := range s.Signals {
			resolvedID := sig.SignalID
			if sig.SignalPath != "" {
				if internalID, ok := dict.PartialSignals[PartialSignalKey{RootSignalID: sig.SignalID, SignalPath: sig.SignalPath}]; ok {
					resolvedID = internalID
				}
			}
			cond.Signals = append(cond.Signals, inspection.SignalConfig{
				SignalID:                resolvedID,
				SampleBufferSize:        sig.SampleBufferSize,
				MinimumSampleIntervalMs: sig.MinimumSampleIntervalMs,
			})
			if sig.FixedWindowPeriodMs > 0 {
				if existing, ok := matrix.WindowedSignals[resolvedID]; !ok || sig.FixedWindowPeriodMs < existing {
					matrix.WindowedSignals[resolvedID] = sig.FixedWindowPeriodMs
				}
			}
		}
		matrix.Conditions = append(matrix.Conditions, cond)
	}
	return matrix
}

// configureRawBuffer pushes each enabled scheme's per-signal buffering
// needs down to the raw-data buffer manager, so its ring-buffer quotas
// track the currently active matrix rather than a static startup config,
// per spec.md §4.G step 5. A signal referenced by more than one scheme is
// configured once per referencing scheme on every recompute; the last write
// wins, which is harmless
// since SampleBufferSize is advisory ring-buffer sizing, not a correctness
// constraint.
func (m *Manager) configureRawBuffer(matrix inspection.Matrix) {
	if m.rawBuf == nil {
		return
	}
	for _, cond := range matrix.Conditions {
		for _, sig := range cond.Signals {
			m.rawBuf.Configure(sig.SignalID, rawbuffer.SignalConfig{
				MaxSamples: sig.SampleBufferSize,
				MaxBytes:   m.rawBufferMaxBytesPerSignal,
			})
		}
	}
}
