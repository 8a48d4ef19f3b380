package campaign

import (
	"sync"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/inspection"
)

// DecoderDictionaryListener receives the derived Decoder Dictionary whenever
// the campaign lifecycle manager recomputes it.
type DecoderDictionaryListener interface {
	OnDecoderDictionaryChange(dict DecoderDictionary)
}

// InspectionMatrixListener receives the derived Inspection Matrix.
type InspectionMatrixListener interface {
	OnInspectionMatrixChange(matrix inspection.Matrix, now clock.TimePoint)
}

// FetchMatrixListener receives the subset of the Inspection Matrix carrying
// forward/fetch sub-conditions. Those sub-conditions are represented as
// ordinary inspection.SignalConfig entries distinguished by a non-zero
// FetchRequestID, so the fetch matrix and the inspection matrix share the
// same derived Matrix value; a dedicated listener type keeps the two
// broadcast audiences (condition evaluation vs. on-demand fetch triggers)
// independently subscribable, matching spec.md §4.G's four-listener fan-out.
type FetchMatrixListener interface {
	OnFetchMatrixChange(matrix inspection.Matrix, now clock.TimePoint)
}

// ActiveSchemeListListener receives the current set of enabled campaign
// SyncIDs, also handed to the checkin sender.
type ActiveSchemeListListener interface {
	OnActiveSchemesChanged(syncIDs []string)
}

// Broadcaster is a typed listener registry: the campaign lifecycle manager's
// main loop registers recomputed artifacts here once per wakeup, and every
// registered listener is notified synchronously on the calling goroutine —
// each of the four independent artifact kinds is fanned out under the read
// lock, which is held until every listener of that kind has returned.
type Broadcaster struct {
	mu sync.RWMutex

	decoderDictionary []DecoderDictionaryListener
	inspectionMatrix  []InspectionMatrixListener
	fetchMatrix       []FetchMatrixListener
	activeSchemes     []ActiveSchemeListListener
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (b *Broadcaster) RegisterDecoderDictionaryListener(l DecoderDictionaryListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoderDictionary = append(b.decoderDictionary, l)
}

func (b *Broadcaster) RegisterInspectionMatrixListener(l InspectionMatrixListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inspectionMatrix = append(b.inspectionMatrix, l)
}

func (b *Broadcaster) RegisterFetchMatrixListener(l FetchMatrixListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchMatrix = append(b.fetchMatrix, l)
}

func (b *Broadcaster) RegisterActiveSchemeListListener(l ActiveSchemeListListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeSchemes = append(b.activeSchemes, l)
}

func (b *Broadcaster) notifyDecoderDictionary(dict DecoderDictionary) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.decoderDictionary {
		l.OnDecoderDictionaryChange(dict)
	}
}

func (b *Broadcaster) notifyInspectionMatrix(matrix inspection.Matrix, now clock.TimePoint) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.inspectionMatrix {
		l.OnInspectionMatrixChange(matrix, now)
	}
}

func (b *Broadcaster) notifyFetchMatrix(matrix inspection.Matrix, now clock.TimePoint) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.fetchMatrix {
		l.OnFetchMatrixChange(matrix, now)
	}
}

func (b *Broadcaster) notifyActiveSchemes(syncIDs []string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.activeSchemes {
		l.OnActiveSchemesChanged(syncIDs)
	}
}
