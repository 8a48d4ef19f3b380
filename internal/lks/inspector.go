// Package lks implements the Last-Known-State inspector: a parallel
// evaluator that maintains activation-driven periodic/on-change emissions
// for cloud-designated state templates, independent of the inspection
// engine's condition-triggered snapshots, per spec.md §4.F.
package lks

import (
	"sync"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/persistence"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
	"github.com/rs/zerolog"
)

// UpdateStrategyKind selects how a StateTemplate schedules emissions.
type UpdateStrategyKind uint8

const (
	StrategyPeriodic UpdateStrategyKind = iota
	StrategyOnChange
)

// UpdateStrategy is PERIODIC(periodMs) or ON_CHANGE.
type UpdateStrategy struct {
	Kind     UpdateStrategyKind
	PeriodMs int64
}

// StateTemplate names a set of signals reported on an activation-controlled
// schedule, per spec.md §3.
type StateTemplate struct {
	ID                string
	DecoderManifestID string
	Signals           []uint32
	Strategy          UpdateStrategy
}

func (t StateTemplate) hasSignal(signalID uint32) bool {
	for _, s := range t.Signals {
		if s == signalID {
			return true
		}
	}
	return false
}

// CommandKind selects the operation a Command requests.
type CommandKind uint8

const (
	CommandActivate CommandKind = iota
	CommandDeactivate
	CommandFetchSnapshot
)

// Command is a cloud-issued activation command targeting one state template.
type Command struct {
	ID                     string
	StateTemplateID        string
	Kind                   CommandKind
	HasDeactivateAfter     bool
	DeactivateAfterSeconds int64
	ReceivedTime           clock.TimePoint
}

// ResponseStatus is the outcome reported back for a Command.
type ResponseStatus uint8

const (
	StatusSucceeded ResponseStatus = iota
	StatusExecutionFailed
)

// Reason codes named in spec.md §4.F.
const (
	ReasonUnspecified        = "UNSPECIFIED"
	ReasonAlreadyActivated   = "STATE_TEMPLATE_ALREADY_ACTIVATED"
	ReasonAlreadyDeactivated = "STATE_TEMPLATE_ALREADY_DEACTIVATED"
	ReasonOutOfSync          = "STATE_TEMPLATE_OUT_OF_SYNC"
)

// CommandResponse answers one Command.
type CommandResponse struct {
	CommandID string
	Status    ResponseStatus
	Reason    string
}

// SignalSample is one timestamped reading within a Snapshot.
type SignalSample struct {
	Value     values.Value
	Timestamp clock.TimePoint
}

// Snapshot is an LKS emission: one state template's reported signal values
// at a point in time.
type Snapshot struct {
	StateTemplateID string
	Timestamp       clock.TimePoint
	Samples         map[uint32]SignalSample
}

// Sink receives LKS emissions for handoff to the data sender pipeline.
type Sink interface {
	Emit(Snapshot)
}

type sampleEntry struct {
	val values.Value
	ts  clock.TimePoint
}

// activationRecord is the live (non-persisted-shape) state for one template.
type activationRecord struct {
	activated bool

	hasDeadlineMonotonic bool
	deadlineMonotonicMs  int64

	// periodic bookkeeping
	hasEmittedSinceActivation bool
	lastEmitTs                clock.TimePoint

	// on-change bookkeeping: last value emitted per signal, reset on every
	// fresh activation so the first observed value after activation always
	// counts as a change.
	lastEmittedValue map[uint32]values.Value
}

// Inspector is the LKS state machine: command handling, periodic/on-change
// scheduling, and crash-safe activation persistence.
type Inspector struct {
	mu   sync.Mutex
	log  zerolog.Logger
	store *persistence.Store
	sink  Sink

	templates   map[string]StateTemplate
	activations map[string]*activationRecord
	latest      map[uint32]sampleEntry
}

// New constructs an Inspector with no templates and no restored activations.
// Call LoadPersisted after construction to restore state across a restart.
func New(log zerolog.Logger, store *persistence.Store, sink Sink) *Inspector {
	return &Inspector{
		log:         log.With().Str("component", "lks").Logger(),
		store:       store,
		sink:        sink,
		templates:   make(map[string]StateTemplate),
		activations: make(map[string]*activationRecord),
		latest:      make(map[uint32]sampleEntry),
	}
}

// LoadPersisted restores activation records from stable storage. Any
// activation whose deactivateAfterSystemTimeMs lies in the past is treated
// as deactivated and dropped, per spec.md §4.F.
func (i *Inspector) LoadPersisted(now clock.TimePoint) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for id, rec := range i.store.LoadActivations() {
		if !rec.Activated {
			continue
		}
		if rec.DeactivateAfterSystemTimeMs != 0 && rec.DeactivateAfterSystemTimeMs <= now.SystemMs {
			continue
		}
		live := &activationRecord{activated: true}
		if rec.DeactivateAfterSystemTimeMs != 0 {
			live.hasDeadlineMonotonic = true
			live.deadlineMonotonicMs = now.MonotonicMs + (rec.DeactivateAfterSystemTimeMs - now.SystemMs)
		}
		i.activations[id] = live
	}
	i.persistAllLocked(now)
}

// OnStateTemplatesChanged replaces the template set. Activation records for
// surviving template IDs are preserved; records for removed IDs are dropped.
func (i *Inspector) OnStateTemplatesChanged(list []StateTemplate, now clock.TimePoint) {
	i.mu.Lock()
	defer i.mu.Unlock()

	next := make(map[string]StateTemplate, len(list))
	for _, t := range list {
		next[t.ID] = t
	}
	i.templates = next

	for id := range i.activations {
		if _, ok := next[id]; !ok {
			delete(i.activations, id)
		}
	}
	i.persistAllLocked(now)
}

// OnNewCommand handles one cloud-issued activation command.
func (i *Inspector) OnNewCommand(cmd Command, now clock.TimePoint) CommandResponse {
	i.mu.Lock()
	defer i.mu.Unlock()

	tmpl, ok := i.templates[cmd.StateTemplateID]
	if !ok {
		return CommandResponse{CommandID: cmd.ID, Status: StatusExecutionFailed, Reason: ReasonOutOfSync}
	}

	rec, ok := i.activations[cmd.StateTemplateID]
	if !ok {
		rec = &activationRecord{}
		i.activations[cmd.StateTemplateID] = rec
	}

	switch cmd.Kind {
	case CommandActivate:
		if rec.activated {
			if cmd.HasDeactivateAfter {
				rec.hasDeadlineMonotonic = true
				rec.deadlineMonotonicMs = now.MonotonicMs + cmd.DeactivateAfterSeconds*1000
			}
			i.persistAllLocked(now)
			return CommandResponse{CommandID: cmd.ID, Status: StatusSucceeded, Reason: ReasonAlreadyActivated}
		}
		rec.activated = true
		rec.hasEmittedSinceActivation = false
		rec.lastEmittedValue = nil
		rec.hasDeadlineMonotonic = false
		if cmd.HasDeactivateAfter {
			rec.hasDeadlineMonotonic = true
			rec.deadlineMonotonicMs = now.MonotonicMs + cmd.DeactivateAfterSeconds*1000
		}
		i.persistAllLocked(now)
		return CommandResponse{CommandID: cmd.ID, Status: StatusSucceeded, Reason: ReasonUnspecified}

	case CommandDeactivate:
		if !rec.activated {
			return CommandResponse{CommandID: cmd.ID, Status: StatusSucceeded, Reason: ReasonAlreadyDeactivated}
		}
		rec.activated = false
		rec.hasDeadlineMonotonic = false
		i.persistAllLocked(now)
		return CommandResponse{CommandID: cmd.ID, Status: StatusSucceeded, Reason: ReasonUnspecified}

	case CommandFetchSnapshot:
		i.emitFullSnapshotLocked(tmpl, now)
		return CommandResponse{CommandID: cmd.ID, Status: StatusSucceeded, Reason: ReasonUnspecified}

	default:
		return CommandResponse{CommandID: cmd.ID, Status: StatusExecutionFailed, Reason: ReasonUnspecified}
	}
}

// AddNewSignal records a new reading and, for every activated ON_CHANGE
// template containing signalID whose value differs from the last emitted
// one, emits an immediate single-signal snapshot.
func (i *Inspector) AddNewSignal(signalID uint32, ts clock.TimePoint, val values.Value) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.latest[signalID] = sampleEntry{val: val, ts: ts}

	for id, tmpl := range i.templates {
		if tmpl.Strategy.Kind != StrategyOnChange || !tmpl.hasSignal(signalID) {
			continue
		}
		rec := i.activations[id]
		if rec == nil || !rec.activated {
			continue
		}
		prev, had := rec.lastEmittedValue[signalID]
		changed := !had
		if had {
			eq, ok := values.Equal(prev, val)
			changed = !ok || !eq
		}
		if !changed {
			continue
		}
		if rec.lastEmittedValue == nil {
			rec.lastEmittedValue = make(map[uint32]values.Value)
		}
		rec.lastEmittedValue[signalID] = val
		i.sink.Emit(Snapshot{
			StateTemplateID: id,
			Timestamp:       ts,
			Samples:         map[uint32]SignalSample{signalID: {Value: val, Timestamp: ts}},
		})
	}
}

// Tick advances periodic scheduling and auto-deactivation. It is driven by
// the inspector's own worker loop, once per intake tick.
func (i *Inspector) Tick(now clock.TimePoint) {
	i.mu.Lock()
	defer i.mu.Unlock()

	dirty := false
	for id, tmpl := range i.templates {
		rec := i.activations[id]
		if rec == nil || !rec.activated {
			continue
		}

		if rec.hasDeadlineMonotonic && now.MonotonicMs >= rec.deadlineMonotonicMs {
			rec.activated = false
			rec.hasDeadlineMonotonic = false
			dirty = true
			continue
		}

		if tmpl.Strategy.Kind != StrategyPeriodic {
			continue
		}
		if !rec.hasEmittedSinceActivation {
			i.emitFullSnapshotLocked(tmpl, now)
			rec.hasEmittedSinceActivation = true
			rec.lastEmitTs = now
			continue
		}
		if now.MonotonicMs >= rec.lastEmitTs.MonotonicMs+tmpl.Strategy.PeriodMs {
			i.emitFullSnapshotLocked(tmpl, now)
			rec.lastEmitTs = now
		}
	}

	if dirty {
		i.persistAllLocked(now)
	}
}

func (i *Inspector) emitFullSnapshotLocked(tmpl StateTemplate, now clock.TimePoint) {
	samples := make(map[uint32]SignalSample, len(tmpl.Signals))
	for _, signalID := range tmpl.Signals {
		if s, ok := i.latest[signalID]; ok {
			samples[signalID] = SignalSample{Value: s.val, Timestamp: s.ts}
		}
	}
	i.sink.Emit(Snapshot{StateTemplateID: tmpl.ID, Timestamp: now, Samples: samples})
}

func (i *Inspector) persistAllLocked(now clock.TimePoint) {
	records := make(map[string]persistence.ActivationRecord, len(i.activations))
	for id, rec := range i.activations {
		r := persistence.ActivationRecord{StateTemplateID: id, Activated: rec.activated}
		if rec.hasDeadlineMonotonic {
			r.DeactivateAfterSystemTimeMs = now.SystemMs + (rec.deadlineMonotonicMs - now.MonotonicMs)
		}
		records[id] = r
	}
	if err := i.store.SaveActivations(records); err != nil {
		i.log.Error().Err(err).Msg("failed to persist LKS activation records")
	}
}
