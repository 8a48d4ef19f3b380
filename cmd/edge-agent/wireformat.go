package main

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/campaign"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/lks"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

// The real cloud wire formats (protobuf documents signed and compressed by
// the control plane) are out of scope for this core per spec.md §1 — every
// document-consuming component only ever sees them through a narrow Go
// interface or parser function. The JSON documents below are a minimal
// stand-in wire codec so this binary is self-contained and exercisable
// end-to-end without a real cloud control plane attached.

// jsonManifest is the wire shape for decoder-manifest/notify.
type jsonManifest struct {
	SyncID  string           `json:"syncId"`
	Signals map[string]uint8 `json:"signals"` // signalId (decimal string) -> values.Type
}

type decoderManifest struct {
	syncID  string
	signals map[uint32]values.Type
}

func (m *decoderManifest) SyncID() string { return m.syncID }

func (m *decoderManifest) SignalType(signalID uint32) (values.Type, bool) {
	t, ok := m.signals[signalID]
	return t, ok
}

func (m *decoderManifest) HasDecodableSignal() bool { return len(m.signals) > 0 }

func parseDecoderManifest(raw []byte) (campaign.DecoderManifest, error) {
	var doc jsonManifest
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoder manifest: %w", err)
	}
	if doc.SyncID == "" {
		return nil, fmt.Errorf("decoder manifest: missing syncId")
	}
	dm := &decoderManifest{syncID: doc.SyncID, signals: make(map[uint32]values.Type, len(doc.Signals))}
	for idStr, t := range doc.Signals {
		var id uint32
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			continue
		}
		dm.signals[id] = values.Type(t)
	}
	return dm, nil
}

// jsonSignalConfig is the wire shape for one signal entry within a scheme.
type jsonSignalConfig struct {
	SignalID                uint32 `json:"signalId"`
	SignalPath              string `json:"signalPath,omitempty"`
	SampleBufferSize        int    `json:"sampleBufferSize"`
	MinimumSampleIntervalMs int64  `json:"minimumSampleIntervalMs"`
	FixedWindowPeriodMs     int64  `json:"fixedWindowPeriodMs,omitempty"`
}

// jsonScheme is the wire shape for one entry in collection-schemes/notify.
type jsonScheme struct {
	CampaignSyncID           string             `json:"campaignSyncId"`
	DecoderManifestSyncID    string             `json:"decoderManifestSyncId"`
	StartTimeMs              int64              `json:"startTimeMs"`
	ExpiryTimeMs             int64              `json:"expiryTimeMs"`
	AfterDurationMs          int64              `json:"afterDurationMs"`
	Condition                *jsonCondNode      `json:"condition"`
	MinimumPublishIntervalMs int64              `json:"minimumPublishIntervalMs"`
	TriggerOnlyOnRisingEdge  bool               `json:"triggerOnlyOnRisingEdge"`
	Signals                  []jsonSignalConfig `json:"signals"`
	Compress                 bool               `json:"compress"`
	Persist                  bool               `json:"persist"`
	Priority                 int                `json:"priority"`
}

// jsonCondNode is the wire shape of one inspection-condition AST node. The
// evaluator's own Tree is arena-built via its Add* methods rather than
// parsed from text (spec.md §9 rules out a runtime expression-parsing
// library) — this decoder is the bridge from the cloud's wire document to
// that arena.
type jsonCondNode struct {
	Kind         string          `json:"kind"`
	SignalID     uint32          `json:"signalId,omitempty"`
	Float        float64         `json:"value,omitempty"`
	Bool         bool            `json:"boolValue,omitempty"`
	StringHandle uint32          `json:"stringHandle,omitempty"`
	Window       string          `json:"window,omitempty"`
	FuncName     string          `json:"funcName,omitempty"`
	Left         *jsonCondNode   `json:"left,omitempty"`
	Right        *jsonCondNode   `json:"right,omitempty"`
	Args         []*jsonCondNode `json:"args,omitempty"`
}

var windowFuncsByName = map[string]evaluator.WindowFunc{
	"LAST_MIN": evaluator.WindowLastMin,
	"LAST_MAX": evaluator.WindowLastMax,
	"LAST_AVG": evaluator.WindowLastAvg,
	"PREV_MIN": evaluator.WindowPrevMin,
	"PREV_MAX": evaluator.WindowPrevMax,
	"PREV_AVG": evaluator.WindowPrevAvg,
}

func buildConditionNode(t *evaluator.Tree, n *jsonCondNode) (int, error) {
	if n == nil {
		return 0, fmt.Errorf("missing condition node")
	}
	switch n.Kind {
	case "SIGNAL":
		return t.AddSignal(n.SignalID), nil
	case "FLOAT":
		return t.AddFloat(n.Float), nil
	case "BOOL":
		return t.AddBool(n.Bool), nil
	case "STRING":
		return t.AddString(n.StringHandle), nil
	case "IS_NULL":
		return t.AddIsNull(n.SignalID), nil
	case "WINDOW":
		fn, ok := windowFuncsByName[n.Window]
		if !ok {
			return 0, fmt.Errorf("unrecognized window function %q", n.Window)
		}
		return t.AddWindow(n.SignalID, fn), nil
	case "GEOHASH":
		args, err := buildConditionArgs(t, n.Args)
		if err != nil {
			return 0, err
		}
		return t.AddGeohash(args...), nil
	case "CUSTOM":
		args, err := buildConditionArgs(t, n.Args)
		if err != nil {
			return 0, err
		}
		return t.AddCustom(n.FuncName, args...), nil
	case "NOT":
		left, err := buildConditionNode(t, n.Left)
		if err != nil {
			return 0, err
		}
		return t.AddUnary(evaluator.NodeOpNot, left), nil
	default:
		kind, ok := binaryNodeKinds[n.Kind]
		if !ok {
			return 0, fmt.Errorf("unrecognized condition node kind %q", n.Kind)
		}
		left, err := buildConditionNode(t, n.Left)
		if err != nil {
			return 0, err
		}
		right, err := buildConditionNode(t, n.Right)
		if err != nil {
			return 0, err
		}
		return t.AddBinary(kind, left, right), nil
	}
}

var binaryNodeKinds = map[string]evaluator.NodeKind{
	"AND":      evaluator.NodeOpAnd,
	"OR":       evaluator.NodeOpOr,
	"EQ":       evaluator.NodeOpEqual,
	"NEQ":      evaluator.NodeOpNotEqual,
	"LT":       evaluator.NodeOpSmaller,
	"LTE":      evaluator.NodeOpSmallerEqual,
	"GT":       evaluator.NodeOpBigger,
	"GTE":      evaluator.NodeOpBiggerEqual,
	"PLUS":     evaluator.NodeOpPlus,
	"MINUS":    evaluator.NodeOpMinus,
	"MULTIPLY": evaluator.NodeOpMultiply,
	"DIVIDE":   evaluator.NodeOpDivide,
}

func buildConditionArgs(t *evaluator.Tree, nodes []*jsonCondNode) ([]int, error) {
	args := make([]int, 0, len(nodes))
	for _, n := range nodes {
		idx, err := buildConditionNode(t, n)
		if err != nil {
			return nil, err
		}
		args = append(args, idx)
	}
	return args, nil
}

func parseCondition(n *jsonCondNode) (*evaluator.Tree, error) {
	t := evaluator.NewTree()
	root, err := buildConditionNode(t, n)
	if err != nil {
		return nil, err
	}
	t.SetRoot(root)
	return t, nil
}

func parseCollectionSchemes(raw []byte) ([]campaign.CollectionScheme, error) {
	var docs []jsonScheme
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("collection schemes: %w", err)
	}
	out := make([]campaign.CollectionScheme, 0, len(docs))
	for _, d := range docs {
		cond, err := parseCondition(d.Condition)
		if err != nil {
			return nil, fmt.Errorf("collection scheme %s: condition: %w", d.CampaignSyncID, err)
		}
		scheme := campaign.CollectionScheme{
			CampaignSyncID:           d.CampaignSyncID,
			DecoderManifestSyncID:    d.DecoderManifestSyncID,
			StartTimeMs:              d.StartTimeMs,
			ExpiryTimeMs:             d.ExpiryTimeMs,
			AfterDurationMs:          d.AfterDurationMs,
			Condition:                cond,
			MinimumPublishIntervalMs: d.MinimumPublishIntervalMs,
			TriggerOnlyOnRisingEdge:  d.TriggerOnlyOnRisingEdge,
			Compress:                 d.Compress,
			Persist:                  d.Persist,
			Priority:                 d.Priority,
		}
		for _, s := range d.Signals {
			scheme.Signals = append(scheme.Signals, campaign.SignalCollectionConfig{
				SignalID:                s.SignalID,
				SignalPath:              s.SignalPath,
				SampleBufferSize:        s.SampleBufferSize,
				MinimumSampleIntervalMs: s.MinimumSampleIntervalMs,
				FixedWindowPeriodMs:     s.FixedWindowPeriodMs,
			})
		}
		out = append(out, scheme)
	}
	return out, nil
}

// jsonStateTemplate is the wire shape of one entry in a StateTemplatesDiff.
type jsonStateTemplate struct {
	ID                string   `json:"id"`
	DecoderManifestID string   `json:"decoderManifestId"`
	Signals           []uint32 `json:"signals"`
	Strategy          string   `json:"updateStrategy"` // "PERIODIC:<periodMs>" or "ON_CHANGE"
}

// jsonStateTemplatesDiff is the wire shape for last-known-state/notify.
type jsonStateTemplatesDiff struct {
	Version                  int64               `json:"version"`
	StateTemplatesToAdd      []jsonStateTemplate `json:"stateTemplatesToAdd"`
	StateTemplateIDsToRemove []string            `json:"stateTemplateSyncIdsToRemove"`
}

// applyStateTemplatesDiff decodes a StateTemplatesDiff and applies it to
// the currently-known template set, returning the resulting full list —
// the Inspector's OnStateTemplatesChanged takes the complete set rather
// than a diff (spec.md §4.F).
func applyStateTemplatesDiff(raw []byte, current map[string]lks.StateTemplate) ([]lks.StateTemplate, error) {
	if len(raw) == 0 {
		out := make([]lks.StateTemplate, 0, len(current))
		for _, t := range current {
			out = append(out, t)
		}
		return out, nil
	}
	var diff jsonStateTemplatesDiff
	if err := json.Unmarshal(raw, &diff); err != nil {
		return nil, fmt.Errorf("state templates diff: %w", err)
	}
	for _, id := range diff.StateTemplateIDsToRemove {
		delete(current, id)
	}
	for _, t := range diff.StateTemplatesToAdd {
		strategy, err := parseUpdateStrategy(t.Strategy)
		if err != nil {
			return nil, fmt.Errorf("state template %s: %w", t.ID, err)
		}
		current[t.ID] = lks.StateTemplate{
			ID:                t.ID,
			DecoderManifestID: t.DecoderManifestID,
			Signals:           t.Signals,
			Strategy:          strategy,
		}
	}
	out := make([]lks.StateTemplate, 0, len(current))
	for _, t := range current {
		out = append(out, t)
	}
	return out, nil
}

func parseUpdateStrategy(s string) (lks.UpdateStrategy, error) {
	if s == "ON_CHANGE" {
		return lks.UpdateStrategy{Kind: lks.StrategyOnChange}, nil
	}
	var periodMs int64
	if _, err := fmt.Sscanf(s, "PERIODIC:%d", &periodMs); err == nil {
		return lks.UpdateStrategy{Kind: lks.StrategyPeriodic, PeriodMs: periodMs}, nil
	}
	return lks.UpdateStrategy{}, fmt.Errorf("unrecognized update strategy %q", s)
}

// jsonCommandRequest is the wire shape for commands/request.
type jsonCommandRequest struct {
	CommandID              string `json:"commandId"`
	StateTemplateID        string `json:"stateTemplateId"`
	Kind                   string `json:"kind"` // ACTIVATE | DEACTIVATE | FETCH_SNAPSHOT
	DeactivateAfterSeconds *int64 `json:"deactivateAfterSeconds,omitempty"`
}

func parseCommandRequest(raw []byte) (jsonCommandRequest, error) {
	var req jsonCommandRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("command request: %w", err)
	}
	return req, nil
}

func commandKindFromWire(kind string) (lks.CommandKind, error) {
	switch kind {
	case "ACTIVATE":
		return lks.CommandActivate, nil
	case "DEACTIVATE":
		return lks.CommandDeactivate, nil
	case "FETCH_SNAPSHOT":
		return lks.CommandFetchSnapshot, nil
	default:
		return 0, fmt.Errorf("unrecognized command kind %q", kind)
	}
}

// jsonCommandResponse is the wire shape published to
// commands/response/{commandId}.
type jsonCommandResponse struct {
	CommandID         string `json:"commandId"`
	Status            string `json:"status"`
	ReasonCode        string `json:"reasonCode"`
	ReasonDescription string `json:"reasonDescription"`
}

func encodeCommandResponse(resp lks.CommandResponse) []byte {
	status := "SUCCEEDED"
	if resp.Status != lks.StatusSucceeded {
		status = "EXECUTION_FAILED"
	}
	out, _ := json.Marshal(jsonCommandResponse{
		CommandID:  resp.CommandID,
		Status:     status,
		ReasonCode: resp.Reason,
	})
	return out
}

// jsonCheckin is the wire shape published to the checkin topic.
type jsonCheckin struct {
	ActiveCampaignSyncIDs []string `json:"activeCampaignSyncIds"`
	DeviceTimestampMs     int64    `json:"timestamp"`
}

func encodeCheckin(syncIDs []string, nowMs int64) []byte {
	out, _ := json.Marshal(jsonCheckin{ActiveCampaignSyncIDs: syncIDs, DeviceTimestampMs: nowMs})
	return out
}
