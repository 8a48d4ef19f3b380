// Package sender implements the data sender pipeline: splitting a collected
// frame into size-bounded payloads, optional compression, handoff to the
// connectivity layer, and persistence-backed retry for anything that could
// not be delivered, per spec.md §4.H.
package sender

// Item is one opaque serialised unit within a frame: one collected signal
// sample, one raw CAN frame, or one DTC entry. The concrete wire format is
// produced by an external serialiser per spec.md §1; the pipeline only ever
// treats an Item as an indivisible byte string it may not split internally.
type Item []byte

// Envelope carries the metadata that must stay present and identical across
// every payload split from the same frame, per spec.md §4.H.
type Envelope struct {
	CampaignSyncID string `json:"campaignSyncId"`
	EventID        string `json:"eventId"`
	TriggerTime    int64  `json:"triggerTime"`
	Compression    bool   `json:"compression"`
	Persist        bool   `json:"persist"`
}

// Frame is one collected data frame awaiting transmission: an envelope plus
// the ordered list of items to serialise, possibly across more than one
// outbound payload.
type Frame struct {
	Envelope
	Items []Item
}

// payloadEnvelope is the JSON header written at the front of every
// transmitted payload, carrying a split index so the cloud side can
// reassemble multi-payload events in order.
type payloadEnvelope struct {
	Envelope
	PartIndex int `json:"partIndex"`
	PartCount int `json:"partCount"`
}

// payloadWire is the JSON document actually placed on the wire (before any
// compression): header plus the raw item bytes for this split.
type payloadWire struct {
	payloadEnvelope
	Items []Item `json:"items"`
}
