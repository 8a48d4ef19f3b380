package sender

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/persistence"
	"github.com/rs/zerolog"
)

// Result is the terminal outcome of one sendBuffer attempt, per spec.md §4.I.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultTransmissionError
	ResultNotConfigured
	ResultWrongInputData
	ResultNoConnection
	ResultQuotaReached
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultTransmissionError:
		return "TransmissionError"
	case ResultNotConfigured:
		return "NotConfigured"
	case ResultWrongInputData:
		return "WrongInputData"
	case ResultNoConnection:
		return "NoConnection"
	case ResultQuotaReached:
		return "QuotaReached"
	default:
		return "Unknown"
	}
}

// Sender is the subset of the connectivity layer the pipeline depends on.
type Sender interface {
	SendBuffer(topic string, payload []byte, onResult func(Result))
}

// Pipeline implements processCollectedData/checkAndSendRetrievedData per
// spec.md §4.H. It holds no dedicated goroutine — ProcessCollectedData runs
// on the caller's goroutine (the inspection or LKS emit path) and
// CheckAndSendRetrievedData is driven by a ticker owned by the process
// entry point.
type Pipeline struct {
	log               zerolog.Logger
	store             *persistence.Store
	sender            Sender
	transmitThreshold int
}

// New constructs a Pipeline. transmitThreshold bounds how many items a
// single outbound payload may contain before the frame is split.
func New(log zerolog.Logger, store *persistence.Store, sender Sender, transmitThreshold int) *Pipeline {
	if transmitThreshold <= 0 {
		transmitThreshold = 1
	}
	return &Pipeline{
		log:               log.With().Str("component", "sender").Logger(),
		store:             store,
		sender:            sender,
		transmitThreshold: transmitThreshold,
	}
}

// ProcessCollectedData splits frame into one or more size-bounded payloads,
// compresses each if requested, and hands each to the connectivity layer.
// Any payload that does not reach the broker is persisted for later retry
// when frame.Persist is set.
func (p *Pipeline) ProcessCollectedData(topic string, frame Frame) {
	chunks := splitItems(frame.Items, p.transmitThreshold)
	if len(chunks) == 0 {
		chunks = [][]Item{nil}
	}

	for i, chunk := range chunks {
		wire := payloadWire{
			payloadEnvelope: payloadEnvelope{
				Envelope:  frame.Envelope,
				PartIndex: i,
				PartCount: len(chunks),
			},
			Items: chunk,
		}
		p.sendOne(topic, frame, wire, i)
	}
}

func (p *Pipeline) sendOne(topic string, frame Frame, wire payloadWire, partIndex int) {
	raw, err := json.Marshal(wire)
	if err != nil {
		p.log.Error().Err(err).Str("campaign", frame.CampaignSyncID).Msg("failed to serialise payload")
		return
	}

	if frame.Compression {
		raw, err = gzipBytes(raw)
		if err != nil {
			p.log.Error().Err(err).Str("campaign", frame.CampaignSyncID).Msg("failed to compress payload")
			return
		}
	}

	p.sender.SendBuffer(topic, raw, func(result Result) {
		if result == ResultSuccess {
			return
		}
		p.log.Warn().
			Str("campaign", frame.CampaignSyncID).
			Str("event", frame.EventID).
			Str("result", result.String()).
			Msg("payload not delivered")
		if !frame.Persist {
			return
		}
		filename := fmt.Sprintf("%s-%s-%d", frame.CampaignSyncID, frame.EventID, partIndex)
		meta := persistence.UndeliveredMetadata{
			CampaignSyncID: frame.CampaignSyncID,
			EventID:        frame.EventID,
			TriggerTime:    frame.TriggerTime,
			Compression:    frame.Compression,
		}
		if err := p.store.SaveUndelivered(filename, raw, meta); err != nil {
			p.log.Error().Err(err).Str("filename", filename).Msg("failed to persist undelivered payload")
		}
	})
}

// CheckAndSendRetrievedData enumerates every persisted-but-unsent payload
// and attempts to resend it. A failed resend leaves the file intact for the
// next attempt.
func (p *Pipeline) CheckAndSendRetrievedData(topicFor func(campaignSyncID string) string) {
	entries, err := p.store.ListUndelivered()
	if err != nil {
		p.log.Error().Err(err).Msg("failed to enumerate undelivered payloads")
		return
	}
	for _, entry := range entries {
		payload, err := p.store.LoadUndeliveredPayload(entry.Filename)
		if err != nil {
			p.log.Error().Err(err).Str("filename", entry.Filename).Msg("failed to load undelivered payload")
			continue
		}
		filename := entry.Filename
		topic := topicFor(entry.Meta.CampaignSyncID)
		p.sender.SendBuffer(topic, payload, func(result Result) {
			if result != ResultSuccess {
				return
			}
			if err := p.store.RemoveUndelivered(filename); err != nil {
				p.log.Error().Err(err).Str("filename", filename).Msg("failed to remove delivered retry payload")
			}
		})
	}
}

// splitItems partitions items into ordered chunks of at most threshold
// items each, preserving item order across chunk boundaries.
func splitItems(items []Item, threshold int) [][]Item {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]Item
	for start := 0; start < len(items); start += threshold {
		end := start + threshold
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
