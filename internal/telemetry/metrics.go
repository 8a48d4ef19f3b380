// Package telemetry holds the agent's ambient Prometheus counters/gauges,
// registered at init. No component of this module increments the counters
// below, so they stay at zero; the live values come from the scrape-time
// gauges of the Collector in collector.go.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fwe_edge"

var (
	SignalsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_ingested_total",
		Help:      "Total signal samples admitted to the intake queue.",
	})

	SignalsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_dropped_total",
		Help:      "Total signal samples dropped because the bounded intake queue was full.",
	})

	ConditionsTriggeredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conditions_triggered_total",
		Help:      "Total condition evaluations that transitioned Idle -> Triggered.",
	}, []string{"campaign"})

	SnapshotsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_emitted_total",
		Help:      "Total collected data frames emitted, by source.",
	}, []string{"source"}) // "inspection" or "lks"

	PayloadsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payloads_sent_total",
		Help:      "Total outbound payloads, by terminal result.",
	}, []string{"result"})

	PayloadsPersistedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payloads_persisted_total",
		Help:      "Total payloads persisted for later retry after a failed send.",
	})

	PayloadsRetriedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payloads_retried_total",
		Help:      "Total persisted-payload retry attempts, by outcome.",
	}, []string{"result"})

	MQTTReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_reconnects_total",
		Help:      "Total MQTT connection establishments, including the first.",
	})

	DecoderManifestRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decoder_manifest_rejected_total",
		Help:      "Total decoder manifest documents rejected as invalid.",
	})

	CollectionSchemesRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collection_schemes_rejected_total",
		Help:      "Total individual collection schemes rejected (SyncID mismatch or expiry).",
	})
)

func init() {
	prometheus.MustRegister(
		SignalsIngestedTotal,
		SignalsDroppedTotal,
		ConditionsTriggeredTotal,
		SnapshotsEmittedTotal,
		PayloadsSentTotal,
		PayloadsPersistedTotal,
		PayloadsRetriedTotal,
		MQTTReconnectsTotal,
		DecoderManifestRejectedTotal,
		CollectionSchemesRejectedTotal,
	)
}
