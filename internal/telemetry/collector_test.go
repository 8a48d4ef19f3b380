package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeGauges struct {
	active      int
	rawBytes    int64
	undelivered int
	mqttAlive   bool
}

func (f fakeGauges) ActiveCampaignCount() int     { return f.active }
func (f fakeGauges) RawBufferUsedBytes() int64    { return f.rawBytes }
func (f fakeGauges) UndeliveredPayloadCount() int { return f.undelivered }
func (f fakeGauges) MQTTAlive() bool              { return f.mqttAlive }

func gatherByName(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		metrics := mf.GetMetric()
		if len(metrics) != 1 {
			t.Fatalf("metric %s: got %d series, want 1", name, len(metrics))
		}
		var g *dto.Gauge
		if g = metrics[0].GetGauge(); g == nil {
			t.Fatalf("metric %s: not a gauge", name)
		}
		return g.GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCollectorReportsLiveGaugeValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(fakeGauges{active: 3, rawBytes: 4096, undelivered: 2, mqttAlive: true})
	reg.MustRegister(c)

	if got := gatherByName(t, reg, "fwe_edge_active_campaigns"); got != 3 {
		t.Errorf("active_campaigns = %v, want 3", got)
	}
	if got := gatherByName(t, reg, "fwe_edge_raw_buffer_used_bytes"); got != 4096 {
		t.Errorf("raw_buffer_used_bytes = %v, want 4096", got)
	}
	if got := gatherByName(t, reg, "fwe_edge_undelivered_payloads"); got != 2 {
		t.Errorf("undelivered_payloads = %v, want 2", got)
	}
	if got := gatherByName(t, reg, "fwe_edge_mqtt_alive"); got != 1 {
		t.Errorf("mqtt_alive = %v, want 1", got)
	}
}

func TestCollectorReportsZeroWhenGaugesNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(nil)
	reg.MustRegister(c)

	if got := gatherByName(t, reg, "fwe_edge_mqtt_alive"); got != 0 {
		t.Errorf("mqtt_alive = %v, want 0", got)
	}
}
