package testdecoder

import (
	"testing"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

func TestManifestBuilderRoundTrips(t *testing.T) {
	m := NewManifestBuilder("dm-1").WithSignal(10, values.TypeFloat64).Build()

	if m.SyncID() != "dm-1" {
		t.Errorf("SyncID = %q, want dm-1", m.SyncID())
	}
	if !m.HasDecodableSignal() {
		t.Error("HasDecodableSignal = false, want true")
	}
	if typ, ok := m.SignalType(10); !ok || typ != values.TypeFloat64 {
		t.Errorf("SignalType(10) = (%v, %v), want (f64, true)", typ, ok)
	}
	if _, ok := m.SignalType(999); ok {
		t.Error("SignalType(999) = ok, want not found")
	}
}

func TestEmptyManifestHasNoDecodableSignal(t *testing.T) {
	m := NewManifestBuilder("dm-empty").Build()
	if m.HasDecodableSignal() {
		t.Error("HasDecodableSignal = true, want false for an empty manifest")
	}
}

func TestSchemeListParserRejectsUnregisteredKey(t *testing.T) {
	p := NewSchemeListParser()
	if _, err := p.Parse([]byte("unknown")); err == nil {
		t.Error("Parse(unregistered key) = nil error, want error")
	}
}

func TestManifestParserRoundTrips(t *testing.T) {
	p := NewManifestParser()
	want := NewManifestBuilder("dm-1").WithSignal(1, values.TypeInt32).Build()
	p.Register("k", want)

	got, err := p.Parse([]byte("k"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.SyncID() != "dm-1" {
		t.Errorf("SyncID = %q, want dm-1", got.SyncID())
	}
}
