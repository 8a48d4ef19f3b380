package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"THING_NAME", "MQTT_BROKER_ADDRESS", "MQTT_ROOT_CA", "MQTT_KEEPALIVE",
		"PERSISTENCE_DIR", "LOG_LEVEL", "DIAG_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("THING_NAME", "vehicle-42")
	t.Setenv("MQTT_BROKER_ADDRESS", "mqtt.example.com:8883")

	cfg, err := Load(Overrides{EnvFile: "does-not-exist.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PersistenceDir != "./var/fwe" {
		t.Errorf("PersistenceDir = %q, want default", cfg.PersistenceDir)
	}
	if cfg.MQTTKeepAlive.Seconds() != 60 {
		t.Errorf("MQTTKeepAlive = %v, want 60s", cfg.MQTTKeepAlive)
	}
}

func TestLoadMissingRequiredFieldsFails(t *testing.T) {
	clearEnv(t)
	if _, err := Load(Overrides{EnvFile: "does-not-exist.env"}); err == nil {
		t.Fatal("expected Load to fail without THING_NAME/MQTT_BROKER_ADDRESS")
	}
}

func TestOverridesTakePriorityOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("THING_NAME", "from-env")
	t.Setenv("MQTT_BROKER_ADDRESS", "mqtt.example.com:8883")

	cfg, err := Load(Overrides{EnvFile: "does-not-exist.env", ThingName: "from-override"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ThingName != "from-override" {
		t.Errorf("ThingName = %q, want override to win", cfg.ThingName)
	}
}
