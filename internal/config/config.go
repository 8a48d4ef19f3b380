// Package config loads the edge agent's runtime configuration from .env
// files, environment variables, and CLI overrides, in that ascending
// priority order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the complete set of env-driven settings for one agent process.
type Config struct {
	ThingName string `env:"THING_NAME,required"`

	MQTTBrokerAddress string        `env:"MQTT_BROKER_ADDRESS,required"`
	MQTTRootCA        string        `env:"MQTT_ROOT_CA"`
	MQTTKeepAlive     time.Duration `env:"MQTT_KEEPALIVE" envDefault:"60s"`
	MQTTSessionExpiry time.Duration `env:"MQTT_SESSION_EXPIRY" envDefault:"1h"`
	MQTTPingTimeout   time.Duration `env:"MQTT_PING_TIMEOUT" envDefault:"3s"`
	MQTTMaxSendSize   int           `env:"MQTT_MAX_SEND_SIZE" envDefault:"134217728"`
	MQTTMaxHeapBytes  int64         `env:"MQTT_MAX_HEAP_BYTES" envDefault:"10485760"`
	MQTTMinBackoff    time.Duration `env:"MQTT_MIN_BACKOFF" envDefault:"1s"`
	MQTTMaxBackoff    time.Duration `env:"MQTT_MAX_BACKOFF" envDefault:"60s"`

	PersistenceDir string `env:"PERSISTENCE_DIR" envDefault:"./var/fwe"`

	CampaignIdleTimeout time.Duration `env:"CAMPAIGN_IDLE_TIMEOUT" envDefault:"5s"`
	LKSTickInterval     time.Duration `env:"LKS_TICK_INTERVAL" envDefault:"1s"`
	CheckinInterval     time.Duration `env:"CHECKIN_INTERVAL" envDefault:"30s"`
	RetrySendInterval   time.Duration `env:"RETRY_SEND_INTERVAL" envDefault:"60s"`

	SenderTransmitThreshold int `env:"SENDER_TRANSMIT_THRESHOLD" envDefault:"500"`

	RawBufferMaxBytesPerSignal int64 `env:"RAW_BUFFER_MAX_BYTES_PER_SIGNAL" envDefault:"1048576"`
	RawBufferMaxTotalBytes     int64 `env:"RAW_BUFFER_MAX_TOTAL_BYTES" envDefault:"52428800"`

	DiagAddr string `env:"DIAG_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DocWatchDir, if set, enables an offline alternative to the
	// decoder-manifest/notify and collection-schemes/notify MQTT topics: a
	// directory watched (fsnotify events) for dropped decoder-manifest.json and
	// collection-schemes.json files, for bench testing without a reachable
	// broker.
	DocWatchDir string `env:"DOC_WATCH_DIR"`
}

// Validate reports configuration combinations the agent cannot run with.
func (c *Config) Validate() error {
	if c.ThingName == "" {
		return fmt.Errorf("THING_NAME must be set")
	}
	if c.MQTTBrokerAddress == "" {
		return fmt.Errorf("MQTT_BROKER_ADDRESS must be set")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile           string
	ThingName         string
	MQTTBrokerAddress string
	PersistenceDir    string
	LogLevel          string
	DiagAddr          string
}

// Load reads configuration from an optional .env file, environment
// variables, and CLI overrides. Priority: CLI flags > environment
// variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.ThingName != "" {
		cfg.ThingName = overrides.ThingName
	}
	if overrides.MQTTBrokerAddress != "" {
		cfg.MQTTBrokerAddress = overrides.MQTTBrokerAddress
	}
	if overrides.PersistenceDir != "" {
		cfg.PersistenceDir = overrides.PersistenceDir
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DiagAddr != "" {
		cfg.DiagAddr = overrides.DiagAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
