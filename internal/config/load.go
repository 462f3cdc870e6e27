package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/gibberwallet/wavebridge/internal/engine"
)

// DefaultFile is read when no explicit path is given and it exists.
const DefaultFile = "wavebridge.yaml"

// Config is the full service configuration.
type Config struct {
	Addr   string `yaml:"addr"`
	LogDir string `yaml:"log_dir"`
	// JournalDir holds the message journal. Empty keeps it in memory.
	JournalDir string `yaml:"journal_dir"`
	// Driver selects the engine driver active at startup.
	Driver string `yaml:"driver"`

	Log    LogConfig     `yaml:"log"`
	Modem  engine.Config `yaml:"modem"`
	Timing TimingConfig  `yaml:"timing"`
	Auth   AuthConfig    `yaml:"auth"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// AuthConfig configures bearer token verification. With neither a secret
// nor a key set, the API is unauthenticated.
type AuthConfig struct {
	HMACSecret    string `yaml:"hmac_secret"`
	PublicKeyPath string `yaml:"public_key_path"`
	JWKSURL       string `yaml:"jwks_url"`
}

// Enabled reports whether any verification method is configured.
func (a AuthConfig) Enabled() bool {
	return a.HMACSecret != "" || a.PublicKeyPath != "" || a.JWKSURL != ""
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Addr:   ":8080",
		LogDir: "logs",
		Driver: "ggwave",
		Log:    LogConfig{Level: "info"},
		Modem:  engine.DefaultConfig(),
		Timing: LoadTimingBaseline(),
	}
}

// Load merges defaults, the YAML file at path (or DefaultFile when path is
// empty and the file exists) and WAVEBRIDGE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile decodes the YAML file over cfg. Keys absent from the file
// keep their current values.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

// applyEnvOverrides applies WAVEBRIDGE_* variables. Malformed numeric or
// duration values are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"WAVEBRIDGE_ADDR", &cfg.Addr},
		{"WAVEBRIDGE_LOG_DIR", &cfg.LogDir},
		{"WAVEBRIDGE_JOURNAL_DIR", &cfg.JournalDir},
		{"WAVEBRIDGE_DRIVER", &cfg.Driver},
		{"WAVEBRIDGE_LOG_LEVEL", &cfg.Log.Level},
		{"WAVEBRIDGE_AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret},
		{"WAVEBRIDGE_AUTH_PUBLIC_KEY", &cfg.Auth.PublicKeyPath},
		{"WAVEBRIDGE_AUTH_JWKS_URL", &cfg.Auth.JWKSURL},
	}
	for _, s := range strs {
		if val := os.Getenv(s.key); val != "" {
			*s.dst = val
		}
	}
	if val := os.Getenv("WAVEBRIDGE_LOG_PRETTY"); val != "" {
		cfg.Log.Pretty = val == "1" || val == "true"
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"WAVEBRIDGE_MODEM_SAMPLE_RATE", &cfg.Modem.SampleRate},
		{"WAVEBRIDGE_MODEM_PAYLOAD_LENGTH", &cfg.Modem.PayloadLength},
		{"WAVEBRIDGE_MODEM_PROTOCOL_ID", &cfg.Modem.ProtocolID},
		{"WAVEBRIDGE_MODEM_VOLUME", &cfg.Modem.Volume},
		{"WAVEBRIDGE_TIMING_EVENT_BUFFER_SIZE", &cfg.Timing.EventBufferSize},
		{"WAVEBRIDGE_TIMING_SUBSCRIBER_QUEUE", &cfg.Timing.SubscriberQueue},
	}
	for _, i := range ints {
		val := os.Getenv(i.key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"WAVEBRIDGE_TIMING_HEARTBEAT_INTERVAL", &cfg.Timing.HeartbeatInterval},
		{"WAVEBRIDGE_TIMING_HEARTBEAT_JITTER", &cfg.Timing.HeartbeatJitter},
		{"WAVEBRIDGE_TIMING_OPERATION_TIMEOUT", &cfg.Timing.OperationTimeout},
		{"WAVEBRIDGE_TIMING_COMMAND_TIMEOUT", &cfg.Timing.CommandTimeout},
		{"WAVEBRIDGE_TIMING_SHUTDOWN_TIMEOUT", &cfg.Timing.ShutdownTimeout},
	}
	for _, d := range durations {
		val := os.Getenv(d.key)
		if val == "" {
			continue
		}
		v, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	return nil
}
