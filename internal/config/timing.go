package config

import (
	"time"
)

// TimingConfig holds event channel and command timing.
type TimingConfig struct {
	// Heartbeat sent to event subscribers while any are connected.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeat_jitter"`

	// Replay ring and per-subscriber queue depth.
	EventBufferSize int `yaml:"event_buffer_size"`
	SubscriberQueue int `yaml:"subscriber_queue"`

	// OperationTimeout bounds a single engine call.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// CommandTimeout bounds how long an HTTP request waits for a command
	// promise. Transmissions settle only when playback ends.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoadTimingBaseline returns the default timing values.
func LoadTimingBaseline() TimingConfig {
	return TimingConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatJitter:   2 * time.Second,
		EventBufferSize:   50,
		SubscriberQueue:   64,
		OperationTimeout:  5 * time.Second,
		CommandTimeout:    30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// HeartbeatPeriod returns the heartbeat interval with half the jitter added,
// spreading subscribers away from the exact interval.
func (t TimingConfig) HeartbeatPeriod() time.Duration {
	return t.HeartbeatInterval + t.HeartbeatJitter/2
}
