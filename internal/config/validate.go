package config

import (
	"fmt"
)

// Validate checks the service settings and the default modem configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if cfg.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if err := cfg.Modem.Validate(); err != nil {
		return fmt.Errorf("modem defaults: %w", err)
	}
	if err := ValidateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	return nil
}

// ValidateTiming enforces the timing constraints.
func ValidateTiming(t *TimingConfig) error {
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", t.HeartbeatJitter)
	}
	if t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.EventBufferSize < 1 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	if t.SubscriberQueue < 1 {
		return fmt.Errorf("subscriber queue must be positive, got %d", t.SubscriberQueue)
	}
	if t.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %v", t.OperationTimeout)
	}
	if t.CommandTimeout < t.OperationTimeout {
		return fmt.Errorf("command timeout %v must be >= operation timeout %v", t.CommandTimeout, t.OperationTimeout)
	}
	if t.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", t.ShutdownTimeout)
	}
	return nil
}
