package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, -1, cfg.PayloadLength)
	assert.Equal(t, 1, cfg.ProtocolID)
	assert.Equal(t, 15, cfg.Volume)
	assert.Equal(t, MaxVariablePayload, cfg.MaxPayload())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"sample rate too low", func(c *Config) { c.SampleRate = 999 }, true},
		{"sample rate too high", func(c *Config) { c.SampleRate = 96001 }, true},
		{"sample rate bounds", func(c *Config) { c.SampleRate = 96000 }, false},
		{"fixed payload", func(c *Config) { c.PayloadLength = 16 }, false},
		{"payload max", func(c *Config) { c.PayloadLength = 140 }, false},
		{"payload zero", func(c *Config) { c.PayloadLength = 0 }, true},
		{"payload too big", func(c *Config) { c.PayloadLength = 141 }, true},
		{"payload negative", func(c *Config) { c.PayloadLength = -2 }, true},
		{"protocol unknown", func(c *Config) { c.ProtocolID = 12 }, true},
		{"protocol negative", func(c *Config) { c.ProtocolID = -1 }, true},
		{"volume negative", func(c *Config) { c.Volume = -1 }, true},
		{"volume over", func(c *Config) { c.Volume = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParamsResolve(t *testing.T) {
	cfg, err := Params{}.Resolve(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Params{
		SampleRate:    intPtr(48000),
		PayloadLength: intPtr(140),
		ProtocolID:    intPtr(1),
		Volume:        intPtr(50),
	}.Resolve(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, Config{SampleRate: 48000, PayloadLength: 140, ProtocolID: 1, Volume: 50}, cfg)
	assert.Equal(t, 140, cfg.MaxPayload())

	_, err = Params{ProtocolID: intPtr(42)}.Resolve(DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLookupProtocol(t *testing.T) {
	p, ok := LookupProtocol(1)
	require.True(t, ok)
	assert.Equal(t, "audible-fast", p.Name)

	_, ok = LookupProtocol(len(Protocols))
	assert.False(t, ok)
}
