package engine

import (
	"fmt"
)

// Session configuration defaults, matching what the wallet app initializes
// the modem with.
const (
	DefaultSampleRate    = 48000
	DefaultPayloadLength = -1
	DefaultProtocolID    = 1
	DefaultVolume        = 15
)

// Modem limits.
const (
	MinSampleRate      = 1000
	MaxSampleRate      = 96000
	VariablePayload    = -1
	MaxVariablePayload = 140
	MinVolume          = 0
	MaxVolume          = 100
)

// Protocol identifies a modem variant.
type Protocol struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Protocols is the catalog of modem variants, indexed by id.
var Protocols = []Protocol{
	{ID: 0, Name: "audible-normal"},
	{ID: 1, Name: "audible-fast"},
	{ID: 2, Name: "audible-fastest"},
	{ID: 3, Name: "ultrasound-normal"},
	{ID: 4, Name: "ultrasound-fast"},
	{ID: 5, Name: "ultrasound-fastest"},
	{ID: 6, Name: "dt-normal"},
	{ID: 7, Name: "dt-fast"},
	{ID: 8, Name: "dt-fastest"},
	{ID: 9, Name: "mt-normal"},
	{ID: 10, Name: "mt-fast"},
	{ID: 11, Name: "mt-fastest"},
}

// LookupProtocol returns the catalog entry for id.
func LookupProtocol(id int) (Protocol, bool) {
	if id < 0 || id >= len(Protocols) {
		return Protocol{}, false
	}
	return Protocols[id], true
}

// Config is an immutable session configuration.
type Config struct {
	SampleRate    int `json:"sampleRate" yaml:"sample_rate"`
	PayloadLength int `json:"payloadLength" yaml:"payload_length"`
	ProtocolID    int `json:"protocolId" yaml:"protocol_id"`
	Volume        int `json:"volume" yaml:"volume"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:    DefaultSampleRate,
		PayloadLength: DefaultPayloadLength,
		ProtocolID:    DefaultProtocolID,
		Volume:        DefaultVolume,
	}
}

// Validate checks every field against the modem limits.
func (c Config) Validate() error {
	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate %d outside [%d, %d]", ErrInvalidConfig, c.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.PayloadLength != VariablePayload && (c.PayloadLength < 1 || c.PayloadLength > MaxVariablePayload) {
		return fmt.Errorf("%w: payload length %d must be -1 or within [1, %d]", ErrInvalidConfig, c.PayloadLength, MaxVariablePayload)
	}
	if _, ok := LookupProtocol(c.ProtocolID); !ok {
		return fmt.Errorf("%w: unsupported protocol id %d", ErrInvalidConfig, c.ProtocolID)
	}
	if c.Volume < MinVolume || c.Volume > MaxVolume {
		return fmt.Errorf("%w: volume %d outside [%d, %d]", ErrInvalidConfig, c.Volume, MinVolume, MaxVolume)
	}
	return nil
}

// MaxPayload is the largest message, in bytes, a transmission may carry.
func (c Config) MaxPayload() int {
	if c.PayloadLength == VariablePayload {
		return MaxVariablePayload
	}
	return c.PayloadLength
}

// Params carries the host's optional initialize fields.
type Params struct {
	SampleRate    *int `json:"sampleRate,omitempty"`
	PayloadLength *int `json:"payloadLength,omitempty"`
	ProtocolID    *int `json:"protocolId,omitempty"`
	Volume        *int `json:"volume,omitempty"`
}

// Apply fills omitted fields from defaults without validating.
func (p Params) Apply(defaults Config) Config {
	cfg := defaults
	if p.SampleRate != nil {
		cfg.SampleRate = *p.SampleRate
	}
	if p.PayloadLength != nil {
		cfg.PayloadLength = *p.PayloadLength
	}
	if p.ProtocolID != nil {
		cfg.ProtocolID = *p.ProtocolID
	}
	if p.Volume != nil {
		cfg.Volume = *p.Volume
	}
	return cfg
}

// Resolve fills omitted fields from defaults and validates the result.
func (p Params) Resolve(defaults Config) (Config, error) {
	cfg := p.Apply(defaults)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
