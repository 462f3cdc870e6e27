package engine

import (
	"context"
)

// Callbacks are invoked by a driver from its own capture/playback goroutine.
// Any of the functions may be nil. Drivers must not invoke a callback from
// inside an Engine method call, and must not hold their own locks while a
// callback runs.
type Callbacks struct {
	// OnDecoded delivers one decoded message, in arrival order.
	OnDecoded func(text string)

	// OnLevel reports the instantaneous input level while capturing.
	OnLevel func(level float32)

	// OnPlaybackComplete fires exactly once per armed EncodeAndPlay call.
	// err is nil when ok is true.
	OnPlaybackComplete func(ok bool, err error)
}

// Decoded calls OnDecoded if set.
func (c Callbacks) Decoded(text string) {
	if c.OnDecoded != nil {
		c.OnDecoded(text)
	}
}

// Level calls OnLevel if set.
func (c Callbacks) Level(level float32) {
	if c.OnLevel != nil {
		c.OnLevel(level)
	}
}

// PlaybackComplete calls OnPlaybackComplete if set.
func (c Callbacks) PlaybackComplete(ok bool, err error) {
	if c.OnPlaybackComplete != nil {
		c.OnPlaybackComplete(ok, err)
	}
}

// Engine is the southbound modem contract.
type Engine interface {
	// StartCapture begins continuous capture and decode.
	StartCapture(ctx context.Context) error

	// StopCapture halts capture. Stopping an idle engine is not an error.
	StopCapture(ctx context.Context) error

	// EncodeAndPlay arms playback of text and returns immediately.
	// ctx bounds arming only. Completion is reported through
	// Callbacks.OnPlaybackComplete.
	EncodeAndPlay(ctx context.Context, text string) error

	// Level returns the most recent input level.
	Level() float32

	// Close releases the engine. A pending playback is abandoned without
	// a completion callback.
	Close() error
}

// Factory constructs an engine for a validated configuration.
// Drivers reject configurations they cannot serve with ErrInvalidConfig.
type Factory func(cfg Config, cb Callbacks) (Engine, error)
