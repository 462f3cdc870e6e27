// Package fake provides an in-memory modem engine for tests.
//
// The fake never touches audio hardware. Decoded messages and levels are
// injected by the test; playback completes after a configurable delay or
// when the test calls CompletePlayback.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gibberwallet/wavebridge/internal/engine"
)

// Operations that can be made to fail.
const (
	OpCapture  = "capture"
	OpPlayback = "playback"
	OpComplete = "complete"
)

// Options configure a Driver.
type Options struct {
	// PlaybackDuration auto-completes playback after the delay. Zero means
	// playback stays pending until CompletePlayback is called.
	PlaybackDuration time.Duration

	// Protocols restricts the supported protocol ids. Empty means all.
	Protocols []int

	// ConstructError makes the factory reject every configuration.
	ConstructError error
}

// Driver builds fake engines and keeps track of them for inspection.
type Driver struct {
	mu      sync.Mutex
	opts    Options
	engines []*Engine
}

// NewDriver creates a fake driver.
func NewDriver(opts Options) *Driver {
	return &Driver{opts: opts}
}

// Factory returns an engine.Factory bound to this driver.
func (d *Driver) Factory() engine.Factory {
	return func(cfg engine.Config, cb engine.Callbacks) (engine.Engine, error) {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.opts.ConstructError != nil {
			return nil, d.opts.ConstructError
		}
		if !d.supports(cfg.ProtocolID) {
			return nil, fmt.Errorf("%w: protocol %d not supported by fake driver", engine.ErrInvalidConfig, cfg.ProtocolID)
		}

		e := newEngine(cfg, cb, d.opts.PlaybackDuration)
		d.engines = append(d.engines, e)
		return e, nil
	}
}

// SetConstructError changes the construction failure at runtime.
func (d *Driver) SetConstructError(err error) {
	d.mu.Lock()
	d.opts.ConstructError = err
	d.mu.Unlock()
}

// Last returns the most recently constructed engine, or nil.
func (d *Driver) Last() *Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.engines) == 0 {
		return nil
	}
	return d.engines[len(d.engines)-1]
}

// Count returns how many engines were constructed.
func (d *Driver) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.engines)
}

func (d *Driver) supports(protocolID int) bool {
	if len(d.opts.Protocols) == 0 {
		return true
	}
	for _, p := range d.opts.Protocols {
		if p == protocolID {
			return true
		}
	}
	return false
}

// Engine implements engine.Engine in memory.
type Engine struct {
	mu  sync.Mutex
	cfg engine.Config
	cb  engine.Callbacks

	playbackDuration time.Duration

	capturing bool
	playing   bool
	closed    bool
	level     float32
	playSeq   uint64
	timer     *time.Timer

	transmitted []string
	failures    map[string]string
}

func newEngine(cfg engine.Config, cb engine.Callbacks, playback time.Duration) *Engine {
	return &Engine{
		cfg:              cfg,
		cb:               cb,
		playbackDuration: playback,
		failures:         make(map[string]string),
	}
}

// StartCapture begins capture.
func (e *Engine) StartCapture(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("UNAVAILABLE: engine closed")
	}
	if errType, ok := e.failures[OpCapture]; ok {
		return simulatedError(errType)
	}
	if e.capturing {
		return fmt.Errorf("BUSY: already capturing")
	}
	e.capturing = true
	return nil
}

// StopCapture halts capture.
func (e *Engine) StopCapture(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.capturing = false
	e.level = 0
	return nil
}

// EncodeAndPlay arms playback of text.
func (e *Engine) EncodeAndPlay(ctx context.Context, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("UNAVAILABLE: engine closed")
	}
	if errType, ok := e.failures[OpPlayback]; ok {
		return simulatedError(errType)
	}
	if e.playing {
		return fmt.Errorf("BUSY: playback in progress")
	}
	if len(text) > e.cfg.MaxPayload() {
		return fmt.Errorf("PAYLOAD_TOO_LONG: %d bytes exceeds %d", len(text), e.cfg.MaxPayload())
	}

	e.playing = true
	e.playSeq++
	e.transmitted = append(e.transmitted, text)

	if e.playbackDuration > 0 {
		seq := e.playSeq
		e.timer = time.AfterFunc(e.playbackDuration, func() {
			e.finish(seq, true, nil)
		})
	}
	return nil
}

// CompletePlayback finishes the pending playback. A simulated completion
// failure (see SetErrorSimulation with OpComplete) overrides ok.
// It reports whether a playback was pending.
func (e *Engine) CompletePlayback(ok bool, err error) bool {
	e.mu.Lock()
	seq := e.playSeq
	pending := e.playing && !e.closed
	e.mu.Unlock()
	if !pending {
		return false
	}
	return e.finish(seq, ok, err)
}

func (e *Engine) finish(seq uint64, ok bool, err error) bool {
	e.mu.Lock()
	if e.closed || !e.playing || seq != e.playSeq {
		e.mu.Unlock()
		return false
	}
	if errType, fail := e.failures[OpComplete]; fail {
		ok = false
		err = simulatedError(errType)
	}
	if !ok && err == nil {
		err = fmt.Errorf("INTERNAL: playback failed")
	}
	if ok {
		err = nil
	}
	e.playing = false
	e.timer = nil
	cb := e.cb
	e.mu.Unlock()

	cb.PlaybackComplete(ok, err)
	return true
}

// Level returns the last injected level.
func (e *Engine) Level() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Close releases the engine and abandons any pending playback.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.closed = true
	e.capturing = false
	e.playing = false
	e.level = 0
	return nil
}

// InjectDecoded delivers text as if it had been decoded from the air.
// It reports whether capture was running.
func (e *Engine) InjectDecoded(text string) bool {
	e.mu.Lock()
	capturing := e.capturing && !e.closed
	cb := e.cb
	e.mu.Unlock()
	if !capturing {
		return false
	}
	cb.Decoded(text)
	return true
}

// InjectLevel sets the input level and reports it while capturing.
func (e *Engine) InjectLevel(level float32) bool {
	e.mu.Lock()
	capturing := e.capturing && !e.closed
	if capturing {
		e.level = level
	}
	cb := e.cb
	e.mu.Unlock()
	if !capturing {
		return false
	}
	cb.Level(level)
	return true
}

// SetErrorSimulation makes op fail with the given normalized code.
func (e *Engine) SetErrorSimulation(op, errorType string) {
	e.mu.Lock()
	e.failures[op] = errorType
	e.mu.Unlock()
}

// DisableErrorSimulation clears all simulated failures.
func (e *Engine) DisableErrorSimulation() {
	e.mu.Lock()
	e.failures = make(map[string]string)
	e.mu.Unlock()
}

// Capturing reports whether capture is running.
func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capturing
}

// Playing reports whether a playback is pending.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Transmitted returns every text passed to EncodeAndPlay.
func (e *Engine) Transmitted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.transmitted))
	copy(out, e.transmitted)
	return out
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() engine.Config {
	return e.cfg
}

func simulatedError(errorType string) error {
	switch errorType {
	case "INVALID_CONFIG":
		return fmt.Errorf("INVALID_CONFIG: simulated config error")
	case "BUSY":
		return fmt.Errorf("BUSY: simulated busy error")
	case "UNAVAILABLE":
		return fmt.Errorf("UNAVAILABLE: simulated unavailable error")
	case "PAYLOAD_TOO_LONG":
		return fmt.Errorf("PAYLOAD_TOO_LONG: simulated payload error")
	case "INTERNAL":
		return fmt.Errorf("INTERNAL: simulated internal error")
	default:
		return fmt.Errorf("INTERNAL: unknown simulated error")
	}
}
