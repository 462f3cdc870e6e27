// Package air implements an in-process acoustic medium.
//
// Engines created from the same Medium hear each other: a frame played by
// one engine is decoded, after a playback delay, by every other engine on
// the medium that is capturing with the same protocol. While a frame is in
// flight, capturing peers observe a synthetic input level derived from the
// sender's volume.
package air

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/logging"
)

// DriverID is the error table used to normalize air engine failures.
const DriverID = "ggwave"

// Timing of a frame on the medium.
type Timing struct {
	// Preamble is the fixed start/end marker duration.
	Preamble time.Duration
	// BytePeriod is the per-byte airtime at the fastest protocol speed.
	BytePeriod time.Duration
	// LevelInterval is how often peers see a level sample during a frame.
	LevelInterval time.Duration
}

// DefaultTiming approximates audible GGWave airtime.
func DefaultTiming() Timing {
	return Timing{
		Preamble:      120 * time.Millisecond,
		BytePeriod:    12 * time.Millisecond,
		LevelInterval: 50 * time.Millisecond,
	}
}

// MinUltrasoundSampleRate is the lowest rate that can carry ultrasound protocols.
const MinUltrasoundSampleRate = 44100

// Medium is the shared air all engines on it transmit into.
type Medium struct {
	mu      sync.Mutex
	timing  Timing
	engines map[*Engine]struct{}
	log     zerolog.Logger
}

// NewMedium creates an empty medium.
func NewMedium(timing Timing) *Medium {
	if timing.LevelInterval <= 0 {
		timing.LevelInterval = DefaultTiming().LevelInterval
	}
	return &Medium{
		timing:  timing,
		engines: make(map[*Engine]struct{}),
		log:     logging.Component("air"),
	}
}

// Factory returns an engine.Factory whose engines join this medium.
func (m *Medium) Factory() engine.Factory {
	return func(cfg engine.Config, cb engine.Callbacks) (engine.Engine, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if isUltrasound(cfg.ProtocolID) && cfg.SampleRate < MinUltrasoundSampleRate {
			return nil, fmt.Errorf("invalid sample rate %d for ultrasound protocol %d", cfg.SampleRate, cfg.ProtocolID)
		}

		e := &Engine{medium: m, cfg: cfg, cb: cb}

		m.mu.Lock()
		m.engines[e] = struct{}{}
		n := len(m.engines)
		m.mu.Unlock()

		m.log.Debug().Int("protocolId", cfg.ProtocolID).Int("engines", n).Msg("engine joined medium")
		return e, nil
	}
}

// Engines returns how many open engines are on the medium.
func (m *Medium) Engines() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Airtime returns how long text occupies the medium under cfg.
func (m *Medium) Airtime(cfg engine.Config, text string) time.Duration {
	// normal, fast and fastest variants of each family
	speed := 3 - cfg.ProtocolID%3
	return m.timing.Preamble + time.Duration(len(text)*speed)*m.timing.BytePeriod
}

func (m *Medium) leave(e *Engine) {
	m.mu.Lock()
	delete(m.engines, e)
	m.mu.Unlock()
}

func (m *Medium) peers(from *Engine) []*Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Engine, 0, len(m.engines))
	for e := range m.engines {
		if e != from && e.cfg.ProtocolID == from.cfg.ProtocolID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Medium) deliver(from *Engine, text string) {
	heard := 0
	for _, p := range m.peers(from) {
		if p.receive(text) {
			heard++
		}
	}
	m.log.Debug().Int("bytes", len(text)).Int("heard", heard).Msg("frame delivered")
}

func (m *Medium) broadcastLevel(from *Engine, level float32) {
	for _, p := range m.peers(from) {
		p.hear(level)
	}
}

func isUltrasound(protocolID int) bool {
	return protocolID >= 3 && protocolID <= 5
}

type playback struct {
	stop chan struct{}
}

// Engine is one participant on a Medium.
type Engine struct {
	medium *Medium
	cfg    engine.Config
	cb     engine.Callbacks

	mu        sync.Mutex
	capturing bool
	closed    bool
	level     float32
	play      *playback
}

// StartCapture begins listening to the medium.
func (e *Engine) StartCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("audio session not available: engine closed")
	}
	if e.capturing {
		return fmt.Errorf("already capturing")
	}
	e.capturing = true
	return nil
}

// StopCapture stops listening.
func (e *Engine) StopCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capturing = false
	e.level = 0
	return nil
}

// EncodeAndPlay puts text on the medium.
func (e *Engine) EncodeAndPlay(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("audio session not available: engine closed")
	}
	if e.play != nil {
		return fmt.Errorf("already playing")
	}
	if limit := e.cfg.MaxPayload(); len(text) > limit {
		return fmt.Errorf("payload too long: %d bytes, limit %d", len(text), limit)
	}

	p := &playback{stop: make(chan struct{})}
	e.play = p
	go e.run(p, text, e.medium.Airtime(e.cfg, text))
	return nil
}

func (e *Engine) run(p *playback, text string, airtime time.Duration) {
	ticker := time.NewTicker(e.medium.timing.LevelInterval)
	defer ticker.Stop()
	done := time.NewTimer(airtime)
	defer done.Stop()

	amplitude := float32(e.cfg.Volume) / float32(engine.MaxVolume)

	for {
		select {
		case <-p.stop:
			e.medium.broadcastLevel(e, 0)
			return
		case <-ticker.C:
			e.medium.broadcastLevel(e, amplitude*(0.85+0.15*rand.Float32()))
		case <-done.C:
			e.medium.deliver(e, text)
			e.medium.broadcastLevel(e, 0)
			e.finish(p)
			return
		}
	}
}

func (e *Engine) finish(p *playback) {
	e.mu.Lock()
	if e.closed || e.play != p {
		e.mu.Unlock()
		return
	}
	e.play = nil
	cb := e.cb
	e.mu.Unlock()

	cb.PlaybackComplete(true, nil)
}

func (e *Engine) receive(text string) bool {
	e.mu.Lock()
	ok := e.capturing && !e.closed
	cb := e.cb
	e.mu.Unlock()
	if ok {
		cb.Decoded(text)
	}
	return ok
}

func (e *Engine) hear(level float32) {
	e.mu.Lock()
	ok := e.capturing && !e.closed
	if ok {
		e.level = level
	}
	cb := e.cb
	e.mu.Unlock()
	if ok {
		cb.Level(level)
	}
}

// Level returns the last level heard while capturing.
func (e *Engine) Level() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Close leaves the medium and abandons any frame in flight.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.capturing = false
	e.level = 0
	if e.play != nil {
		close(e.play.stop)
		e.play = nil
	}
	e.mu.Unlock()

	e.medium.leave(e)
	return nil
}
