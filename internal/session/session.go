package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/logging"
)

// CancelledMessage is the completion error reported for a transmission
// abandoned by Cleanup.
const CancelledMessage = "transmission cancelled"

// State is a snapshot of the session flags.
type State struct {
	Initialized  bool    `json:"initialized"`
	Listening    bool    `json:"listening"`
	Transmitting bool    `json:"transmitting"`
	AudioLevel   float32 `json:"audioLevel"`
}

// Session is the audio session adapter. All methods are safe for
// concurrent use.
type Session struct {
	mu sync.Mutex

	provider  EngineProvider
	audit     AuditLogger
	log       zerolog.Logger
	opTimeout time.Duration

	notify *notifier
	reg    *registration

	cfg        engine.Config
	eng        engine.Engine
	errorTable string
	// gen identifies the current engine; callbacks from older engines are dropped.
	gen   uint64
	state State
}

// Option configures a Session.
type Option func(*Session)

// WithAuditLogger sets the audit logger.
func WithAuditLogger(a AuditLogger) Option {
	return func(s *Session) { s.audit = a }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithOperationTimeout bounds each engine call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Session) { s.opTimeout = d }
}

// New creates an uninitialized session.
func New(provider EngineProvider, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		log:      logging.Component("session"),
		notify:   newNotifier(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe registers o as the session observer, replacing any previous one.
// The returned release detaches o; notifications not yet delivered to it
// are skipped. A nil observer only suppresses notifications.
func (s *Session) Observe(o Observer) (release func()) {
	reg := &registration{obs: o}

	s.mu.Lock()
	old := s.reg
	s.reg = reg
	s.mu.Unlock()

	if old != nil {
		old.released.Store(true)
	}

	return func() {
		reg.released.Store(true)
		s.mu.Lock()
		if s.reg == reg {
			s.reg = nil
		}
		s.mu.Unlock()
	}
}

// Initialize creates the engine for cfg.
func (s *Session) Initialize(ctx context.Context, cfg engine.Config) error {
	start := time.Now()
	params := map[string]interface{}{
		"sampleRate":    cfg.SampleRate,
		"payloadLength": cfg.PayloadLength,
		"protocolId":    cfg.ProtocolID,
		"volume":        cfg.Volume,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Initialized {
		return s.fail(ctx, "initialize", params, fmt.Errorf("%w: call cleanup first", engine.ErrAlreadyInitialized), start)
	}
	if err := cfg.Validate(); err != nil {
		return s.fail(ctx, "initialize", params, err, start)
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, "initialize", params, engine.NormalizeEngineError(err, nil), start)
	}

	s.gen++
	eng, table, err := s.provider.NewEngine(cfg, s.callbacks(s.gen))
	if err != nil {
		return s.fail(ctx, "initialize", params, constructError(err, table), start)
	}

	s.eng = eng
	s.errorTable = table
	s.cfg = cfg
	s.state = State{Initialized: true}

	s.succeed(ctx, "initialize", params, start)
	s.notify.push(s.reg, func(o Observer) { o.Initialized(cfg) })
	return nil
}

// constructError keeps availability failures and reports every other
// construction failure as a configuration rejection.
func constructError(err error, table string) error {
	normalized := engine.NormalizeEngineErrorWithDriver(err, nil, table)
	if errors.Is(normalized, engine.ErrUnavailable) ||
		errors.Is(normalized, engine.ErrCancelled) ||
		errors.Is(normalized, engine.ErrInvalidConfig) {
		return normalized
	}
	return &engine.EngineError{Code: engine.ErrInvalidConfig, Original: err}
}

// StartListening begins capture.
func (s *Session) StartListening(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.state.Initialized:
		return s.fail(ctx, "startListening", nil, engine.ErrNotInitialized, start)
	case s.state.Transmitting:
		return s.fail(ctx, "startListening", nil, fmt.Errorf("%w: transmission in progress", engine.ErrHalfDuplex), start)
	case s.state.Listening:
		return s.fail(ctx, "startListening", nil, fmt.Errorf("%w: already listening", engine.ErrBusy), start)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.eng.StartCapture(opCtx); err != nil {
		return s.fail(ctx, "startListening", nil, engine.NormalizeEngineErrorWithDriver(err, nil, s.errorTable), start)
	}

	s.state.Listening = true
	boolGauge(listeningGauge, true)

	s.succeed(ctx, "startListening", nil, start)
	s.notify.push(s.reg, func(o Observer) { o.ListeningStarted(true) })
	return nil
}

// StopListening halts capture.
func (s *Session) StopListening(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.state.Initialized:
		return s.fail(ctx, "stopListening", nil, engine.ErrNotInitialized, start)
	case !s.state.Listening:
		return s.fail(ctx, "stopListening", nil, engine.ErrNotListening, start)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.eng.StopCapture(opCtx); err != nil {
		return s.fail(ctx, "stopListening", nil, engine.NormalizeEngineErrorWithDriver(err, nil, s.errorTable), start)
	}

	s.state.Listening = false
	boolGauge(listeningGauge, false)

	s.succeed(ctx, "stopListening", nil, start)
	s.notify.push(s.reg, func(o Observer) { o.ListeningStopped(true) })
	return nil
}

// TransmitMessage arms playback of text. Exactly one TransmissionCompleted
// notification follows a successful call.
func (s *Session) TransmitMessage(ctx context.Context, text string) error {
	start := time.Now()
	params := map[string]interface{}{"bytes": len(text)}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.state.Initialized:
		return s.fail(ctx, "transmitMessage", params, engine.ErrNotInitialized, start)
	case s.state.Listening:
		return s.fail(ctx, "transmitMessage", params, fmt.Errorf("%w: stop listening before transmitting", engine.ErrHalfDuplex), start)
	case s.state.Transmitting:
		return s.fail(ctx, "transmitMessage", params, fmt.Errorf("%w: transmission in progress", engine.ErrBusy), start)
	case text == "":
		return s.fail(ctx, "transmitMessage", params, fmt.Errorf("%w: empty message", engine.ErrInvalidRange), start)
	case len(text) > s.cfg.MaxPayload():
		return s.fail(ctx, "transmitMessage", params,
			fmt.Errorf("%w: %d bytes exceeds %d", engine.ErrPayloadTooLong, len(text), s.cfg.MaxPayload()), start)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.eng.EncodeAndPlay(opCtx, text); err != nil {
		return s.fail(ctx, "transmitMessage", params, engine.NormalizeEngineErrorWithDriver(err, nil, s.errorTable), start)
	}

	s.state.Transmitting = true
	boolGauge(transmittingGauge, true)

	s.succeed(ctx, "transmitMessage", params, start)
	s.notify.push(s.reg, func(o Observer) { o.TransmissionStarted(true) })
	return nil
}

// AudioLevel returns the last observed input level, or 0.
func (s *Session) AudioLevel() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Initialized {
		return 0
	}
	return s.state.AudioLevel
}

// Cleanup stops capture, cancels a pending transmission and releases the
// engine. It is idempotent.
func (s *Session) Cleanup() {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Initialized {
		return
	}

	ctx, cancel := s.opContext(context.Background())
	defer cancel()

	if s.state.Listening {
		if err := s.eng.StopCapture(ctx); err != nil {
			s.log.Warn().Err(err).Msg("stop capture during cleanup failed")
		}
		s.notify.push(s.reg, func(o Observer) { o.ListeningStopped(true) })
	}
	if s.state.Transmitting {
		transmissionsTotal.WithLabelValues("cancelled").Inc()
		s.notify.push(s.reg, func(o Observer) { o.TransmissionCompleted(false, CancelledMessage) })
	}
	if err := s.eng.Close(); err != nil {
		s.log.Warn().Err(err).Msg("engine close failed")
	}

	s.gen++
	s.eng = nil
	s.errorTable = ""
	s.state = State{}
	boolGauge(listeningGauge, false)
	boolGauge(transmittingGauge, false)
	audioLevelGauge.Set(0)

	s.succeed(ctx, "cleanup", nil, start)
}

// State returns a snapshot of the session flags.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the active configuration and whether the session is
// initialized.
func (s *Session) Config() (engine.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.state.Initialized
}

// Flush blocks until every notification queued before the call has been
// delivered. It must not be called from an observer.
func (s *Session) Flush(ctx context.Context) error {
	return s.notify.flush(ctx)
}

// Close cleans up and stops notification delivery. Notifications queued
// before Close are still delivered.
func (s *Session) Close() {
	s.Cleanup()
	s.notify.close()
}

func (s *Session) callbacks(gen uint64) engine.Callbacks {
	return engine.Callbacks{
		OnDecoded:          func(text string) { s.onDecoded(gen, text) },
		OnLevel:            func(level float32) { s.onLevel(gen, level) },
		OnPlaybackComplete: func(ok bool, err error) { s.onPlaybackComplete(gen, ok, err) },
	}
}

func (s *Session) onDecoded(gen uint64, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.state.Listening {
		s.log.Debug().Uint64("gen", gen).Msg("dropping decoded message from inactive engine")
		return
	}
	messagesReceivedTotal.Inc()
	s.log.Debug().Int("bytes", len(text)).Msg("message received")
	s.notify.push(s.reg, func(o Observer) { o.MessageReceived(text) })
}

func (s *Session) onLevel(gen uint64, level float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.state.Listening {
		return
	}
	s.state.AudioLevel = level
	audioLevelGauge.Set(float64(level))
	s.notify.push(s.reg, func(o Observer) { o.AudioLevelChanged(level) })
}

func (s *Session) onPlaybackComplete(gen uint64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || !s.state.Transmitting {
		s.log.Debug().Uint64("gen", gen).Msg("dropping playback completion from inactive engine")
		return
	}
	s.state.Transmitting = false
	boolGauge(transmittingGauge, false)

	if ok {
		transmissionsTotal.WithLabelValues("ok").Inc()
		s.log.Info().Msg("transmission completed")
		s.notify.push(s.reg, func(o Observer) { o.TransmissionCompleted(true, "") })
		return
	}

	if err == nil {
		err = errors.New("playback failed")
	}
	normalized := engine.NormalizeEngineErrorWithDriver(err, nil, s.errorTable)
	transmissionsTotal.WithLabelValues("failed").Inc()
	s.log.Warn().Err(normalized).Msg("transmission failed")

	msg := normalized.Error()
	s.notify.push(s.reg, func(o Observer) { o.TransmissionCompleted(false, msg) })
	s.notify.push(s.reg, func(o Observer) { o.Error(normalized) })
}

func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

// fail records a failed operation and queues its Error notification.
// Callers hold s.mu.
func (s *Session) fail(ctx context.Context, op string, params map[string]interface{}, err error, start time.Time) error {
	code := codeOf(err)
	latency := time.Since(start)

	recordOperation(op, err)
	s.logAudit(ctx, op, params, code, latency)
	s.log.Warn().Str("op", op).Str("code", code).Err(err).Dur("latency", latency).Msg("operation failed")

	s.notify.push(s.reg, func(o Observer) { o.Error(err) })
	return err
}

// succeed records a successful operation. Callers hold s.mu.
func (s *Session) succeed(ctx context.Context, op string, params map[string]interface{}, start time.Time) {
	latency := time.Since(start)
	recordOperation(op, nil)
	s.logAudit(ctx, op, params, "", latency)
	s.log.Info().Str("op", op).Dur("latency", latency).Msg("operation completed")
}

func (s *Session) logAudit(ctx context.Context, action string, params map[string]interface{}, code string, latency time.Duration) {
	if s.audit != nil {
		s.audit.LogAction(ctx, action, params, code, latency)
	}
}

func codeOf(err error) string {
	return engine.Code(err)
}
