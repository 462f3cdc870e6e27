package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/logging"
	"github.com/gibberwallet/wavebridge/internal/session"
	"github.com/gibberwallet/wavebridge/internal/wire"
)

// Session is the adapter surface the bridge drives.
type Session interface {
	Observe(o session.Observer) (release func())
	Initialize(ctx context.Context, cfg engine.Config) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	TransmitMessage(ctx context.Context, text string) error
	AudioLevel() float32
	State() session.State
	Cleanup()
	Flush(ctx context.Context) error
}

// Compile-time assertion that session.Session implements Session
var _ Session = (*session.Session)(nil)

// flushTimeout bounds how long Destroy waits for cleanup notifications.
const flushTimeout = 2 * time.Second

type command string

const (
	cmdInitialize     command = "initialize"
	cmdStartListening command = "startListening"
	cmdStopListening  command = "stopListening"
	cmdTransmit       command = "transmitMessage"
)

// Bridge turns session calls into promises and notifications into events.
type Bridge struct {
	sess     Session
	sink     EventSink
	defaults engine.Config
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[command]*Promise
	closed  bool
	release func()
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithDefaults sets the configuration used for omitted initialize fields.
func WithDefaults(cfg engine.Config) Option {
	return func(b *Bridge) { b.defaults = cfg }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New creates a bridge and registers it as the session observer.
func New(sess Session, sink EventSink, opts ...Option) *Bridge {
	b := &Bridge{
		sess:     sess,
		sink:     sink,
		defaults: engine.DefaultConfig(),
		log:      logging.Component("bridge"),
		pending:  make(map[command]*Promise),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.release = sess.Observe(relay{b: b})
	return b
}

// Initialize resolves once the session reports Initialized.
func (b *Bridge) Initialize(ctx context.Context, params engine.Params) *Promise {
	cfg := params.Apply(b.defaults)
	return b.action(cmdInitialize, func() error {
		return b.sess.Initialize(ctx, cfg)
	})
}

// StartListening resolves once capture has started.
func (b *Bridge) StartListening(ctx context.Context) *Promise {
	return b.action(cmdStartListening, func() error {
		return b.sess.StartListening(ctx)
	})
}

// StopListening resolves once capture has stopped.
func (b *Bridge) StopListening(ctx context.Context) *Promise {
	return b.action(cmdStopListening, func() error {
		return b.sess.StopListening(ctx)
	})
}

// TransmitMessage resolves when playback completes, and rejects with
// TRANSMISSION_FAILED when it completes unsuccessfully.
func (b *Bridge) TransmitMessage(ctx context.Context, text string) *Promise {
	return b.action(cmdTransmit, func() error {
		return b.sess.TransmitMessage(ctx, text)
	})
}

// IsListeningState resolves immediately.
func (b *Bridge) IsListeningState() *Promise {
	return Resolved(Result{"listening": b.sess.State().Listening})
}

// IsTransmittingState resolves immediately.
func (b *Bridge) IsTransmittingState() *Promise {
	return Resolved(Result{"transmitting": b.sess.State().Transmitting})
}

// GetAudioLevel resolves immediately.
func (b *Bridge) GetAudioLevel() *Promise {
	return Resolved(Result{"level": b.sess.AudioLevel()})
}

// State returns the session snapshot.
func (b *Bridge) State() session.State {
	return b.sess.State()
}

// Destroy rejects every pending command, cleans the session up and waits
// for the cleanup notifications to drain. It must not be called from an
// EventSink.
func (b *Bridge) Destroy() *Promise {
	b.rejectPending("destroyed")

	b.sess.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := b.sess.Flush(ctx); err != nil {
		b.log.Warn().Err(err).Msg("cleanup notifications not drained")
	}
	return Resolved(Result{"destroyed": true})
}

// Close detaches the bridge from the session. Pending commands are
// rejected with DESTROYED, and so is every later action command, since no
// notification can settle them anymore.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.rejectPending("closed")
	if b.release != nil {
		b.release()
	}
}

// rejectPending rejects and forgets every pending command.
func (b *Bridge) rejectPending(reason string) {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[command]*Promise)
	b.mu.Unlock()

	for cmd, p := range pending {
		if p.reject(NewError(CodeDestroyed, "bridge "+reason+" while "+string(cmd)+" was pending")) {
			b.log.Debug().Str("command", string(cmd)).Msg("pending command rejected")
		}
	}
}

// action registers a waiter for cmd and runs call. A synchronous failure
// rejects the waiter at once.
func (b *Bridge) action(cmd command, call func() error) *Promise {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Rejected(NewError(CodeDestroyed, "bridge closed"))
	}
	if _, busy := b.pending[cmd]; busy {
		b.mu.Unlock()
		return Rejected(&BridgeError{
			Code:    engine.ErrBusy.Error(),
			Message: string(cmd) + " already pending",
			cause:   engine.ErrBusy,
		})
	}
	p := newPromise()
	b.pending[cmd] = p
	b.mu.Unlock()

	if err := call(); err != nil {
		b.take(cmd, p)
		p.reject(err)
	}
	return p
}

// take removes the waiter for cmd. When want is non-nil it is only removed
// if it is still the registered waiter.
func (b *Bridge) take(cmd command, want *Promise) *Promise {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[cmd]
	if !ok || (want != nil && p != want) {
		return nil
	}
	delete(b.pending, cmd)
	return p
}

func (b *Bridge) resolve(cmd command, r Result) {
	if p := b.take(cmd, nil); p != nil {
		p.resolve(r)
	}
}

func (b *Bridge) reject(cmd command, err error) {
	if p := b.take(cmd, nil); p != nil {
		p.reject(err)
	}
}

func (b *Bridge) emit(name string, body map[string]interface{}) {
	if b.sink == nil {
		return
	}
	b.sink.Emit(name, body)
}

// relay receives session notifications on the bridge's behalf. Waiters are
// settled before the matching event is emitted, so a host reacting to the
// event can issue the same command again.
type relay struct {
	b *Bridge
}

var _ session.Observer = relay{}

func (r relay) Initialized(cfg engine.Config) {
	r.b.resolve(cmdInitialize, Result{"initialized": true, "config": cfg})
	r.b.emit(EventInitialized, map[string]interface{}{"config": cfg})
}

func (r relay) MessageReceived(text string) {
	body := map[string]interface{}{"message": text}
	msgType, isEnvelope := wire.Peek(text)
	if isEnvelope {
		body["messageType"] = string(msgType)
	}
	r.b.emit(EventMessageReceived, body)

	if isEnvelope && msgType == wire.TypeConnect {
		r.b.connectionEstablished(text)
	}
}

func (r relay) ListeningStarted(ok bool) {
	r.b.resolve(cmdStartListening, Result{"success": ok})
	r.b.emit(EventListeningStarted, map[string]interface{}{"success": ok})
}

func (r relay) ListeningStopped(ok bool) {
	r.b.resolve(cmdStopListening, Result{"success": ok})
	r.b.emit(EventListeningStopped, map[string]interface{}{"success": ok})
}

func (r relay) TransmissionStarted(ok bool) {
	r.b.emit(EventTransmissionStarted, map[string]interface{}{"success": ok})
}

func (r relay) TransmissionCompleted(ok bool, errMsg string) {
	if ok {
		r.b.resolve(cmdTransmit, Result{"success": true})
	} else {
		r.b.reject(cmdTransmit, NewError(CodeTransmissionFailed, errMsg))
	}

	body := map[string]interface{}{"success": ok}
	if !ok {
		body["error"] = errMsg
	}
	r.b.emit(EventTransmissionCompleted, body)
}

func (r relay) AudioLevelChanged(level float32) {
	r.b.emit(EventAudioLevelChanged, map[string]interface{}{"level": level})
}

func (r relay) Error(err error) {
	be := FromError(err)
	r.b.emit(EventError, map[string]interface{}{"code": be.Code, "error": be.Message})
}

// connectionEstablished reports a dApp handshake carried in a connect frame.
func (b *Bridge) connectionEstablished(text string) {
	msg, err := wire.Decode(text)
	if err != nil {
		return
	}
	var c wire.ConnectMessage
	if err := msg.Payload(&c); err != nil {
		b.log.Debug().Err(err).Msg("ignoring malformed connect payload")
		return
	}
	b.log.Info().Str("app", c.AppName).Str("version", c.AppVersion).Str("chainId", c.ChainID).Msg("peer connected")
	b.emit(EventConnectionEstablished, map[string]interface{}{
		"appName":    c.AppName,
		"appVersion": c.AppVersion,
		"chainId":    c.ChainID,
	})
}
