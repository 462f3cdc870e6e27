package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/bridge"
	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/logging"
	"github.com/gibberwallet/wavebridge/internal/session"
	"github.com/gibberwallet/wavebridge/internal/wire"
)

// replyTimeout bounds one stop/transmit/listen cycle.
const replyTimeout = 30 * time.Second

// Peer answers frames heard on its session.
type Peer struct {
	sess    *session.Session
	b       *bridge.Bridge
	respond Responder
	max     int
	inbox   chan string
	log     zerolog.Logger

	mu      sync.Mutex
	replies int

	cancel context.CancelFunc
	done   chan struct{}
}

// Start initializes a session on provider with cfg, starts listening and
// answers frames until ctx ends or Stop is called.
func Start(ctx context.Context, provider session.EngineProvider, cfg engine.Config, respond Responder) (*Peer, error) {
	log := logging.Component("peer")
	sess := session.New(provider, session.WithLogger(log))

	p := &Peer{
		sess:    sess,
		respond: respond,
		max:     cfg.MaxPayload(),
		inbox:   make(chan string, 16),
		log:     log,
		done:    make(chan struct{}),
	}
	p.b = bridge.New(sess, bridge.SinkFunc(p.onEvent), bridge.WithDefaults(cfg), bridge.WithLogger(log))

	if _, err := p.b.Initialize(ctx, engine.Params{}).Await(ctx); err != nil {
		p.close()
		return nil, fmt.Errorf("peer initialize: %w", err)
	}
	if _, err := p.b.StartListening(ctx).Await(ctx); err != nil {
		p.close()
		return nil, fmt.Errorf("peer listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	go p.run(runCtx)

	log.Info().Int("protocolId", cfg.ProtocolID).Msg("peer listening")
	return p, nil
}

// Replies returns how many replies were transmitted.
func (p *Peer) Replies() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replies
}

// Stop ends the peer and releases its session.
func (p *Peer) Stop() {
	p.cancel()
	<-p.done
	p.close()
}

func (p *Peer) close() {
	p.b.Destroy()
	p.b.Close()
	p.sess.Close()
}

// onEvent runs on the session's notification goroutine and must not block.
func (p *Peer) onEvent(name string, body map[string]interface{}) {
	if name != bridge.EventMessageReceived {
		return
	}
	text, _ := body["message"].(string)
	select {
	case p.inbox <- text:
	default:
		p.log.Warn().Msg("peer inbox full, frame dropped")
	}
}

func (p *Peer) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-p.inbox:
			if err := p.answer(ctx, text); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error().Err(err).Msg("reply failed")
			}
		}
	}
}

// answer stops capture, transmits the reply and resumes capture. The modem
// is half-duplex, so the peer cannot hear while it talks.
func (p *Peer) answer(ctx context.Context, text string) error {
	reply, ok := p.pick(text)
	if !ok {
		p.log.Debug().Int("bytes", len(text)).Msg("frame needs no reply")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if _, err := p.b.StopListening(ctx).Await(ctx); err != nil {
		return fmt.Errorf("stop listening: %w", err)
	}
	_, sendErr := p.b.TransmitMessage(ctx, reply).Await(ctx)
	if _, err := p.b.StartListening(ctx).Await(ctx); err != nil {
		return fmt.Errorf("resume listening: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("transmit: %w", sendErr)
	}

	p.mu.Lock()
	p.replies++
	p.mu.Unlock()

	msgType, _ := wire.Peek(reply)
	p.log.Info().Str("messageType", string(msgType)).Int("bytes", len(reply)).Msg("reply sent")
	return nil
}

func (p *Peer) pick(text string) (string, bool) {
	for _, candidate := range p.respond(text) {
		if wire.Fits(candidate, p.max) {
			return candidate, true
		}
	}
	return "", false
}
