package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/config"
	"github.com/gibberwallet/wavebridge/internal/logging"
)

// ErrStopped is returned when subscribing to a stopped hub.
var ErrStopped = errors.New("telemetry hub stopped")

// Event types generated by the hub itself.
const (
	EventReady     = "ready"
	EventHeartbeat = "heartbeat"
)

// Event is one entry of the stream. Hub-generated events carry id 0 and are
// neither buffered nor replayed.
type Event struct {
	ID   int64                  `json:"id,omitempty" msgpack:"id,omitempty"`
	Type string                 `json:"type" msgpack:"type"`
	Data map[string]interface{} `json:"data" msgpack:"data"`
}

// SnapshotFunc supplies the data of the ready event sent to new subscribers.
type SnapshotFunc func() map[string]interface{}

// Client is a registered subscriber.
type Client struct {
	ID        string
	Transport string
	LastID    int64
	Filter    *Filter
	Events    chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// Hub distributes events to subscribers.
//
// Lock ordering: publishMu before mu. The buffer has its own lock and is
// only touched while publishMu is held or for reading.
type Hub struct {
	timing   config.TimingConfig
	log      zerolog.Logger
	snapshot SnapshotFunc
	origins  []string

	// publishMu serializes id assignment with buffering so the ring is in
	// id order.
	publishMu sync.Mutex
	nextID    int64
	buffer    *EventBuffer

	mu            sync.RWMutex
	clients       map[string]*Client
	stopHeartbeat chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithSnapshot sets the ready event source.
func WithSnapshot(f SnapshotFunc) Option {
	return func(h *Hub) { h.snapshot = f }
}

// WithOriginPatterns sets the origins accepted for WebSocket upgrades.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// NewHub creates a hub using the given timing.
func NewHub(timing config.TimingConfig, opts ...Option) *Hub {
	h := &Hub{
		timing:  timing,
		log:     logging.Component("telemetry"),
		buffer:  NewEventBuffer(timing.EventBufferSize),
		clients: make(map[string]*Client),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Emit publishes a bridge event.
func (h *Hub) Emit(name string, body map[string]interface{}) {
	h.Publish(name, body)
}

// Publish assigns the next id, buffers the event and queues it for every
// subscriber. Subscribers whose queue is full miss the event; it stays
// available for replay. Publish never blocks on a subscriber.
func (h *Hub) Publish(eventType string, data map[string]interface{}) Event {
	h.publishMu.Lock()
	h.nextID++
	event := Event{ID: h.nextID, Type: eventType, Data: data}
	h.buffer.AddEvent(event)
	h.publishMu.Unlock()

	eventsPublishedTotal.WithLabelValues(eventType).Inc()
	h.broadcast(event)
	return event
}

// LastID returns the id of the most recent event.
func (h *Hub) LastID() int64 {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	return h.nextID
}

// Buffer exposes the replay ring.
func (h *Hub) Buffer() *EventBuffer {
	return h.buffer
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(event Event) {
	select {
	case <-h.done:
		return
	default:
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-c.ctx.Done():
		case c.Events <- event:
		default:
			eventsDroppedTotal.WithLabelValues(c.Transport).Inc()
			h.log.Debug().Str("client", c.ID).Int64("id", event.ID).Msg("subscriber queue full, event dropped")
		}
	}
}

// register adds a subscriber and starts the heartbeat with the first one.
func (h *Hub) register(ctx context.Context, transport string, lastID int64, filter *Filter) (*Client, error) {
	clientCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		ID:        uuid.NewString(),
		Transport: transport,
		LastID:    lastID,
		Filter:    filter,
		Events:    make(chan Event, h.timing.SubscriberQueue),
		ctx:       clientCtx,
		cancel:    cancel,
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		cancel()
		return nil, ErrStopped
	default:
	}
	h.clients[c.ID] = c
	h.wg.Add(1)
	if h.stopHeartbeat == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	subscribersGauge.WithLabelValues(transport).Inc()
	h.log.Info().Str("client", c.ID).Str("transport", transport).Int64("lastEventId", lastID).
		Str("filter", filter.String()).Msg("subscriber connected")
	return c, nil
}

// unregister removes a subscriber and stops the heartbeat with the last one.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	c.cancel()
	h.wg.Done()
	if len(h.clients) == 0 && h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
	h.mu.Unlock()

	subscribersGauge.WithLabelValues(c.Transport).Dec()
	h.log.Info().Str("client", c.ID).Msg("subscriber disconnected")
}

// readyEvent builds the greeting sent to every new subscriber.
func (h *Hub) readyEvent(c *Client) Event {
	data := map[string]interface{}{
		"clientId": c.ID,
		"lastId":   h.LastID(),
	}
	if h.snapshot != nil {
		data["snapshot"] = h.snapshot()
	}
	return Event{Type: EventReady, Data: data}
}

// replay returns buffered events after the client's last id.
func (h *Hub) replay(c *Client) []Event {
	if c.LastID <= 0 {
		return nil
	}
	return h.buffer.GetEventsAfter(c.LastID)
}

// deliverable reports whether event should be written to c, advancing
// c.LastID. Events already seen through replay are skipped.
func deliverable(c *Client, event Event) bool {
	if event.ID != 0 {
		if event.ID <= c.LastID {
			return false
		}
		c.LastID = event.ID
	}
	if event.Type == EventReady || event.Type == EventHeartbeat {
		return true
	}
	return c.Filter.Match(event)
}

// startHeartbeat runs the heartbeat loop. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	stop := make(chan struct{})
	h.stopHeartbeat = stop
	ticker := time.NewTicker(h.timing.HeartbeatPeriod())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.broadcast(Event{
					Type: EventHeartbeat,
					Data: map[string]interface{}{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects every subscriber, waits for their handlers to return
// and stops the heartbeat. Later subscriptions fail with ErrStopped.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		for _, c := range h.clients {
			c.cancel()
		}
		h.mu.Unlock()

		waitDone := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-time.After(5 * time.Second):
			h.log.Warn().Msg("telemetry goroutines still running after stop")
		}
	})
}
