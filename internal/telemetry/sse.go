package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Transport names used in metrics and logs.
const (
	TransportSSE = "sse"
	TransportWS  = "ws"
)

// SubscribeRequest carries the subscription parameters common to both
// transports.
type SubscribeRequest struct {
	LastEventID int64
	Filter      *Filter
}

// ParseSubscribeRequest reads Last-Event-ID (header, or the lastEventId
// query parameter for clients that cannot set headers) and the jq filter
// query parameter.
func ParseSubscribeRequest(r *http.Request) (SubscribeRequest, error) {
	var req SubscribeRequest

	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID = r.URL.Query().Get("lastEventId")
	}
	if lastID != "" {
		id, err := strconv.ParseInt(lastID, 10, 64)
		if err != nil || id < 0 {
			return req, fmt.Errorf("invalid Last-Event-ID %q", lastID)
		}
		req.LastEventID = id
	}

	filter, err := ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		return req, err
	}
	req.Filter = filter
	return req, nil
}

// ServeSSE streams events to w until the request ends or the hub stops.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, req SubscribeRequest) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported by response writer")
	}

	c, err := h.register(r.Context(), TransportSSE, req.LastEventID, req.Filter)
	if err != nil {
		return err
	}
	defer h.unregister(c)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event Event) error {
		if !deliverable(c, event) {
			return nil
		}
		if err := writeSSE(w, event); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(h.readyEvent(c)); err != nil {
		return err
	}
	for _, event := range h.replay(c) {
		if err := send(event); err != nil {
			return err
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case event := <-c.Events:
			if err := send(event); err != nil {
				h.log.Debug().Err(err).Str("client", c.ID).Msg("sse write failed")
				return nil
			}
		}
	}
}

// writeSSE formats one event as a Server-Sent Events record.
func writeSSE(w io.Writer, event Event) error {
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}
	return nil
}
