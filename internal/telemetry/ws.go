package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame formats for WebSocket subscribers.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// writeTimeout bounds a single WebSocket frame write.
const writeTimeout = 5 * time.Second

// ServeWS upgrades the request and streams events as WebSocket frames:
// JSON text frames by default, or msgpack binary frames with
// ?format=msgpack. Inbound messages are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, req SubscribeRequest) error {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatMsgpack {
		return fmt.Errorf("unsupported format %q", format)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	// CloseRead discards inbound frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	c, err := h.register(ctx, TransportWS, req.LastEventID, req.Filter)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "hub stopped")
		return nil
	}
	defer h.unregister(c)

	send := func(event Event) error {
		if !deliverable(c, event) {
			return nil
		}
		writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		defer cancel()
		return writeFrame(writeCtx, conn, format, event)
	}

	if err := send(h.readyEvent(c)); err != nil {
		return nil
	}
	for _, event := range h.replay(c) {
		if err := send(event); err != nil {
			return nil
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			status := websocket.StatusNormalClosure
			select {
			case <-h.done:
				status = websocket.StatusGoingAway
			default:
			}
			conn.Close(status, "")
			return nil
		case event := <-c.Events:
			if err := send(event); err != nil {
				h.log.Debug().Err(err).Str("client", c.ID).Msg("websocket write failed")
				return nil
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, format string, event Event) error {
	if format == FormatMsgpack {
		b, err := msgpack.Marshal(event)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageBinary, b)
	}
	return wsjson.Write(ctx, conn, event)
}
