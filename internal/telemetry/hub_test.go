package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/gibberwallet/wavebridge/internal/config"
)

func testTiming() config.TimingConfig {
	timing := config.LoadTimingBaseline()
	timing.EventBufferSize = 5
	timing.SubscriberQueue = 16
	return timing
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		req, err := ParseSubscribeRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = hub.ServeSSE(w, r, req)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		req, err := ParseSubscribeRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := hub.ServeWS(w, r, req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type sseRecord struct {
	ID    int64
	Event string
	Data  map[string]interface{}
}

// readSSE parses records from body onto a channel until the stream ends.
func readSSE(t *testing.T, body *bufio.Reader) <-chan sseRecord {
	t.Helper()
	out := make(chan sseRecord, 64)
	go func() {
		defer close(out)
		var rec sseRecord
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				out <- rec
				rec = sseRecord{}
			case strings.HasPrefix(line, "id: "):
				rec.ID, _ = strconv.ParseInt(strings.TrimPrefix(line, "id: "), 10, 64)
			case strings.HasPrefix(line, "event: "):
				rec.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec.Data)
			}
		}
	}()
	return out
}

func next(t *testing.T, records <-chan sseRecord) sseRecord {
	t.Helper()
	select {
	case rec, ok := <-records:
		require.True(t, ok, "stream closed")
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseRecord{}
	}
}

func openSSE(t *testing.T, url string, header http.Header) <-chan sseRecord {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	return readSSE(t, bufio.NewReader(resp.Body))
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	hub := NewHub(testTiming())
	defer hub.Stop()

	for i := 1; i <= 8; i++ {
		event := hub.Publish("onAudioLevelChanged", map[string]interface{}{"level": i})
		assert.Equal(t, int64(i), event.ID)
	}
	assert.Equal(t, int64(8), hub.LastID())

	buffered := hub.Buffer().GetEventsAfter(0)
	require.Len(t, buffered, 5)
	assert.Equal(t, int64(4), buffered[0].ID)
	assert.Equal(t, int64(8), buffered[4].ID)
}

func TestEventBuffer(t *testing.T) {
	buf := NewEventBuffer(2)
	assert.Equal(t, 2, buf.GetCapacity())

	buf.AddEvent(Event{ID: 1})
	buf.AddEvent(Event{ID: 2})
	buf.AddEvent(Event{ID: 3})
	assert.Equal(t, 2, buf.GetSize())

	after := buf.GetEventsAfter(2)
	require.Len(t, after, 1)
	assert.Equal(t, int64(3), after[0].ID)
	assert.Empty(t, buf.GetEventsAfter(3))
}

func TestSSEReadyReplayAndLive(t *testing.T) {
	hub := NewHub(testTiming(), WithSnapshot(func() map[string]interface{} {
		return map[string]interface{}{"listening": false}
	}))
	defer hub.Stop()
	srv := newTestServer(t, hub)

	hub.Publish("onListeningStarted", map[string]interface{}{"success": true})
	hub.Publish("onMessageReceived", map[string]interface{}{"message": "a"})
	hub.Publish("onMessageReceived", map[string]interface{}{"message": "b"})

	records := openSSE(t, srv.URL+"/events", http.Header{"Last-Event-ID": []string{"1"}})

	ready := next(t, records)
	assert.Equal(t, EventReady, ready.Event)
	assert.Zero(t, ready.ID)
	assert.Equal(t, float64(3), ready.Data["lastId"])
	assert.Equal(t, map[string]interface{}{"listening": false}, ready.Data["snapshot"])
	assert.NotEmpty(t, ready.Data["clientId"])

	rec := next(t, records)
	assert.Equal(t, int64(2), rec.ID)
	assert.Equal(t, "a", rec.Data["message"])
	rec = next(t, records)
	assert.Equal(t, int64(3), rec.ID)

	waitForClients(t, hub, 1)
	hub.Publish("onListeningStopped", map[string]interface{}{"success": true})
	rec = next(t, records)
	assert.Equal(t, int64(4), rec.ID)
	assert.Equal(t, "onListeningStopped", rec.Event)
}

func TestSSEFilter(t *testing.T) {
	hub := NewHub(testTiming())
	defer hub.Stop()
	srv := newTestServer(t, hub)

	records := openSSE(t, srv.URL+`/events?filter=`+`.type+%3D%3D+%22onError%22`, nil)
	assert.Equal(t, EventReady, next(t, records).Event)
	waitForClients(t, hub, 1)

	hub.Publish("onAudioLevelChanged", map[string]interface{}{"level": 0.5})
	hub.Publish("onError", map[string]interface{}{"code": "BUSY"})

	rec := next(t, records)
	assert.Equal(t, "onError", rec.Event)
	assert.Equal(t, int64(2), rec.ID)
}

func TestSSERejectsBadRequest(t *testing.T) {
	hub := NewHub(testTiming())
	defer hub.Stop()
	srv := newTestServer(t, hub)

	for _, query := range []string{"?filter=.type+%3D%3D", "?lastEventId=abc", "?lastEventId=-3"} {
		resp, err := http.Get(srv.URL + "/events" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestHeartbeat(t *testing.T) {
	timing := testTiming()
	timing.HeartbeatInterval = 20 * time.Millisecond
	timing.HeartbeatJitter = 0
	hub := NewHub(timing)
	defer hub.Stop()
	srv := newTestServer(t, hub)

	records := openSSE(t, srv.URL+"/events?filter=false", nil)
	assert.Equal(t, EventReady, next(t, records).Event)

	// Heartbeats bypass the subscriber filter.
	rec := next(t, records)
	assert.Equal(t, EventHeartbeat, rec.Event)
	assert.Zero(t, rec.ID)
	assert.NotEmpty(t, rec.Data["ts"])
}

func TestWebSocketJSON(t *testing.T) {
	hub := NewHub(testTiming())
	defer hub.Stop()
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var ready Event
	require.NoError(t, wsjson.Read(ctx, conn, &ready))
	assert.Equal(t, EventReady, ready.Type)

	waitForClients(t, hub, 1)
	hub.Emit("onTransmissionCompleted", map[string]interface{}{"success": true})

	var got Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "onTransmissionCompleted", got.Type)
	assert.Equal(t, true, got.Data["success"])
}

func TestWebSocketMsgpack(t *testing.T) {
	hub := NewHub(testTiming())
	defer hub.Stop()
	srv := newTestServer(t, hub)

	hub.Publish("onMessageReceived", map[string]interface{}{"message": "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?format=msgpack&lastEventId=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	typ, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageBinary, typ)
	var ready Event
	require.NoError(t, msgpack.Unmarshal(raw, &ready))
	assert.Equal(t, EventReady, ready.Type)

	// lastEventId=0 means no replay, so publish a live event.
	waitForClients(t, hub, 1)
	hub.Publish("onMessageReceived", map[string]interface{}{"message": "live"})

	_, raw, err = conn.Read(ctx)
	require.NoError(t, err)
	var got Event
	require.NoError(t, msgpack.Unmarshal(raw, &got))
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, "live", got.Data["message"])
}

func TestWebSocketRejectsUnknownFormat(t *testing.T) {
	hub := NewHub(testTiming())
	defer hub.Stop()
	srv := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/ws?format=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	timing := testTiming()
	timing.SubscriberQueue = 1
	hub := NewHub(timing)
	defer hub.Stop()

	c, err := hub.register(context.Background(), "test", 0, nil)
	require.NoError(t, err)
	defer hub.unregister(c)

	before := testutil.ToFloat64(eventsDroppedTotal.WithLabelValues("test"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			hub.Publish("onAudioLevelChanged", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Len(t, c.Events, 1)
	assert.Equal(t, before+2, testutil.ToFloat64(eventsDroppedTotal.WithLabelValues("test")))
	// Dropped events remain available for replay.
	assert.Len(t, hub.Buffer().GetEventsAfter(1), 2)
}

func TestStopDisconnectsSubscribers(t *testing.T) {
	hub := NewHub(testTiming())
	srv := newTestServer(t, hub)

	records := openSSE(t, srv.URL+"/events", nil)
	assert.Equal(t, EventReady, next(t, records).Event)
	waitForClients(t, hub, 1)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	select {
	case _, ok := <-records:
		assert.False(t, ok, "stream should end after stop")
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after stop")
	}

	_, err := hub.register(context.Background(), TransportSSE, 0, nil)
	assert.ErrorIs(t, err, ErrStopped)
	hub.Stop()
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		event Event
		want  bool
	}{
		{"empty passes", "", Event{Type: "x"}, true},
		{"type equality", `.type == "onError"`, Event{Type: "onError"}, true},
		{"type mismatch", `.type == "onError"`, Event{Type: "onMessageReceived"}, false},
		{"data field", `.data.level > 0.5`, Event{Data: map[string]interface{}{"level": float32(0.75)}}, true},
		{"missing field is null", `.data.missing`, Event{Data: map[string]interface{}{}}, false},
		{"runtime error", `.data.message | tonumber`, Event{Data: map[string]interface{}{"message": "hi"}}, false},
		{"empty output", `empty`, Event{Type: "x"}, false},
		{"id range", `.id > 2`, Event{ID: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.event))
			assert.Equal(t, tt.expr, f.String())
		})
	}

	_, err := ParseFilter(".type ==")
	assert.Error(t, err)
}
