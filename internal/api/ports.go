package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gibberwallet/wavebridge/internal/bridge"
	"github.com/gibberwallet/wavebridge/internal/driver"
	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/journal"
	"github.com/gibberwallet/wavebridge/internal/session"
	"github.com/gibberwallet/wavebridge/internal/telemetry"
)

// BridgePort is the command surface the API drives.
type BridgePort interface {
	Initialize(ctx context.Context, params engine.Params) *bridge.Promise
	StartListening(ctx context.Context) *bridge.Promise
	StopListening(ctx context.Context) *bridge.Promise
	TransmitMessage(ctx context.Context, text string) *bridge.Promise
	IsListeningState() *bridge.Promise
	IsTransmittingState() *bridge.Promise
	GetAudioLevel() *bridge.Promise
	Destroy() *bridge.Promise
	State() session.State
}

// EventsPort streams bridge events to subscribers.
type EventsPort interface {
	ServeSSE(w http.ResponseWriter, r *http.Request, req telemetry.SubscribeRequest) error
	ServeWS(w http.ResponseWriter, r *http.Request, req telemetry.SubscribeRequest) error
	ClientCount() int
}

// DriverPort lists and selects engine drivers.
type DriverPort interface {
	List() *driver.DriverList
	SetActive(driverID string) error
}

// JournalPort records transmitted messages and serves the history.
type JournalPort interface {
	RecordOutbound(ctx context.Context, text string) (journal.Entry, error)
	Settle(ctx context.Context, id string, status journal.Status, errMsg string) (journal.Entry, error)
	Get(ctx context.Context, id string) (journal.Entry, error)
	List(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// AuditLogger records operations the session does not see.
type AuditLogger interface {
	LogAction(ctx context.Context, action string, params map[string]interface{}, code string, latency time.Duration)
}

// Compile-time assertions for port conformance
var (
	_ BridgePort  = (*bridge.Bridge)(nil)
	_ EventsPort  = (*telemetry.Hub)(nil)
	_ DriverPort  = (*driver.Manager)(nil)
	_ JournalPort = (*journal.Journal)(nil)
)
