package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gibberwallet/wavebridge/internal/bridge"
	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/journal"
	"github.com/gibberwallet/wavebridge/internal/session"
	"github.com/gibberwallet/wavebridge/internal/telemetry"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]bool{
		"bridge":  s.bridge != nil,
		"events":  s.events != nil,
		"journal": s.journal != nil,
		"drivers": s.drivers != nil,
	}
	health := map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    s.version,
		"subsystems": subsystems,
	}
	if s.bridge == nil || s.events == nil {
		health["status"] = "degraded"
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"One or more subsystems are unavailable", health)
		return
	}
	health["session"] = s.bridge.State()
	health["subscribers"] = s.events.ClientCount()
	WriteSuccess(w, health)
}

// handleCapabilities handles GET /capabilities
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"version":    s.version,
		"events":     bridge.SupportedEvents,
		"transports": []string{telemetry.TransportSSE, telemetry.TransportWS},
		"formats":    []string{telemetry.FormatJSON, telemetry.FormatMsgpack},
		"protocols":  engine.Protocols,
		"defaults":   engine.DefaultConfig(),
		"journal":    s.journal != nil,
		"auth":       s.authMiddleware.Enabled(),
	})
}

// handleDrivers handles GET /drivers
func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.drivers.List())
}

// handleSelectDriver handles POST /drivers/select
func (s *Server) handleSelectDriver(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID string `json:"driverId"`
	}
	if err := decodeStrict(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.DriverID == "" {
		WriteError(w, http.StatusBadRequest, bridge.CodeBadRequest, "driverId is required", nil)
		return
	}

	start := time.Now()
	err := s.drivers.SetActive(req.DriverID)
	if s.audit != nil {
		code := ""
		if err != nil {
			code = ToAPIError(err).Code
		}
		s.audit.LogAction(r.Context(), "selectDriver", map[string]interface{}{"driverId": req.DriverID}, code, time.Since(start))
	}
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	s.log.Info().Str("driver", req.DriverID).Msg("active driver selected")
	WriteSuccess(w, map[string]string{"activeDriverId": req.DriverID})
}

// handleSessionState handles GET /session
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, s.bridge.State())
}

// handleInitialize handles POST /session/initialize. An empty body takes
// every field from the configured defaults.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var params engine.Params
	if err := decodeStrict(r, &params); err != nil && !errors.Is(err, errEmptyBody) {
		writeDecodeError(w, err)
		return
	}
	s.respond(w, r, s.bridge.Initialize(commandContext(r), params))
}

// handleStartListening handles POST /session/listen/start
func (s *Server) handleStartListening(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.bridge.StartListening(commandContext(r)))
}

// handleStopListening handles POST /session/listen/stop
func (s *Server) handleStopListening(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.bridge.StopListening(commandContext(r)))
}

type transmitRequest struct {
	Message string `json:"message"`
}

// handleTransmit handles POST /session/transmit. The response is written
// once playback completes; the journal entry is settled even when the
// request gives up waiting first.
func (s *Server) handleTransmit(w http.ResponseWriter, r *http.Request) {
	var req transmitRequest
	if err := decodeStrict(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := commandContext(r)
	var entryID string
	if s.journal != nil {
		entry, err := s.journal.RecordOutbound(ctx, req.Message)
		if err != nil {
			s.log.Warn().Err(err).Msg("transmission not journaled")
		} else {
			entryID = entry.ID
		}
	}

	p := s.bridge.TransmitMessage(ctx, req.Message)
	if entryID != "" {
		go s.settleJournal(entryID, p)
	}

	result, err := s.await(r.Context(), p)
	if err != nil {
		apiErr := ToAPIError(err)
		var details interface{}
		if entryID != "" {
			details = map[string]string{"id": entryID}
		}
		WriteError(w, apiErr.StatusCode, apiErr.Code, apiErr.Message, details)
		return
	}
	data := map[string]interface{}{}
	for k, v := range result {
		data[k] = v
	}
	if entryID != "" {
		data["id"] = entryID
	}
	WriteSuccess(w, data)
}

func (s *Server) settleJournal(id string, p *bridge.Promise) {
	<-p.Done()
	status, errMsg := journal.StatusSent, ""
	if _, err := p.Await(context.Background()); err != nil {
		be := bridge.FromError(err)
		status, errMsg = journal.StatusFailed, be.Error()
		if be.Code == bridge.CodeDestroyed || be.Message == session.CancelledMessage {
			status = journal.StatusCancelled
		}
	}
	if _, err := s.journal.Settle(context.Background(), id, status, errMsg); err != nil {
		s.log.Warn().Err(err).Str("id", id).Msg("journal entry not settled")
	}
}

// handleDestroy handles POST /session/destroy
func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.bridge.Destroy())
}

// handleIsListening handles GET /session/listening
func (s *Server) handleIsListening(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.bridge.IsListeningState())
}

// handleIsTransmitting handles GET /session/transmitting
func (s *Server) handleIsTransmitting(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.bridge.IsTransmittingState())
}

// handleAudioLevel handles GET /session/audio-level
func (s *Server) handleAudioLevel(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.bridge.GetAudioLevel())
}

// handleMessages handles GET /messages?after=&limit=&direction=
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, bridge.CodeBadRequest, err.Error(), nil)
		return
	}
	entries, err := s.journal.List(r.Context(), q)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	var next uint64
	if n := len(entries); n > 0 {
		next = entries[n-1].Seq
	}
	WriteSuccess(w, map[string]interface{}{"items": entries, "next": next})
}

// handleMessage handles GET /messages/{id}
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	entry, err := s.journal.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, entry)
}

func parseQuery(r *http.Request) (journal.Query, error) {
	var q journal.Query
	values := r.URL.Query()
	if v := values.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return q, errors.New("after must be a non-negative integer")
		}
		q.After = after
	}
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > journal.MaxLimit {
			return q, errors.New("limit must be between 1 and " + strconv.Itoa(journal.MaxLimit))
		}
		q.Limit = limit
	}
	switch d := journal.Direction(values.Get("direction")); d {
	case "", journal.Inbound, journal.Outbound:
		q.Direction = d
	default:
		return q, errors.New("direction must be rx or tx")
	}
	return q, nil
}

// handleEvents handles GET /events (SSE)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	req, err := telemetry.ParseSubscribeRequest(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, bridge.CodeBadRequest, err.Error(), nil)
		return
	}
	if err := s.events.ServeSSE(w, r, req); err != nil {
		if errors.Is(err, telemetry.ErrStopped) {
			WriteError(w, http.StatusServiceUnavailable, engine.ErrUnavailable.Error(), "Event stream is shutting down", nil)
			return
		}
		s.log.Error().Err(err).Msg("SSE subscription failed")
		WriteError(w, http.StatusInternalServerError, engine.ErrInternal.Error(), "Failed to subscribe to event stream", nil)
	}
}

// handleWebSocket handles GET /ws
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	req, err := telemetry.ParseSubscribeRequest(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, bridge.CodeBadRequest, err.Error(), nil)
		return
	}
	if f := r.URL.Query().Get("format"); f != "" && f != telemetry.FormatJSON && f != telemetry.FormatMsgpack {
		WriteError(w, http.StatusBadRequest, bridge.CodeBadRequest, "format must be json or msgpack", nil)
		return
	}
	// Accept has already answered the request when it fails.
	if err := s.events.ServeWS(w, r, req); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket subscription ended")
	}
}

// respond waits for p and writes its result.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, p *bridge.Promise) {
	result, err := s.await(r.Context(), p)
	if err != nil {
		WriteAPIError(w, err)
		return
	}
	WriteSuccess(w, result)
}

func (s *Server) await(ctx context.Context, p *bridge.Promise) (bridge.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	result, err := p.Await(ctx)
	if err != nil {
		apiErr := ToAPIError(err)
		if apiErr.StatusCode >= http.StatusInternalServerError {
			s.log.Error().Err(err).Str("code", apiErr.Code).Msg("command failed")
		}
		return nil, err
	}
	if result == nil {
		result = bridge.Result{}
	}
	return result, nil
}

// commandContext keeps the caller's identity for the audit log but not its
// cancellation: a command outlives a client that disconnects mid-flight.
func commandContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errEmptyBody) {
		WriteError(w, http.StatusBadRequest, bridge.CodeBadRequest, "Request body is required", nil)
		return
	}
	WriteAPIError(w, err)
}
