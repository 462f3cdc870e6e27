package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gibberwallet/wavebridge/internal/auth"
)

const apiV1 = "/api/v1"

// RegisterRoutes registers all v1 endpoints and /metrics.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(apiV1+"/health", allow(http.MethodGet, s.handleHealth))
	mux.Handle("/metrics", promhttp.Handler())

	s.route(mux, http.MethodGet, "/capabilities", auth.ScopeRead, s.handleCapabilities)

	if s.drivers != nil {
		s.route(mux, http.MethodGet, "/drivers", auth.ScopeRead, s.handleDrivers)
		s.route(mux, http.MethodPost, "/drivers/select", auth.ScopeControl, s.handleSelectDriver)
	}

	s.route(mux, http.MethodGet, "/session", auth.ScopeRead, s.handleSessionState)
	s.route(mux, http.MethodPost, "/session/initialize", auth.ScopeControl, s.handleInitialize)
	s.route(mux, http.MethodPost, "/session/listen/start", auth.ScopeControl, s.handleStartListening)
	s.route(mux, http.MethodPost, "/session/listen/stop", auth.ScopeControl, s.handleStopListening)
	s.route(mux, http.MethodPost, "/session/transmit", auth.ScopeControl, s.handleTransmit)
	s.route(mux, http.MethodPost, "/session/destroy", auth.ScopeControl, s.handleDestroy)
	s.route(mux, http.MethodGet, "/session/listening", auth.ScopeRead, s.handleIsListening)
	s.route(mux, http.MethodGet, "/session/transmitting", auth.ScopeRead, s.handleIsTransmitting)
	s.route(mux, http.MethodGet, "/session/audio-level", auth.ScopeRead, s.handleAudioLevel)

	if s.journal != nil {
		s.route(mux, http.MethodGet, "/messages", auth.ScopeRead, s.handleMessages)
		s.route(mux, http.MethodGet, "/messages/{id}", auth.ScopeRead, s.handleMessage)
	}

	s.route(mux, http.MethodGet, "/events", auth.ScopeEvents, s.handleEvents)
	s.route(mux, http.MethodGet, "/ws", auth.ScopeEvents, s.handleWebSocket)
}

// route registers an authenticated endpoint that accepts one method.
func (s *Server) route(mux *http.ServeMux, method, path, scope string, h http.HandlerFunc) {
	mux.HandleFunc(apiV1+path, allow(method, s.authMiddleware.Require(scope)(h)))
}

// allow rejects other methods before authentication runs.
func allow(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only "+method+" method is allowed", nil)
			return
		}
		next(w, r)
	}
}
