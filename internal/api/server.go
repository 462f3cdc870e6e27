package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gibberwallet/wavebridge/internal/auth"
	"github.com/gibberwallet/wavebridge/internal/logging"
)

// Defaults for Server.
const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultVersion        = "dev"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	bridge         BridgePort
	events         EventsPort
	drivers        DriverPort
	journal        JournalPort
	audit          AuditLogger
	authMiddleware *auth.Middleware
	log            zerolog.Logger

	commandTimeout time.Duration
	readTimeout    time.Duration
	idleTimeout    time.Duration
	version        string
	startTime      time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAuth protects routes with m.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) { s.authMiddleware = m }
}

// WithDrivers enables the driver routes.
func WithDrivers(d DriverPort) Option {
	return func(s *Server) { s.drivers = d }
}

// WithJournal records transmissions and enables the message routes.
func WithJournal(j JournalPort) Option {
	return func(s *Server) { s.journal = j }
}

// WithAuditLogger records driver selection.
func WithAuditLogger(a AuditLogger) Option {
	return func(s *Server) { s.audit = a }
}

// WithCommandTimeout bounds how long a command request waits for its
// promise to settle.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.commandTimeout = d
		}
	}
}

// WithTimeouts sets the HTTP read-header and idle timeouts.
func WithTimeouts(read, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.idleTimeout = idle
	}
}

// WithVersion sets the version reported by health and capabilities.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a new API server.
func NewServer(b BridgePort, events EventsPort, opts ...Option) *Server {
	s := &Server{
		bridge:         b,
		events:         events,
		authMiddleware: auth.NewMiddleware(nil),
		log:            logging.Component("api"),
		commandTimeout: DefaultCommandTimeout,
		readTimeout:    10 * time.Second,
		idleTimeout:    120 * time.Second,
		version:        DefaultVersion,
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	// No WriteTimeout: event streams stay open for the life of the client.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readTimeout,
		IdleTimeout:       s.idleTimeout,
	}

	s.log.Info().Str("addr", addr).Bool("auth", s.authMiddleware.Enabled()).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server. Event streams must be ended
// first, by stopping the hub, or Stop waits for ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
