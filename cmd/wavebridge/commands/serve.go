package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gibberwallet/wavebridge/internal/api"
	"github.com/gibberwallet/wavebridge/internal/audit"
	"github.com/gibberwallet/wavebridge/internal/auth"
	"github.com/gibberwallet/wavebridge/internal/bridge"
	"github.com/gibberwallet/wavebridge/internal/config"
	"github.com/gibberwallet/wavebridge/internal/driver"
	"github.com/gibberwallet/wavebridge/internal/engine"
	"github.com/gibberwallet/wavebridge/internal/engine/air"
	"github.com/gibberwallet/wavebridge/internal/engine/fake"
	"github.com/gibberwallet/wavebridge/internal/journal"
	"github.com/gibberwallet/wavebridge/internal/logging"
	"github.com/gibberwallet/wavebridge/internal/peer"
	"github.com/gibberwallet/wavebridge/internal/session"
	"github.com/gibberwallet/wavebridge/internal/telemetry"
)

// LoopbackDriverID names the driver whose playback completes without
// reaching any listener.
const LoopbackDriverID = "loopback"

var (
	serveAddr     string
	serveDriver   string
	allowOrigins  []string
	echoPeer      bool
	journalRetain time.Duration
	loopbackPlay  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge to the acoustic modem",
	Long: `Run the HTTP bridge. Host runtimes drive the modem session through
/api/v1 commands and receive events over SSE (/api/v1/events) or
WebSocket (/api/v1/ws).

With --echo-peer an in-process wallet shares the simulated air and
answers transaction requests, so the full request and reply loop can be
exercised without audio hardware.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "", "engine driver active at startup (overrides config)")
	serveCmd.Flags().StringSliceVar(&allowOrigins, "allow-origin", nil, "origin patterns accepted on the WebSocket endpoint")
	serveCmd.Flags().BoolVar(&echoPeer, "echo-peer", false, "run an in-process wallet peer on the simulated air")
	serveCmd.Flags().DurationVar(&journalRetain, "journal-retention", 0, "expire journaled messages after this age (0 keeps them)")
	serveCmd.Flags().DurationVar(&loopbackPlay, "loopback-playback", 250*time.Millisecond, "playback time of the loopback driver")
}

// registerDrivers installs the drivers served by this process. The air
// driver is registered first and is active unless cfg selects another.
func registerDrivers(m *driver.Manager, medium *air.Medium) error {
	if err := m.Register(driver.Driver{
		ID:            air.DriverID,
		Name:          "GGWave over simulated air",
		MinSampleRate: engine.MinSampleRate,
		MaxSampleRate: engine.MaxSampleRate,
		ErrorTable:    air.DriverID,
		Factory:       medium.Factory(),
	}); err != nil {
		return err
	}
	loopback := fake.NewDriver(fake.Options{PlaybackDuration: loopbackPlay})
	return m.Register(driver.Driver{
		ID:            LoopbackDriverID,
		Name:          "Loopback",
		MinSampleRate: engine.MinSampleRate,
		MaxSampleRate: engine.MaxSampleRate,
		Factory:       loopback.Factory(),
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveDriver != "" {
		cfg.Driver = serveDriver
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Pretty)
	log := logging.Component("main")
	log.Info().Str("version", Version).Msg("starting wavebridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	medium := air.NewMedium(air.DefaultTiming())
	drivers := driver.NewManager()
	if err := registerDrivers(drivers, medium); err != nil {
		return fmt.Errorf("register drivers: %w", err)
	}
	if err := drivers.SetActive(cfg.Driver); err != nil {
		return fmt.Errorf("select driver %q: %w", cfg.Driver, err)
	}

	auditLogger, err := audit.NewLogger(cfg.LogDir, audit.DefaultRotation())
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	defer auditLogger.Close()
	log.Info().Str("path", auditLogger.GetFilePath()).Msg("audit log opened")

	sess := session.New(drivers,
		session.WithAuditLogger(auditLogger),
		session.WithOperationTimeout(cfg.Timing.OperationTimeout),
	)
	defer sess.Close()
	drivers.Guard(func() bool { return sess.State().Initialized })

	jopts := journal.Options{Dir: cfg.JournalDir, Retention: journalRetain}
	if cfg.JournalDir == "" {
		jopts.InMemory = true
	}
	j, err := journal.Open(jopts)
	if err != nil {
		return err
	}
	defer j.Close()

	hub := telemetry.NewHub(cfg.Timing,
		telemetry.WithSnapshot(func() map[string]interface{} {
			st := sess.State()
			return map[string]interface{}{
				"initialized":    st.Initialized,
				"listening":      st.Listening,
				"transmitting":   st.Transmitting,
				"activeDriverId": drivers.GetActive(),
			}
		}),
		telemetry.WithOriginPatterns(allowOrigins...),
	)

	b := bridge.New(sess, bridge.MultiSink{hub, j}, bridge.WithDefaults(cfg.Modem))
	defer b.Close()

	opts := []api.Option{
		api.WithDrivers(drivers),
		api.WithJournal(j),
		api.WithAuditLogger(auditLogger),
		api.WithCommandTimeout(cfg.Timing.CommandTimeout),
		api.WithVersion(Version),
	}
	if cfg.Auth.Enabled() {
		vcfg, err := auth.ConfigFromAuth(cfg.Auth)
		if err != nil {
			return err
		}
		verifier, err := auth.NewVerifier(vcfg)
		if err != nil {
			return fmt.Errorf("token verifier: %w", err)
		}
		opts = append(opts, api.WithAuth(auth.NewMiddleware(verifier)))
	} else {
		log.Warn().Msg("no auth configured, API is open to every caller")
	}
	srv := api.NewServer(b, hub, opts...)

	if echoPeer {
		p, err := peer.Start(ctx, session.FactoryProvider{Factory: medium.Factory(), ErrorTable: air.DriverID}, cfg.Modem, peer.Wallet(time.Now))
		if err != nil {
			return err
		}
		defer p.Stop()
	}

	if path := configPath(); path != "" {
		err := config.Watch(ctx, path, func(next *config.Config) {
			logging.SetLevel(next.Log.Level)
			log.Info().Str("level", next.Log.Level).Msg("configuration reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("config watch disabled")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Settle pending commands and end event streams before the server waits
	// for its connections to drain.
	b.Destroy()
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("wavebridge stopped")
	return nil
}
