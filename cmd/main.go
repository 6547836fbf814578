package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "heizbox/docs"
	"heizbox/internal/config"
	"heizbox/internal/coordinator"
	"heizbox/internal/handlers"
	"heizbox/internal/logger"
	"heizbox/internal/metrics"
	"heizbox/internal/mqtt"
	"heizbox/internal/repository"
	"heizbox/internal/repository/db"
	"heizbox/internal/server"
	"heizbox/internal/service"
	"heizbox/internal/simulator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

// @title        Heizbox device backend
// @version      1.0
// @description  Per-device state, liveness and heat cycle tracking for heating devices.
// @BasePath     /
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "heizbox",
		Short:         "Heating device backend: live connections, liveness and heat cycles",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := v.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
				return err
			}
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default configs/config.yml)")
	cmd.Flags().StringP("port", "p", "", "HTTP port, overrides config")
	return cmd
}

func run(cfg config.Config) error {
	// init logger
	log := logger.GetWithFormat(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()

	// open DB
	sqlDB, err := openDB(cfg, log)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	state, err := openStateStore(cfg, log)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}
	defer func() {
		if cerr := state.Close(); cerr != nil {
			log.Errorw("failed to close state store", "err", cerr)
		}
	}()

	sessOpts, err := sessionOptions(cfg.Session)
	if err != nil {
		return err
	}

	// wire dependencies
	repos := repository.NewRepository(sqlDB, state)
	services := service.NewService(repos, cfg.Device.DuplicateWindow, sessOpts)

	deps := coordinator.Dependencies{
		Store:      repos.State,
		HeatCycles: services.HeatCycles,
		Sessions:   services.Sessions,
		Metrics:    metrics.New(prometheus.DefaultRegisterer),
		Log:        log,
	}
	if cfg.MQTT.Enabled {
		pub, err := openEventMirror(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		deps.Sink = pub
	}

	registry := coordinator.NewRegistry(deps, coordinator.Options{
		OfflineThreshold:     cfg.Device.OfflineThreshold,
		RecentCycleCacheSize: cfg.Device.RecentCycleCacheSize,
		SessionCacheTTL:      cfg.Device.SessionCacheTTL,
	})
	defer registry.Close()

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	n, err := registry.RestoreAlarms(restoreCtx)
	restoreCancel()
	if err != nil {
		log.Errorw("alarm_restore_failed", "err", err)
	} else {
		log.Infow("alarms_restored", "devices", n)
	}

	apiHandler := handlers.NewHandler(registry, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go registry.RunRetirement(ctx, cfg.Device.IdleRetireAfter)

	if cfg.Simulator.Enabled {
		sim := simulator.New(simulator.Config{
			URL:        cfg.Simulator.URL,
			DeviceID:   cfg.Simulator.DeviceID,
			Tick:       cfg.Simulator.Tick,
			CycleEvery: cfg.Simulator.CycleEvery,
		}, log)
		go sim.Run(ctx)
	}

	// start HTTP server
	srv := server.New(cfg.HTTP)
	serverErr := runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	return waitForShutdown(cancel, srv, serverErr, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg config.Config, log *logger.Logger) (*sql.DB, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "app.db")
		dbPath = "app.db"
	}
	return db.InitDB(dbPath)
}

// openStateStore opens the bbolt file, or process memory when state.path is empty.
func openStateStore(cfg config.Config, log *logger.Logger) (repository.StateStore, error) {
	if cfg.StatePath == "" {
		log.Warnw("state.path not set; device state and alarms will not survive a restart")
		return repository.NewStateMemory(), nil
	}
	return repository.NewStateBolt(cfg.StatePath)
}

// openEventMirror connects the MQTT publisher that mirrors device events.
func openEventMirror(mc config.MQTTConfig, log *logger.Logger) (mqtt.Publisher, error) {
	pub, err := mqtt.NewRealPublisher(mc.Broker, mc.ClientID, mc.TopicPrefix, log)
	if err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}
	log.Infow("mqtt_mirror_enabled", "broker", mc.Broker, "connected", pub.IsConnected())
	return pub, nil
}

func sessionOptions(sc config.SessionConfig) (service.SessionOptions, error) {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return service.SessionOptions{}, fmt.Errorf("session.timezone: %w", err)
	}
	return service.SessionOptions{
		Lookback:            sc.Lookback,
		GroupInterval:       sc.GroupInterval,
		ConsumptionPerCycle: sc.ConsumptionPerCycle,
		Location:            loc,
		DayStartHour:        sc.DayStartHour,
	}, nil
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) <-chan error {
	errc := make(chan error, 1)
	go func() {
		if port == "" {
			port = "8080"
		}
		log.Infow("http_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	return errc
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, serverErr <-chan error, log *logger.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serverErr:
		log.Errorw("error starting server", "err", runErr)
	}

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	return runErr
}
