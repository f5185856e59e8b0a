package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/stuartshay/campus-nav/internal/config"
	"github.com/stuartshay/campus-nav/internal/database"
	"github.com/stuartshay/campus-nav/internal/directory"
	grpcserver "github.com/stuartshay/campus-nav/internal/grpc"
	"github.com/stuartshay/campus-nav/internal/location"
	"github.com/stuartshay/campus-nav/internal/metricslog"
	"github.com/stuartshay/campus-nav/internal/navigation"
	"github.com/stuartshay/campus-nav/internal/server"
	"github.com/stuartshay/campus-nav/internal/session"
	"github.com/stuartshay/campus-nav/internal/tracing"
)

const (
	serviceNamespace = "campus"
	serviceVersion   = "0.1.0"

	singleFixTimeout = 10 * time.Second
	metricsBuffer    = 256
)

func main() {
	// Initialize structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Msg("Starting campus-nav service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("grpc_port", cfg.GRPCPort).
		Str("http_port", cfg.HTTPPort).
		Str("directory_backend", cfg.DirectoryBackend).
		Bool("mock_location", cfg.Navigation.MockLocationEnabled).
		Msg("Configuration loaded")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Service failed")
	}

	log.Info().Msg("Service shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:      cfg.ServiceName,
		ServiceNamespace: serviceNamespace,
		ServiceVersion:   serviceVersion,
		Environment:      cfg.Environment,
		OTLPEndpoint:     cfg.OTELEndpoint,
		Enabled:          cfg.TracingEnabled,
		DirectoryBackend: cfg.DirectoryBackend,
		LocationSources:  locationSources(cfg),
		MockLocation:     cfg.Navigation.MockLocationEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracer")
		}
	}()

	dir, closeStore, err := openDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	g, gctx := errgroup.WithContext(ctx)

	source := openProviders(gctx, g, cfg)

	var sink metricslog.Sink = metricslog.Nop{}
	if cfg.MetricsLogEnabled {
		csvSink := metricslog.NewCSV(cfg.MetricsLogPath, log.Logger)
		async := metricslog.NewAsync(csvSink, metricsBuffer, log.Logger)
		sink = async
		defer func() {
			if err := async.Shutdown(5 * time.Second); err != nil {
				log.Error().Err(err).Msg("Failed to flush metrics log")
			}
			if err := csvSink.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close metrics log")
			}
		}()
		log.Info().Str("path", cfg.MetricsLogPath).Msg("Metrics log enabled")
	}

	navCfg := cfg.NavigationConfig()
	registry := session.NewRegistry(func(logger zerolog.Logger) (*navigation.Engine, error) {
		return navigation.New(navCfg, source, sink, logger)
	}, cfg.MaxSessions, log.Logger)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcserver.RegisterNavigationServiceServer(grpcServer, grpcserver.NewServer(registry, dir))

	// Register health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to create TCP listener: %w", err)
	}

	g.Go(func() error {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC server listening")
		return grpcServer.Serve(listener)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received, gracefully stopping...")
		healthServer.Shutdown()

		// Ending sessions closes WatchState streams and WebSocket clients,
		// which GracefulStop would otherwise wait on.
		if err := registry.Shutdown(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown navigation sessions")
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-time.After(30 * time.Second):
			log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
			grpcServer.Stop()
		case <-stopped:
			log.Info().Msg("gRPC server stopped")
		}
		return nil
	})

	httpServer := server.New(registry, cfg.ServiceName, log.Logger)
	httpServer.SetDirectory(dir)
	if cfg.MetricsLogEnabled {
		httpServer.SetMetricsLog(cfg.MetricsLogPath)
	}
	g.Go(func() error {
		return httpServer.Run(gctx, fmt.Sprintf(":%s", cfg.HTTPPort))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// openDirectory builds the room directory on the configured backend and
// seeds it from the rooms CSV when the store is empty.
func openDirectory(ctx context.Context, cfg *config.Config) (*directory.Directory, func(), error) {
	var (
		store     directory.Store
		closeFunc = func() {}
	)

	switch cfg.DirectoryBackend {
	case config.BackendPostgres:
		dbClient, err := database.NewClient(cfg.DatabaseDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database client: %w", err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := dbClient.HealthCheck(checkCtx); err != nil {
			_ = dbClient.Close()
			return nil, nil, fmt.Errorf("database health check failed: %w", err)
		}
		if err := dbClient.Migrate(checkCtx); err != nil {
			_ = dbClient.Close()
			return nil, nil, err
		}

		log.Info().Str("db_host", cfg.PostgresHost).Str("db_port", cfg.PostgresPort).Msg("Database connection established")
		store = dbClient
		closeFunc = func() { _ = dbClient.Close() }
	default:
		store = directory.NewMemory()
	}

	dir := directory.New(store, log.Logger)

	if cfg.RoomsCSVPath != "" {
		if _, err := os.Stat(cfg.RoomsCSVPath); err == nil {
			n, err := dir.ImportCSVFile(ctx, cfg.RoomsCSVPath)
			if err != nil {
				closeFunc()
				return nil, nil, err
			}
			log.Info().Int("rooms", n).Str("path", cfg.RoomsCSVPath).Msg("Room directory imported")
		} else {
			log.Warn().Str("path", cfg.RoomsCSVPath).Msg("Rooms CSV not found, directory starts empty")
		}
	}

	return dir, closeFunc, nil
}

// openProviders starts the configured live location feeds. The serial
// reader runs in g and stops with ctx.
func openProviders(ctx context.Context, g *errgroup.Group, cfg *config.Config) *location.Multi {
	var providers []location.Provider

	if port := cfg.Providers.GPSSerialPort; port != "" {
		gps := location.NewNMEA(location.NMEAConfig{
			PortPath: port,
			BaudRate: cfg.Providers.GPSBaudRate,
		}, log.Logger)
		g.Go(func() error { return gps.Run(ctx) })
		providers = append(providers, gps)
	}

	if broker := cfg.Providers.MQTTBroker; broker != "" {
		network := location.NewMQTT(location.MQTTConfig{
			Broker:   broker,
			Topic:    cfg.Providers.MQTTTopic,
			ClientID: cfg.Providers.MQTTClientID,
		}, log.Logger)
		if err := network.Connect(); err != nil {
			log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection failed, retrying in background")
		}
		g.Go(func() error {
			<-ctx.Done()
			network.Close()
			return nil
		})
		providers = append(providers, network)
	}

	if len(providers) == 0 && !cfg.Navigation.MockLocationEnabled {
		log.Warn().Msg("No location provider configured")
	}

	source := location.NewMulti(log.Logger, singleFixTimeout, providers...)
	source.SetRescanInterval(cfg.NavigationConfig().ProviderRetryInterval)
	return source
}

// locationSources names the live feeds openProviders will start
func locationSources(cfg *config.Config) []string {
	var sources []string
	if cfg.Providers.GPSSerialPort != "" {
		sources = append(sources, location.ProviderGPS)
	}
	if cfg.Providers.MQTTBroker != "" {
		sources = append(sources, location.ProviderNetwork)
	}
	return sources
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", level).Msg("Log level set")
}
