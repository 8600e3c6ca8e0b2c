package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgate/internal/api"
	"chatgate/internal/bus"
	"chatgate/internal/chat"
	"chatgate/internal/config"
	"chatgate/internal/gateway"
	"chatgate/internal/ids"
	"chatgate/internal/logger"
	"chatgate/internal/models"
	"chatgate/internal/observability"
	"chatgate/internal/ratelimit"
	"chatgate/internal/storage"
	"chatgate/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	printVersion = flag.Bool("version", false, "Print version information and exit")
)

const shutdownGrace = 30 * time.Second

func main() {
	flag.Parse()

	info := version.GetInfo()
	if *printVersion {
		fmt.Println(info.String())
		return
	}
	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, info, cfg.Instance)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	slog.Info("Starting chatgate", "build", info.String(), "hostname", info.Hostname)
	err = run(cfg, info)
	if err != nil {
		slog.Error("chatgate stopped with error", "error", err)
	}
	if closer != nil {
		closer.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *models.Config, info version.Info) error {
	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, info, cfg.Instance)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	store, err := initializeStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eventBus, err := initializeBus(cfg)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	// checker stays a nil interface when admission control is off.
	var checker ratelimit.Checker
	if cfg.RateLimits.Enabled {
		limiter, err := ratelimit.NewLimiter(store, cfg.RateLimits)
		if err != nil {
			return fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		checker = limiter
	} else {
		slog.Warn("Rate limiting is disabled")
	}

	generator, err := ids.NewSnowflake(int(cfg.Instance.WorkerID))
	if err != nil {
		return fmt.Errorf("failed to initialize id generator: %w", err)
	}
	chatService := chat.NewService(eventBus, generator, cfg.Messages.MessageLimit)

	manager, err := gateway.NewManager(cfg.Gateway, eventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	gatewayHandler, err := gateway.NewHandler(manager, checker, cfg.Gateway, cfg.Server.TrustProxyHeaders)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway handler: %w", err)
	}

	handlers := api.NewHandlers(chatService, cfg,
		api.WithStore(store),
		api.WithBus(eventBus),
		api.WithSessions(manager),
	)

	var routeOpts []api.RouteOption
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName, cfg.Gateway.Path))
	}
	router := api.SetupRoutes(handlers, gatewayHandler, checker, cfg, routeOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A failed subscription leaves the instance unable to deliver events.
	gatewayErr := make(chan error, 1)
	go func() {
		gatewayErr <- manager.Run(ctx)
	}()

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"gateway_path", cfg.Gateway.Path,
			"store", cfg.Store.Type,
			"bus", cfg.Bus.Type,
			"tls", cfg.Server.TLSEnabled,
		)
		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server")
	case err := <-gatewayErr:
		if err != nil {
			runErr = fmt.Errorf("gateway stopped: %w", err)
		}
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Hijacked gateway connections are not tracked by http.Server.
	manager.Shutdown()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete", "active_sessions", manager.Count())
	return runErr
}

// initializeStore creates the counter store and wraps it with
// instrumentation when metrics are enabled.
func initializeStore(cfg *models.Config) (storage.CounterStore, error) {
	store, err := storage.NewFactory().Create(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return store, nil
	}
	instrumented, err := observability.NewInstrumentedStore(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to instrument store: %w", err)
	}
	return instrumented, nil
}

func initializeBus(cfg *models.Config) (bus.Bus, error) {
	b, err := bus.New(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return b, nil
	}
	instrumented, err := observability.NewInstrumentedBus(b, cfg.Bus.Type)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to instrument event bus: %w", err)
	}
	return instrumented, nil
}
