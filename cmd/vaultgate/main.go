package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/relves/vaultgate/internal/config"
	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/internal/storage/memory"
	"github.com/relves/vaultgate/internal/storage/sqlite"
	"github.com/relves/vaultgate/internal/sweeper"
	"github.com/relves/vaultgate/internal/telemetry"
	"github.com/relves/vaultgate/pkg/clock"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/governor"
	"github.com/relves/vaultgate/pkg/metrics"
	"github.com/relves/vaultgate/pkg/server"
	"github.com/relves/vaultgate/pkg/types"
	"github.com/relves/vaultgate/pkg/vault"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.ServiceName, os.Getenv)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	// State persistence: one SQLite database per resource, or memory for tests
	var stores storage.Manager
	switch cfg.Storage {
	case config.StorageMemory:
		stores = memory.NewManager()
		logger.Warn("using in-memory storage, state is lost on exit")
	default:
		stores = sqlite.NewStoreManager(cfg.DataPath)
	}
	defer stores.CloseAll()

	var transferer vault.Transferer = vault.Unavailable{}
	if cfg.TransferURL != "" {
		transferer = vault.NewHTTPClient(cfg.TransferURL,
			vault.WithToken(cfg.TransferToken),
			vault.WithHTTPClient(telemetry.InstrumentClient(nil)),
		)
	} else {
		logger.Warn("TRANSFER_URL not set, transfers will fail")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Every committed event is logged, appended to the resource's audit
	// chain, pushed to live feeds and published to the configured brokers
	chain := events.NewChainSink(func(id types.ResourceID) (events.Appender, error) {
		st, err := stores.LookupStore(id)
		if err != nil {
			return nil, err
		}
		return st, nil
	}, logger)
	hub := events.NewHub()
	sinks := []events.Sink{events.LogSink{Logger: logger}, chain, hub}

	if cfg.RedisAddr != "" {
		client, err := events.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		sinks = append(sinks, events.NewRedisSink(client, events.RedisConfig{Logger: logger}))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := events.NewKafkaSink(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	svc, err := governor.New(governor.Config{
		Stores:   stores,
		Transfer: transferer,
		Clock:    clock.NewMonotonic(clock.System{}),
		Events:   events.Multi(sinks...),
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create governor", "error", err)
		os.Exit(1)
	}

	if err := initResources(ctx, svc, cfg.Resources, logger); err != nil {
		logger.Error("failed to initialize resources", "error", err)
		os.Exit(1)
	}

	sw := sweeper.New(sweeper.Config{
		Interval:  cfg.SweepInterval,
		Retention: cfg.ProposalRetention,
		Logger:    logger,
	}, svc)
	go sw.Run(ctx)

	apiServer, err := server.NewServer(
		server.WithService(svc),
		server.WithGatherer(registry),
		server.WithHub(hub),
		server.WithOriginPatterns(cfg.AllowedOrigins...),
		server.WithLogger(logger),
		server.WithValidator(nil),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	apiServer.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           telemetry.HTTPMiddleware(cfg.ServiceName)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("VAULTGATE Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Storage Backend: %s (%s)\n", cfg.Storage, cfg.DataPath)
	if cfg.TransferURL != "" {
		fmt.Printf("Vault Endpoint: %s\n", cfg.TransferURL)
	} else {
		fmt.Println("Vault Endpoint: none (transfers disabled)")
	}
	fmt.Printf("Configured Resources: %d\n", len(cfg.Resources))
	if cfg.RedisAddr != "" {
		fmt.Printf("Redis Streams: %s (%s<resource>)\n", cfg.RedisAddr, events.DefaultRedisPrefix)
	}
	if len(cfg.KafkaBrokers) > 0 {
		fmt.Printf("Kafka Topic: %s on %d broker(s)\n", cfg.KafkaTopic, len(cfg.KafkaBrokers))
	}
	fmt.Println()
	fmt.Println("Governor API (caller in X-Principal header):")
	fmt.Printf("  POST http://localhost:%s/resources/{id}/proposals\n", cfg.Port)
	fmt.Printf("  POST http://localhost:%s/resources/{id}/proposals/{pid}/approve|cancel|execute\n", cfg.Port)
	fmt.Printf("  POST http://localhost:%s/resources/{id}/config\n", cfg.Port)
	fmt.Printf("  POST http://localhost:%s/resources/{id}/freeze\n", cfg.Port)
	fmt.Printf("  POST http://localhost:%s/resources/{id}/pause/votes|resume|expire\n", cfg.Port)
	fmt.Println()
	fmt.Println("Public state API:")
	fmt.Printf("  GET http://localhost:%s/resources/{id}\n", cfg.Port)
	fmt.Printf("  GET http://localhost:%s/resources/{id}/events\n", cfg.Port)
	fmt.Printf("  GET ws://localhost:%s/resources/{id}/events/stream\n", cfg.Port)
	fmt.Printf("  GET http://localhost:%s/metrics\n", cfg.Port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// initResources creates the configured resources that do not exist yet.
// Existing resources keep their persisted state.
func initResources(ctx context.Context, svc *governor.Service, resources map[types.ResourceID]types.Params, logger *slog.Logger) error {
	ids := make([]types.ResourceID, 0, len(resources))
	for id := range resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		_, err := svc.Init(ctx, id, resources[id])
		switch {
		case err == nil:
			logger.Info("resource initialized", "resource", id, "kind", resources[id].Kind)
		case errors.Is(err, types.ErrAlreadyInitialized):
			logger.Debug("resource already initialized", "resource", id)
		default:
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	return nil
}
