package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"proxywatch/internal/api"
	"proxywatch/internal/bandwidth"
	"proxywatch/internal/collector"
	"proxywatch/internal/config"
	"proxywatch/internal/remote"
	"proxywatch/internal/storage"
	"proxywatch/internal/storage/postgres"
	"proxywatch/internal/storage/sqlite"
	"proxywatch/internal/topology"
)

func main() {
	// The main function is the entry point of the application.
	// It's responsible for initializing components, starting the schedulers
	// and the server, and handling graceful shutdown.
	if err := run(); err != nil {
		log.Fatalf("application failed: %v", err)
	}
	log.Println("application shut down gracefully")
}

func run() error {
	// Load application configuration from environment variables.
	cfg := config.Load()

	// Create a context that is canceled on OS signals like SIGINT or SIGTERM.
	// This is the foundation for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the storage layer.
	log.Printf("initializing %s database connection...", cfg.DatabaseDriver)
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore()
	log.Println("database connection successful")

	// The topology provider owns the live IP and group state; everything
	// else reads snapshots of it.
	topo, err := topology.NewFileProvider(cfg.TopologyFile)
	if err != nil {
		return fmt.Errorf("failed to load topology: %w", err)
	}

	prober := remote.NewProber(remote.DefaultTimeout)
	harvester := remote.NewHarvester(remote.DefaultTimeout, cfg.LogPath)
	orch := collector.NewOrchestrator(topo, prober, harvester, store, collector.Credentials{
		User:     cfg.SSHUser,
		Password: cfg.SSHPassword,
		Port:     cfg.SSHPort,
	})
	ingestor := bandwidth.NewIngestor(topo, store, cfg.BandwidthAPIURL)
	aggregator := bandwidth.NewAggregator(topo, store)

	// Initialize the background schedulers and the API server.
	collectSched := collector.NewScheduler("log collection", cfg.CollectInterval, func(ctx context.Context) {
		orch.CollectAll(ctx)
	})
	bandwidthSched := collector.NewScheduler("bandwidth ingestion", cfg.BandwidthInterval, func(ctx context.Context) {
		if _, err := ingestor.Collect(ctx); err != nil {
			log.Printf("bandwidth ingestion cycle failed: %v", err)
		}
	})

	handlers := api.NewHandlers(orch, ingestor, aggregator, store, topo)
	server := api.NewServer(cfg.HTTPPort, cfg.CORSOrigin, handlers)

	// Start the services.
	collectSched.Start()
	if cfg.BandwidthAPIURL != "" {
		bandwidthSched.Start()
	} else {
		log.Println("BANDWIDTH_API_URL not set, bandwidth ingestion runs on demand only")
	}
	server.Start()

	log.Println("application is running...")

	// Block here until the context is canceled (e.g., by pressing Ctrl+C).
	<-ctx.Done()

	// --- Graceful shutdown logic ---
	log.Println("shutdown signal received, starting graceful shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// Stop the schedulers first to prevent new cycles from starting.
	collectSched.Stop()
	if cfg.BandwidthAPIURL != "" {
		bandwidthSched.Stop()
	}

	// Then, shut down the HTTP server, allowing in-flight requests to finish.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}

	return nil
}

// openStore selects the storage backend from configuration.
func openStore(ctx context.Context, cfg *config.Config) (storage.Storer, func(), error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "sqlite":
		store, err := sqlite.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
