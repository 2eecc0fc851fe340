// Embedsyncd keeps a remote vector index consistent with the relational
// records it is derived from, per organization, and serves semantic search
// over the result.
//
// Configuration is loaded from an optional YAML file and overridden by
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults plus environment overrides
//	embedsyncd
//
//	# Start with a config file
//	embedsyncd -config /etc/embedsync/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/trycompai/embedsync/internal/config"
	"github.com/trycompai/embedsync/internal/embeddings"
	"github.com/trycompai/embedsync/internal/httpapi"
	"github.com/trycompai/embedsync/internal/index"
	"github.com/trycompai/embedsync/internal/logging"
	"github.com/trycompai/embedsync/internal/reconcile"
	"github.com/trycompai/embedsync/internal/store"
	"github.com/trycompai/embedsync/internal/telemetry"
	"github.com/trycompai/embedsync/internal/textprep"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("embedsyncd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// run initializes every dependency and blocks until the context is
// cancelled: configuration, logger, telemetry providers, relational store,
// embedding provider, the optional vector index, the reconciliation engine
// and the HTTP server.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = version
	}
	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}()

	db, err := store.New(store.Config{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}

	var idx index.Client
	if cfg.Index.Enabled {
		qdrant, err := index.NewQdrant(index.QdrantConfig{
			Host:           cfg.Index.Host,
			Port:           cfg.Index.Port,
			UseTLS:         cfg.Index.UseTLS,
			CollectionName: cfg.Index.CollectionName,
			VectorSize:     cfg.Index.VectorSize,
			MaxRetries:     cfg.Index.MaxRetries,
			RetryBackoff:   cfg.Index.RetryBackoff,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting to vector index: %w", err)
		}
		defer func() { _ = qdrant.Close() }()
		idx = qdrant
	} else {
		logger.Warn("vector index not configured, sync and search are disabled")
	}

	metrics, err := reconcile.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	engine, err := reconcile.NewEngine(reconcile.Options{
		Collectors: db.Collectors(),
		Index:      idx,
		Embedder:   embedder,
		ChunkOptions: textprep.ChunkOptions{
			SizeTokens:    cfg.Sync.ChunkSizeTokens,
			OverlapTokens: cfg.Sync.ChunkOverlapTokens,
		},
		BatchConcurrency:     cfg.Sync.BatchConcurrency,
		ProbeTopK:            cfg.Sync.ProbeTopK,
		OrgScanTopK:          cfg.Sync.OrgScanTopK,
		VerifyMaxAttempts:    cfg.Sync.VerifyMaxAttempts,
		VerifyInitialBackoff: cfg.Sync.VerifyInitialBackoff,
		MinScore:             float32(cfg.Sync.MinScore),
		Logger:               logger,
		Metrics:              metrics,
	})
	if err != nil {
		return fmt.Errorf("initializing reconciliation engine: %w", err)
	}

	server, err := httpapi.NewServer(engine, db, logger, httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	return nil
}
