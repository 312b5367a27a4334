// Package main wires together the catalog crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mahaon-tools/catalog-crawler/internal/api"
	archivegcs "github.com/mahaon-tools/catalog-crawler/internal/archive/gcs"
	archivelocal "github.com/mahaon-tools/catalog-crawler/internal/archive/local"
	archivememory "github.com/mahaon-tools/catalog-crawler/internal/archive/memory"
	"github.com/mahaon-tools/catalog-crawler/internal/cancel"
	"github.com/mahaon-tools/catalog-crawler/internal/catalog"
	"github.com/mahaon-tools/catalog-crawler/internal/clock/system"
	"github.com/mahaon-tools/catalog-crawler/internal/config"
	"github.com/mahaon-tools/catalog-crawler/internal/extractor"
	collyfetcher "github.com/mahaon-tools/catalog-crawler/internal/fetcher/colly"
	"github.com/mahaon-tools/catalog-crawler/internal/hash/sha256"
	"github.com/mahaon-tools/catalog-crawler/internal/id/uuid"
	"github.com/mahaon-tools/catalog-crawler/internal/logging"
	"github.com/mahaon-tools/catalog-crawler/internal/metrics"
	"github.com/mahaon-tools/catalog-crawler/internal/orchestrator"
	pubsubpublisher "github.com/mahaon-tools/catalog-crawler/internal/publisher/pubsub"
	storagememory "github.com/mahaon-tools/catalog-crawler/internal/storage/memory"
	"github.com/mahaon-tools/catalog-crawler/internal/storage/postgres"
	"github.com/mahaon-tools/catalog-crawler/internal/walker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sessions catalog.SessionStore
		products catalog.ProductStore
	)
	if cfg.DB.DSN != "" {
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}, logger.Named("postgres"))
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema bootstrap failed", zap.Error(err))
		}
		sessions, products = store, store
	} else {
		logger.Warn("db.dsn not set, using in-memory stores")
		sessions = storagememory.NewSessionStore(system.New())
		products = storagememory.NewProductStore()
	}

	pageArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	var publisher catalog.Publisher
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer client.Close()
		publisher, err = pubsubpublisher.New(client)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	walk := walker.New(fetcher, walker.Config{}, logger.Named("walker"))
	extract := extractor.New(extractor.Config{}, logger.Named("extractor"))
	source := extractor.NewSource(fetcher, extractor.SourceConfig{BaseURL: cfg.Site.BaseURL}, logger.Named("source"))

	runner := orchestrator.NewRunner(orchestrator.RunnerDeps{
		Fetcher:   fetcher,
		Extractor: extract,
		Source:    source,
		Walker:    walk,
		Sessions:  sessions,
		Products:  products,
		Archive:   pageArchive,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		Metrics:   metrics.New(registry),
		Logger:    logger.Named("runner"),
	}, orchestrator.Config{
		ConfirmThreshold: cfg.Crawler.ConfirmThreshold,
		ItemDelay:        cfg.ItemDelay(),
		MaxPagesDefault:  cfg.Crawler.MaxPagesDefault,
		EventTopic:       cfg.PubSub.TopicName,
		ArchivePages:     pageArchive != nil,
	})

	service := orchestrator.NewService(runner, sessions, cancel.NewRegistry(), uuid.New(), logger.Named("service"))
	defer service.Close()

	apiServer := api.NewServer(service, registry, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (catalog.Archive, error) {
	switch cfg.Archive.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return archivememory.New(), nil
	case "local":
		return archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}
