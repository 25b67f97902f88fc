package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/api"
	"github.com/pricepilot/pricepilot/internal/cache"
	"github.com/pricepilot/pricepilot/internal/catalog"
	"github.com/pricepilot/pricepilot/internal/clickhouse"
	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/fetcher"
	"github.com/pricepilot/pricepilot/internal/firestore"
	"github.com/pricepilot/pricepilot/internal/history"
	"github.com/pricepilot/pricepilot/internal/indexing"
	"github.com/pricepilot/pricepilot/internal/kafka"
	"github.com/pricepilot/pricepilot/internal/observability"
	"github.com/pricepilot/pricepilot/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting price comparison service",
		zap.String("service", cfg.Observability.ServiceName),
	)

	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients
	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("initializing redis: %w", err)
	}
	defer redisCache.Close()
	logger.Info("redis cache initialized")

	catClient, err := catalog.NewClient(cfg.Elasticsearch, cfg.Compare, logger)
	if err != nil {
		return fmt.Errorf("initializing feed catalog: %w", err)
	}
	defer catClient.Close()
	logger.Info("feed catalog client initialized")

	var chClient *clickhouse.Client
	chClient, err = clickhouse.NewClient(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse initialization failed, price series will be unavailable", zap.Error(err))
		chClient = nil
	} else {
		defer chClient.Close()
		if err := chClient.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table creation failed", zap.Error(err))
		}
		logger.Info("clickhouse client initialized")
	}

	var fsClient *firestore.Client
	if cfg.Firestore.ProjectID != "" {
		fsClient, err = firestore.NewClient(ctx, cfg.Firestore, logger)
		if err != nil {
			logger.Warn("firestore initialization failed, hydration will be unavailable", zap.Error(err))
			fsClient = nil
		} else {
			defer fsClient.Close()
			logger.Info("firestore client initialized")
		}
	}

	// Slow fetch detector writes analytics to ClickHouse when present.
	var analyticsWriter observability.AnalyticsWriter
	if chClient != nil {
		analyticsWriter = chClient
	}
	slowFetchDetector := observability.NewSlowFetchDetector(
		cfg.Compare.SlowFetch.WarningThreshold,
		cfg.Compare.SlowFetch.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	// The recent-search list persists in Redis across restarts.
	historyCache := history.NewCache(redisCache, logger)

	liveFetcher := fetcher.New(cfg.Compare, cfg.Sources, logger)
	logger.Info("live sources configured", zap.Strings("sources", liveFetcher.Sources()))

	var seriesStore orchestrator.SeriesStore
	var hydrator orchestrator.Hydrator
	if chClient != nil {
		seriesStore = chClient
	}
	if fsClient != nil {
		hydrator = fsClient
	}

	orch := orchestrator.New(
		liveFetcher, catClient, seriesStore, hydrator, redisCache,
		historyCache, slowFetchDetector, cfg.Compare, logger,
	)

	producer := kafka.NewProducer(cfg.Kafka, logger)
	defer producer.Close()
	orch.SetPublisher(producer)

	// Price update events from the sources flow through Kafka into the
	// feed catalog and the series store.
	streamProcessor := indexing.NewStreamProcessor(
		catClient, chClient, redisCache, cfg.Elasticsearch, logger,
	)
	defer streamProcessor.Stop()

	consumer := kafka.NewConsumer(cfg.Kafka, streamProcessor.HandleEvent, logger)
	if err := consumer.Start(ctx); err != nil {
		logger.Warn("kafka consumer start failed, feed updates will be unavailable", zap.Error(err))
	} else {
		defer consumer.Stop()
		logger.Info("kafka consumer started")
	}

	// Firestore document changes feed the same pipeline.
	if fsClient != nil {
		listener := fsClient.NewChangeListener("products", streamProcessor.HandleEvent)
		go func() {
			if err := listener.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.Error("firestore change listener stopped", zap.Error(err))
			}
		}()
	}

	// Initialize HTTP server
	handler := api.NewHandler(orch, historyCache, logger)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("redis", redisCache)
	healthHandler.RegisterCatalog(catClient)
	if chClient != nil {
		healthHandler.Register("clickhouse", chClient)
	}
	healthHandler.Register("kafka", consumer)

	router := api.NewRouter(handler, healthHandler, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancel()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
