package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/listing-scraper/internal/api"
	"github.com/maltedev/listing-scraper/internal/assets"
	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/events"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/logger"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/storage"
	"github.com/maltedev/listing-scraper/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := profile.NewRegistry()
	if cfg.Crawl.ProfilesFile != "" {
		if err := registry.LoadFile(cfg.Crawl.ProfilesFile); err != nil {
			logger.Error("failed to load profiles", "file", cfg.Crawl.ProfilesFile, "error", err)
			os.Exit(1)
		}
	}

	launcher, err := browser.Launch(cfg.Browser.Driver, cfg.BrowserOptions(), logger)
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer launcher.Close()

	history, err := storage.NewHistoryStore(cfg.Storage.HistoryFile)
	if err != nil {
		logger.Error("failed to open history", "error", err)
		os.Exit(1)
	}

	sinks := []jobs.Sink{
		&jobs.ExportSink{Dir: cfg.Storage.OutputDir, Format: cfg.Storage.Format},
		&jobs.HistorySink{Store: history},
	}
	if cfg.Storage.DownloadImages {
		fetcher := assets.NewFetcher(http.DefaultClient, cfg.Browser.UserAgent, cfg.Storage.ImageTimeout, cfg.Storage.ImageWorkers, logger)
		sinks = append(sinks, &jobs.AssetSink{Fetcher: fetcher, Dir: cfg.Storage.ImageDir})
	}

	var (
		runs        api.RunStore
		outbox      api.OutboxCounter
		redisClient *redis.Client
	)

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.DatabaseConfig())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		sinks = append(sinks, &jobs.PublishSink{Publisher: events.NewPublisher(db, logger)})
		runs = database.NewListingRepository(db)
		outboxRepo := database.NewOutboxRepository(db)
		outbox = outboxRepo

		if cfg.Redis.Enabled {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			relay := database.NewRelay(outboxRepo, redisClient, logger, database.RelayConfig{
				PollInterval: cfg.Redis.RelayInterval,
				BatchSize:    cfg.Redis.RelayBatch,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("relay stopped with error", "error", err)
				}
			}()
		}
	}

	q := queue.NewInMemoryQueue(cfg.Jobs.QueueSize)
	runner := jobs.NewBrowserRunner(launcher, registry, cfg.CrawlerOptions(), logger)
	manager := jobs.NewManager(runner, q, registry, cfg.CrawlerOptions(), logger, sinks...)

	if redisClient != nil && cfg.Redis.RequestStream != "" {
		consumer := stream.NewConsumer(redisClient, manager, stream.Config{
			Stream:   cfg.Redis.RequestStream,
			Group:    cfg.Redis.ConsumerGroup,
			Consumer: cfg.Redis.ConsumerName,
		}, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("stream consumer stopped with error", "error", err)
			}
		}()
	}

	workersDone := make(chan struct{})
	go func() {
		manager.StartWorkers(ctx, cfg.Jobs.Workers)
		close(workersDone)
	}()

	handlers := api.NewHandlers(manager, history, runs, outbox, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}

		q.Close()
		cancel()
	}()

	logger.Info("server starting", "addr", server.Addr, "driver", cfg.Browser.Driver, "workers", cfg.Jobs.Workers)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-workersDone
	logger.Info("server stopped")
}
