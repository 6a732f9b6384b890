package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maltedev/listing-scraper/internal/assets"
	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/crawler"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/events"
	"github.com/maltedev/listing-scraper/internal/logger"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		startURL     = flag.String("url", "", "Listing page URL to crawl")
		profileName  = flag.String("profile", cfg.Crawl.Profile, "Site profile name or \"auto\"")
		profilesFile = flag.String("profiles", cfg.Crawl.ProfilesFile, "YAML file with extra site profiles")
		maxPages     = flag.Int("pages", cfg.Crawl.MaxPages, "Maximum pages to visit")
		maxRecords   = flag.Int("max-records", cfg.Crawl.MaxRecords, "Stop after this many records (0 = unlimited)")
		pagination   = flag.Bool("pagination", cfg.Crawl.Pagination, "Follow next-page links")
		pageWait     = flag.Duration("wait", cfg.Crawl.PageLoadWait, "Page load wait")
		format       = flag.String("format", cfg.Storage.Format, "Output format: json or csv")
		outputDir    = flag.String("out", cfg.Storage.OutputDir, "Output directory")
		images       = flag.Bool("images", cfg.Storage.DownloadImages, "Download product images")
		driver       = flag.String("driver", cfg.Browser.Driver, "Browser driver: playwright or chromedp")
		headless     = flag.Bool("headless", cfg.Browser.Headless, "Run browser in headless mode")
		persist      = flag.Bool("persist", cfg.Database.Enabled, "Store the result in Postgres and enqueue its event")
		listProfiles = flag.Bool("list-profiles", false, "Print the available profiles and exit")
	)
	flag.Parse()

	cfg.Crawl.Profile = *profileName
	cfg.Crawl.ProfilesFile = *profilesFile
	cfg.Crawl.MaxPages = *maxPages
	cfg.Crawl.MaxRecords = *maxRecords
	cfg.Crawl.Pagination = *pagination
	cfg.Crawl.PageLoadWait = *pageWait
	cfg.Storage.Format = *format
	cfg.Storage.OutputDir = *outputDir
	cfg.Storage.DownloadImages = *images
	cfg.Browser.Driver = *driver
	cfg.Browser.Headless = *headless
	cfg.Database.Enabled = *persist
	// The relay runs in listing-api; the CLI only writes the outbox.
	cfg.Redis.Enabled = false
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	registry := profile.NewRegistry()
	if cfg.Crawl.ProfilesFile != "" {
		if err := registry.LoadFile(cfg.Crawl.ProfilesFile); err != nil {
			logger.Error("Failed to load profiles", "file", cfg.Crawl.ProfilesFile, "error", err)
			os.Exit(1)
		}
	}

	if *listProfiles {
		for _, name := range registry.Names() {
			fmt.Println(name)
		}
		return
	}

	if *startURL == "" {
		fmt.Println("Please provide a listing URL with -url")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	result, err := crawl(ctx, cfg, registry, *startURL, logger)
	if err != nil {
		logger.Error("Crawl failed", "error", err)
		os.Exit(1)
	}

	if err := export(ctx, cfg, result, logger); err != nil {
		logger.Error("Failed to save result", "error", err)
		os.Exit(1)
	}

	printSummary(result)
}

func crawl(ctx context.Context, cfg *config.Config, registry *profile.Registry, startURL string, logger *slog.Logger) (*models.Result, error) {
	launcher, err := browser.Launch(cfg.Browser.Driver, cfg.BrowserOptions(), logger)
	if err != nil {
		return nil, err
	}
	defer launcher.Close()

	page, err := launcher.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	session := crawler.NewSession(page, registry, cfg.CrawlerOptions(), logger)
	return session.Run(ctx, startURL)
}

// export writes the result file and history entry, then the optional
// images and database copy. A result is never lost to a later failure.
func export(ctx context.Context, cfg *config.Config, result *models.Result, logger *slog.Logger) error {
	path, err := storage.SaveResult(cfg.Storage.OutputDir, result, cfg.Storage.Format)
	if err != nil {
		return err
	}
	logger.Info("Result saved", "file", path, "records", len(result.Products))

	history, err := storage.NewHistoryStore(cfg.Storage.HistoryFile)
	if err != nil {
		logger.Warn("Failed to open history", "error", err)
	} else if err := history.Add(storage.EntryFromResult(result, path)); err != nil {
		logger.Warn("Failed to record history", "error", err)
	}

	if cfg.Storage.DownloadImages {
		fetcher := assets.NewFetcher(http.DefaultClient, cfg.Browser.UserAgent, cfg.Storage.ImageTimeout, cfg.Storage.ImageWorkers, logger)
		if _, err := fetcher.DownloadAll(ctx, result.Products, filepath.Join(cfg.Storage.ImageDir, result.RunID)); err != nil {
			logger.Warn("Image download interrupted", "error", err)
		}
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.DatabaseConfig())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if err := events.NewPublisher(db, logger).PublishResult(ctx, result); err != nil {
			return err
		}
	}

	return nil
}

func printSummary(result *models.Result) {
	fmt.Printf("\nCrawl finished: %s\n", result.Status)
	fmt.Printf("  Profile:  %s\n", result.Profile)
	fmt.Printf("  Pages:    %d\n", result.PageCount)
	fmt.Printf("  Records:  %d\n", len(result.Products))
	fmt.Printf("  Duration: %s\n", result.Duration().Round(time.Millisecond))
	if result.ScreenshotPath != "" {
		fmt.Printf("  Screenshot: %s\n", result.ScreenshotPath)
	}
	for _, p := range result.Pages {
		fmt.Printf("  page %d: %d new (%s)\n", p.Page, p.NewRecords, p.URL)
	}
}
