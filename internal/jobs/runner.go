package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/crawler"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/queue"
)

// BrowserRunner opens a fresh page per task so concurrent workers never
// share rendering state.
type BrowserRunner struct {
	launcher browser.Launcher
	registry *profile.Registry
	base     crawler.Options
	logger   *slog.Logger
}

func NewBrowserRunner(launcher browser.Launcher, registry *profile.Registry, base crawler.Options, logger *slog.Logger) *BrowserRunner {
	return &BrowserRunner{
		launcher: launcher,
		registry: registry,
		base:     base,
		logger:   logger,
	}
}

func (r *BrowserRunner) Run(ctx context.Context, task *queue.Task) (*models.Result, error) {
	page, err := r.launcher.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Warn("failed to close page", "job_id", task.ID, "error", err)
		}
	}()

	session := crawler.NewSession(page, r.registry, TaskOptions(r.base, task), r.logger)
	return session.Run(ctx, task.URL)
}

// TaskOptions applies the per-task overrides to base.
func TaskOptions(base crawler.Options, task *queue.Task) crawler.Options {
	opts := base
	opts.Profile = task.Profile
	opts.MaxPages = task.MaxPages
	opts.MaxRecords = task.MaxRecords
	opts.Pagination = task.Pagination
	return opts
}
