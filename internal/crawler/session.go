// Package crawler drives a rendered listing through load, reveal, extract and
// paginate steps and returns the deduplicated records.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

var ErrInvalidURL = errors.New("invalid start URL")

// Session owns one page for its lifetime. Runs are serialized.
type Session struct {
	page     renderer.Page
	registry *profile.Registry
	pipeline *extract.Pipeline
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

func NewSession(page renderer.Page, registry *profile.Registry, opts Options, logger *slog.Logger) *Session {
	if registry == nil {
		registry = profile.NewRegistry()
	}

	return &Session{
		page:     page,
		registry: registry,
		pipeline: extract.NewPipeline(logger),
		opts:     opts.normalized(),
		logger:   logger.With("component", "crawl_session"),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Options returns the effective options.
func (s *Session) Options() Options {
	return s.opts
}

// Run crawls startURL. The error is non-nil only for invalid input; once the
// crawl starts every failure is reported through the result status.
func (s *Session) Run(ctx context.Context, startURL string) (*models.Result, error) {
	startURL = strings.TrimSpace(startURL)
	u, err := url.Parse(startURL)
	if startURL == "" || err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, startURL)
	}

	if !s.registry.Has(s.opts.Profile) {
		return nil, fmt.Errorf("%w: %s", profile.ErrUnknownProfile, s.opts.Profile)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.MaxDuration)
		defer cancel()
	}

	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "url", startURL)

	result := &models.Result{
		RunID:     runID,
		StartURL:  startURL,
		Profile:   s.opts.Profile,
		StartedAt: s.now().UTC(),
	}

	d := &driver{
		page:       s.page,
		pipeline:   s.pipeline,
		limiter:    ratelimit.NewAdaptiveRateLimiter(s.opts.PageDelayMin, s.opts.PageDelayMax),
		opts:       s.opts,
		logger:     logger,
		sleep:      s.sleep,
		startURL:   startURL,
		sourceSite: u.Hostname(),
		runID:      runID,
	}

	if profile.IsAuto(s.opts.Profile) {
		d.resolve = func(sig profile.Signal) profile.SelectorBundle {
			return s.registry.Resolve(profile.Auto, sig)
		}
	} else {
		// An explicit profile wins before the page is even loaded.
		d.bundle = s.registry.Resolve(s.opts.Profile, profile.Signal{})
		d.resolved = true
	}

	logger.Info("starting crawl", "profile", s.opts.Profile, "max_pages", s.opts.MaxPages, "pagination", s.opts.Pagination)

	d.run(ctx)

	if d.resolved {
		result.Profile = d.bundle.Name
	}
	result.Status = d.status
	result.Products = d.records.Records()
	result.PageCount = d.pageCount
	result.Pages = d.pages
	result.ScreenshotPath = d.screenshot
	result.FinishedAt = s.now().UTC()

	return result, nil
}
