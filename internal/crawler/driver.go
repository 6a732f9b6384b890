package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maltedev/listing-scraper/internal/dedup"
	"github.com/maltedev/listing-scraper/internal/extract"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

type state int

const (
	stateLoading state = iota
	stateRevealing
	stateExtracting
	stateDeciding
	stateDone
)

func (s state) String() string {
	switch s {
	case stateLoading:
		return "LOADING"
	case stateRevealing:
		return "REVEALING"
	case stateExtracting:
		return "EXTRACTING"
	case stateDeciding:
		return "DECIDING"
	case stateDone:
		return "DONE"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// driver walks one crawl through the page state machine. It is created per
// run and never shared.
type driver struct {
	page     renderer.Page
	pipeline *extract.Pipeline
	limiter  *ratelimit.AdaptiveRateLimiter
	resolve  func(profile.Signal) profile.SelectorBundle
	opts     Options
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error

	startURL   string
	sourceSite string
	runID      string

	bundle     profile.SelectorBundle
	resolved   bool
	pageNumber int
	currentURL string
	visited    map[string]bool
	records    *dedup.Set
	pages      []models.PageDiagnostics
	pageCount  int
	status     models.Status
	screenshot string
}

func (d *driver) run(ctx context.Context) {
	d.pageNumber = 1
	d.currentURL = d.startURL
	d.visited = make(map[string]bool)
	d.records = dedup.NewSet()

	st := stateLoading
	for st != stateDone {
		// Budget check at every transition.
		if err := ctx.Err(); err != nil {
			d.logger.Info("crawl budget exhausted", "state", st, "error", err)
			st = d.finish(models.StatusExhaustedBudget)
			continue
		}

		d.logger.Debug("state transition", "state", st, "page", d.pageNumber)

		switch st {
		case stateLoading:
			st = d.load(ctx)
		case stateRevealing:
			st = d.reveal(ctx)
		case stateExtracting:
			st = d.extract(ctx)
		case stateDeciding:
			st = d.decide(ctx)
		}
	}
}

func (d *driver) finish(status models.Status) state {
	if status == models.StatusOK && d.records.Len() == 0 {
		status = models.StatusNoItemsFound
	}
	d.status = status
	d.logger.Info("crawl finished", "status", status, "pages", d.pageCount, "records", d.records.Len())
	return stateDone
}

// failStatus maps a renderer failure to a terminal status.
func (d *driver) failStatus(ctx context.Context, err error) models.Status {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.StatusExhaustedBudget
	}
	return models.StatusRenderTimeout
}

func (d *driver) load(ctx context.Context) state {
	if d.pageNumber == 1 {
		if err := d.page.Navigate(ctx, d.startURL, d.opts.PageLoadWait); err != nil {
			d.logger.Warn("failed to load start page", "url", d.startURL, "error", err)
			d.limiter.RecordError()
			return d.finish(d.failStatus(ctx, err))
		}
	}

	if err := d.page.WaitFor(ctx, readyPredicate, d.opts.PageLoadWait); err != nil && !errors.Is(err, renderer.ErrUnsupported) {
		d.logger.Warn("page did not settle", "page", d.pageNumber, "error", err)
		d.limiter.RecordError()
		return d.finish(d.failStatus(ctx, err))
	}
	d.limiter.RecordSuccess()

	d.pageCount++
	if current, err := d.page.URL(ctx); err == nil && current != "" {
		d.currentURL = current
	}
	d.visited[visitKey(d.currentURL)] = true

	html, err := d.page.HTML(ctx)
	if err != nil {
		d.logger.Warn("failed to read page html", "page", d.pageNumber, "error", err)
	}

	if !d.resolved {
		d.bundle = d.resolve(profile.Signal{HTML: html, URL: d.currentURL})
		d.resolved = true
		d.logger.Info("profile resolved", "profile", d.bundle.Name, "requested", d.opts.Profile)
	}

	if marker := detectChallenge(html, extract.ContainerSelectors(d.bundle.Items)); marker != "" {
		d.logger.Warn("robot check detected", "page", d.pageNumber, "marker", marker)
		d.captureScreenshot(ctx)
		return d.finish(models.StatusCaptchaDetected)
	}

	return stateRevealing
}

func (d *driver) reveal(ctx context.Context) state {
	for _, sel := range popupSelectors {
		if n, err := d.page.ClickAll(ctx, sel); err == nil && n > 0 {
			d.logger.Debug("dismissed popup", "selector", sel, "clicked", n)
		}
	}

	height, ok := d.scrollHeight(ctx)
	if !ok {
		return stateExtracting
	}

	for i := 0; i < d.opts.ScrollCycles; i++ {
		if _, err := d.page.Evaluate(ctx, scrollBottom); err != nil {
			break
		}
		if err := d.sleep(ctx, d.opts.ScrollSettle); err != nil {
			break
		}

		next, ok := d.scrollHeight(ctx)
		if !ok || next <= height {
			break
		}
		height = next
	}

	_, _ = d.page.Evaluate(ctx, scrollTop)
	return stateExtracting
}

func (d *driver) scrollHeight(ctx context.Context) (float64, bool) {
	v, err := d.page.Evaluate(ctx, heightScript)
	if err != nil {
		return 0, false
	}
	switch h := v.(type) {
	case float64:
		return h, true
	case int:
		return float64(h), true
	case int64:
		return float64(h), true
	}
	return 0, false
}

func (d *driver) extract(ctx context.Context) state {
	drafts, stats := d.pipeline.Extract(ctx, d.page, d.bundle, d.pageNumber)
	for i := range drafts {
		drafts[i].SourceSite = d.sourceSite
	}

	before := d.records.Len()
	d.records.AddAll(drafts)

	capped := false
	if d.opts.MaxRecords > 0 && d.records.Len() >= d.opts.MaxRecords {
		d.records.Truncate(d.opts.MaxRecords)
		capped = true
	}

	d.pages = append(d.pages, models.PageDiagnostics{
		Page:       d.pageNumber,
		URL:        d.currentURL,
		Strategies: stats,
		NewRecords: d.records.Len() - before,
	})

	d.logger.Info("page extracted",
		"page", d.pageNumber,
		"candidates", len(drafts),
		"new", d.records.Len()-before,
		"total", d.records.Len(),
	)

	if capped {
		return d.finish(models.StatusExhaustedBudget)
	}
	return stateDeciding
}

func (d *driver) decide(ctx context.Context) state {
	if !d.opts.Pagination {
		return d.finish(models.StatusOK)
	}
	if d.pageNumber >= d.opts.MaxPages {
		d.logger.Info("page budget reached", "max_pages", d.opts.MaxPages)
		return d.finish(models.StatusOK)
	}

	next := d.nextPageURL(ctx)
	if next == "" {
		return d.finish(models.StatusOK)
	}
	if d.visited[visitKey(next)] {
		d.logger.Info("next page already visited", "url", next)
		return d.finish(models.StatusOK)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return d.finish(models.StatusExhaustedBudget)
	}

	if err := d.page.Navigate(ctx, next, d.opts.PageLoadWait); err != nil {
		d.logger.Warn("failed to load next page", "url", next, "error", err)
		d.limiter.RecordError()
		return d.finish(d.failStatus(ctx, err))
	}

	d.pageNumber++
	d.currentURL = next
	return stateLoading
}

// nextPageURL resolves the bundle's next control to an absolute URL. Disabled
// controls count as absent.
func (d *driver) nextPageURL(ctx context.Context) string {
	if d.bundle.NextPage == "" {
		return ""
	}

	controls, err := d.page.QueryAll(ctx, d.bundle.NextPage)
	if err != nil {
		d.logger.Debug("next page selector failed", "error", err)
		return ""
	}

	base := extract.BaseURL(ctx, d.page)
	for _, el := range controls {
		if disabled, _ := el.Attribute("aria-disabled"); strings.EqualFold(disabled, "true") {
			continue
		}
		if class, _ := el.Attribute("class"); hasClass(class, "disabled") {
			continue
		}

		href, _ := el.Attribute("href")
		if href == "" {
			if inner, err := el.Query("a[href]"); err == nil && inner != nil {
				href, _ = inner.Attribute("href")
			}
		}

		if next := extract.ResolveURL(base, href); next != "" {
			return next
		}
	}

	return ""
}

func (d *driver) captureScreenshot(ctx context.Context) {
	dir := d.opts.ScreenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.logger.Warn("failed to create screenshot dir", "dir", dir, "error", err)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("captcha_%s_page%d.png", shortID(d.runID), d.pageNumber))
	if err := d.page.Screenshot(ctx, path); err != nil {
		d.logger.Warn("failed to capture screenshot", "error", err)
		return
	}
	d.screenshot = path
}

func hasClass(classAttr, name string) bool {
	for _, c := range strings.Fields(classAttr) {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// visitKey drops the fragment so "#top" links do not defeat the cycle guard.
func visitKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
