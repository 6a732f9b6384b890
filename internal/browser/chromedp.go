package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

// ChromeLauncher starts one Chrome process and opens a tab per page.
type ChromeLauncher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	opts        *Options
	logger      *slog.Logger
}

func NewChromeLauncher(opts *Options, logger *slog.Logger) (*ChromeLauncher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	}

	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}
	if opts.Locale != "" {
		allocOpts = append(allocOpts, chromedp.Flag("lang", opts.Locale))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &ChromeLauncher{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		opts:        opts,
		logger:      logger.With("component", "browser", "driver", DriverChromedp),
	}, nil
}

func (l *ChromeLauncher) NewPage(ctx context.Context) (renderer.Page, error) {
	tabCtx, cancel := chromedp.NewContext(l.allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(l.opts.ViewportWidth), int64(l.opts.ViewportHeight))); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return &ChromePage{
		tabCtx:  tabCtx,
		cancel:  cancel,
		timeout: l.opts.Timeout,
		logger:  l.logger,
	}, nil
}

func (l *ChromeLauncher) Close() error {
	l.allocCancel()
	return nil
}

// ChromePage implements renderer.Page with chromedp. Element queries run
// against an HTML snapshot of the page, so handles do not go stale.
type ChromePage struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (p *ChromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.timeout
	}

	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", renderer.ErrTimeout, err)
	}
	return err
}

func (p *ChromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if errors.Is(err, renderer.ErrTimeout) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %v", renderer.ErrNavigation, url, err)
	}
	return nil
}

func (p *ChromePage) WaitFor(ctx context.Context, predicate string, timeout time.Duration) error {
	var ok bool
	err := p.run(ctx, timeout+time.Second, chromedp.Poll(predicate, &ok, chromedp.WithPollingTimeout(timeout)))
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("%w: %s", renderer.ErrTimeout, predicate)
	}
	if err != nil {
		return fmt.Errorf("failed to wait for condition: %w", err)
	}
	return nil
}

func (p *ChromePage) Evaluate(ctx context.Context, script string) (any, error) {
	var v any
	if err := p.run(ctx, 0, chromedp.Evaluate(script, &v)); err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return v, nil
}

func (p *ChromePage) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}

func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, 0, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to get location: %w", err)
	}
	return url, nil
}

func (p *ChromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, 0, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

func (p *ChromePage) QueryAll(ctx context.Context, selector string) ([]renderer.Element, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return renderer.ElementsFromHTML(html, selector)
}

const clickAllScript = `(() => {
  let n = 0;
  for (const el of document.querySelectorAll(%s)) {
    if (el.offsetParent === null) continue;
    try { el.click(); n++; } catch (e) {}
  }
  return n;
})()`

func (p *ChromePage) ClickAll(ctx context.Context, selector string) (int, error) {
	encoded, err := json.Marshal(selector)
	if err != nil {
		return 0, err
	}

	var n float64
	if err := p.run(ctx, 0, chromedp.Evaluate(fmt.Sprintf(clickAllScript, encoded), &n)); err != nil {
		return 0, fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return int(n), nil
}

func (p *ChromePage) Close() error {
	p.cancel()
	return nil
}
