package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/renderer"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightPage implements renderer.Page over a playwright tab.
type PlaywrightPage struct {
	page    playwright.Page
	retries int
	logger  *slog.Logger
}

// Navigate loads url, retrying transient failures with a linear backoff.
func (p *PlaywrightPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	var lastErr error

	for i := 0; i <= p.retries; i++ {
		if i > 0 {
			p.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}

		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		p.logger.Warn("navigation failed", "error", err, "attempt", i+1)

		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %s: %v", renderer.ErrTimeout, url, err)
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", renderer.ErrNavigation, url, p.retries+1, lastErr)
}

func (p *PlaywrightPage) WaitFor(ctx context.Context, predicate string, timeout time.Duration) error {
	_, err := p.page.WaitForFunction(predicate, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %v", renderer.ErrTimeout, err)
		}
		return fmt.Errorf("failed to wait for condition: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) Evaluate(ctx context.Context, script string) (any, error) {
	v, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %w", err)
	}
	return v, nil
}

func (p *PlaywrightPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

func (p *PlaywrightPage) URL(ctx context.Context) (string, error) {
	return p.page.URL(), nil
}

func (p *PlaywrightPage) Screenshot(ctx context.Context, path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to take screenshot: %w", err)
	}
	return nil
}

func (p *PlaywrightPage) QueryAll(ctx context.Context, selector string) ([]renderer.Element, error) {
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	out := make([]renderer.Element, len(handles))
	for i, h := range handles {
		out[i] = &handleElement{h: h}
	}
	return out, nil
}

// ClickAll clicks every visible match. Individual click failures are skipped.
func (p *PlaywrightPage) ClickAll(ctx context.Context, selector string) (int, error) {
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return 0, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	clicked := 0
	for _, h := range handles {
		if visible, err := h.IsVisible(); err != nil || !visible {
			continue
		}
		if err := h.Click(playwright.ElementHandleClickOptions{Timeout: playwright.Float(2000)}); err != nil {
			continue
		}
		clicked++
	}
	return clicked, nil
}

func (p *PlaywrightPage) Close() error {
	return p.page.Close()
}

type handleElement struct {
	h playwright.ElementHandle
}

func (e *handleElement) Query(selector string) (renderer.Element, error) {
	child, err := e.h.QuerySelector(selector)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, nil
	}
	return &handleElement{h: child}, nil
}

func (e *handleElement) Text() (string, error) {
	return e.h.TextContent()
}

func (e *handleElement) Attribute(name string) (string, error) {
	return e.h.GetAttribute(name)
}
