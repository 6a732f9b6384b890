package renderer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// EvalFunc answers Evaluate and WaitFor calls for a StaticPage. The current
// URL and HTML are passed in so fixtures can vary per page.
type EvalFunc func(url, html, script string) (any, error)

// StaticPage is a Page over fixed HTML documents keyed by URL. Scripts are
// not executed; Eval supplies their results when set.
type StaticPage struct {
	// Pages maps URL to document.
	Pages map[string]string
	// Timeouts marks URLs whose navigation times out.
	Timeouts map[string]bool
	Eval     EvalFunc

	mu          sync.Mutex
	current     string
	doc         *goquery.Document
	visits      []string
	clicks      map[string]int
	screenshots []string
}

// NewStaticPage builds a page serving pages.
func NewStaticPage(pages map[string]string) *StaticPage {
	return &StaticPage{
		Pages:    pages,
		Timeouts: make(map[string]bool),
		clicks:   make(map[string]int),
	}
}

func (p *StaticPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.visits = append(p.visits, url)

	if p.Timeouts[url] {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, url, timeout)
	}

	html, ok := p.Pages[url]
	if !ok {
		return fmt.Errorf("%w: no document for %s", ErrNavigation, url)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	p.current = url
	p.doc = doc
	return nil
}

// WaitFor treats a predicate as satisfied unless Eval says otherwise.
func (p *StaticPage) WaitFor(ctx context.Context, predicate string, timeout time.Duration) error {
	if p.Eval == nil {
		return ctx.Err()
	}

	v, err := p.Evaluate(ctx, predicate)
	if err != nil {
		return err
	}
	if ok, isBool := v.(bool); isBool && !ok {
		return fmt.Errorf("%w: predicate not satisfied within %s", ErrTimeout, timeout)
	}
	return nil
}

func (p *StaticPage) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Eval == nil {
		return nil, ErrUnsupported
	}

	url, _ := p.URL(ctx)
	html, _ := p.HTML(ctx)
	return p.Eval(url, html, script)
}

func (p *StaticPage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Pages[p.current], nil
}

func (p *StaticPage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// Screenshot writes the current HTML to path so captures stay inspectable.
func (p *StaticPage) Screenshot(ctx context.Context, path string) error {
	html, _ := p.HTML(ctx)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}

	p.mu.Lock()
	p.screenshots = append(p.screenshots, path)
	p.mu.Unlock()
	return nil
}

func (p *StaticPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()

	if doc == nil {
		return nil, nil
	}
	return queryDocument(doc, selector)
}

func (p *StaticPage) ClickAll(ctx context.Context, selector string) (int, error) {
	elements, err := p.QueryAll(ctx, selector)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	p.clicks[selector] += len(elements)
	p.mu.Unlock()
	return len(elements), nil
}

func (p *StaticPage) Close() error {
	return nil
}

// Visits returns every URL passed to Navigate, in order.
func (p *StaticPage) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

// Clicks returns how many elements ClickAll clicked for selector.
func (p *StaticPage) Clicks(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clicks[selector]
}

// Screenshots returns every path passed to Screenshot.
func (p *StaticPage) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}
