// Package renderer defines the page capability the crawler drives. Headless
// browser adapters live in internal/browser; StaticPage serves fixed HTML.
package renderer

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout     = errors.New("render timeout")
	ErrNavigation  = errors.New("navigation failed")
	ErrUnsupported = errors.New("operation not supported by renderer")
)

// Element is a node in the rendered document.
type Element interface {
	// Query returns the first descendant matching selector, or nil with no
	// error when nothing matches.
	Query(selector string) (Element, error)
	Text() (string, error)
	// Attribute returns "" when the attribute is absent.
	Attribute(name string) (string, error)
}

// Page is a single rendered tab.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitFor polls the JavaScript predicate until it is truthy. It returns
	// ErrTimeout when the deadline passes first.
	WaitFor(ctx context.Context, predicate string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (any, error)
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// ClickAll clicks every visible match and returns how many were clicked.
	ClickAll(ctx context.Context, selector string) (int, error)
	Close() error
}
