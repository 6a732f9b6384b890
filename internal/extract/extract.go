// Package extract turns a rendered listing page into product drafts using an
// ordered set of independent strategies.
package extract

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

var ErrMalformedPayload = errors.New("malformed structured data payload")

// Strategy pulls product drafts out of a rendered page. Implementations must
// not navigate away from the page.
type Strategy interface {
	Name() models.Strategy
	Extract(ctx context.Context, page renderer.Page, bundle profile.SelectorBundle) ([]models.Product, error)
}

// DefaultStrategies returns the strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		NewStructuredData(),
		NewDOMSelector(),
		NewScriptEval(),
	}
}

// ResolveURL makes ref absolute against base. Protocol-relative references
// become https. Anything that cannot be resolved to http(s) is returned as is.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || hasScheme(ref, "data:") || hasScheme(ref, "javascript:") {
		return ""
	}

	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return ref
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(u).String()
}

// BaseURL returns the URL relative references on page resolve against: the
// document's <base href> when present, else the page URL.
func BaseURL(ctx context.Context, page renderer.Page) string {
	current, _ := page.URL(ctx)

	bases, err := page.QueryAll(ctx, "base[href]")
	if err != nil || len(bases) == 0 {
		return current
	}
	href, _ := bases[0].Attribute("href")
	if resolved := ResolveURL(current, href); resolved != "" {
		if u, err := url.Parse(resolved); err == nil && u.IsAbs() {
			return resolved
		}
	}
	return current
}

func hasScheme(ref, scheme string) bool {
	return len(ref) >= len(scheme) && strings.EqualFold(ref[:len(scheme)], scheme)
}

// firstSrcsetURL returns the first URL token of a srcset value.
func firstSrcsetURL(srcset string) string {
	first := strings.TrimSpace(strings.Split(srcset, ",")[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
