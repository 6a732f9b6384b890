package extract

import (
	"context"
	"fmt"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

// fallbackContainers are tried in order when the bundle's item selector
// matches nothing.
var fallbackContainers = []string{
	"div[id*='product'], li[class*='product']",
	"[data-product], [data-product-id]",
	".item, .grid-item, .collection-item",
	"article, .card, .product-card",
}

// ContainerSelectors lists the selectors DOMSelector tries for item
// containers, the bundle's own selector first.
func ContainerSelectors(items string) []string {
	out := make([]string, 0, len(fallbackContainers)+1)
	if items != "" {
		out = append(out, items)
	}
	return append(out, fallbackContainers...)
}

var imageAttributes = []string{"src", "data-src", "data-lazy-src", "srcset", "data-srcset"}

// DOMSelector applies the bundle's CSS selectors to item containers.
type DOMSelector struct {
	fallbacks []string
}

func NewDOMSelector() *DOMSelector {
	return &DOMSelector{fallbacks: fallbackContainers}
}

func (s *DOMSelector) Name() models.Strategy {
	return models.StrategyDOMSelector
}

func (s *DOMSelector) Extract(ctx context.Context, page renderer.Page, bundle profile.SelectorBundle) ([]models.Product, error) {
	containers, err := s.containers(ctx, page, bundle.Items)
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, nil
	}

	base := BaseURL(ctx, page)

	products := make([]models.Product, 0, len(containers))
	for _, el := range containers {
		if err := ctx.Err(); err != nil {
			return products, err
		}

		p := models.Product{
			Title:            fieldText(el, bundle.Title),
			PriceText:        fieldText(el, bundle.Price),
			RegularPriceText: fieldText(el, bundle.RegularPrice),
			SalePriceText:    fieldText(el, bundle.SalePrice),
			Description:      fieldText(el, bundle.Description),
			ImageURL:         imageURL(el, bundle.Image, base),
		}

		if link := fieldAttr(el, bundle.Link, "href"); link != "" {
			p.ProductURL = ResolveURL(base, link)
		}

		p.ProductID = fieldAttr(el, "[data-product-id]", "data-product-id")
		if p.ProductID == "" {
			p.ProductID, _ = el.Attribute("data-product-id")
		}

		products = append(products, p)
	}

	return products, nil
}

func (s *DOMSelector) containers(ctx context.Context, page renderer.Page, items string) ([]renderer.Element, error) {
	if items != "" {
		found, err := page.QueryAll(ctx, items)
		if err != nil {
			return nil, fmt.Errorf("failed to query item containers: %w", err)
		}
		if len(found) > 0 {
			return found, nil
		}
	}

	for _, sel := range s.fallbacks {
		found, err := page.QueryAll(ctx, sel)
		if err != nil {
			continue
		}
		if len(found) > 0 {
			return found, nil
		}
	}

	return nil, nil
}

// fieldText returns the text of the first match, or "" when nothing matches.
func fieldText(el renderer.Element, selector string) string {
	if selector == "" {
		return ""
	}
	child, err := el.Query(selector)
	if err != nil || child == nil {
		return ""
	}
	text, err := child.Text()
	if err != nil {
		return ""
	}
	return text
}

func fieldAttr(el renderer.Element, selector, attr string) string {
	if selector == "" {
		return ""
	}
	child, err := el.Query(selector)
	if err != nil || child == nil {
		return ""
	}
	v, err := child.Attribute(attr)
	if err != nil {
		return ""
	}
	return v
}

func imageURL(el renderer.Element, selector, base string) string {
	if selector == "" {
		return ""
	}
	img, err := el.Query(selector)
	if err != nil || img == nil {
		return ""
	}

	for _, attr := range imageAttributes {
		v, err := img.Attribute(attr)
		if err != nil || v == "" {
			continue
		}
		if attr == "srcset" || attr == "data-srcset" {
			v = firstSrcsetURL(v)
		}
		if resolved := ResolveURL(base, v); resolved != "" {
			return resolved
		}
	}

	return ""
}
