package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

// scriptTemplate is evaluated in the page. It searches open shadow roots as
// well as the light DOM, which selector-based extraction cannot reach.
const scriptTemplate = `(() => {
  const sel = %s;
  const deepAll = (root, css) => {
    if (!css) return [];
    const out = [...root.querySelectorAll(css)];
    for (const el of root.querySelectorAll('*')) {
      if (el.shadowRoot) out.push(...deepAll(el.shadowRoot, css));
    }
    return out;
  };
  const first = (root, css) => {
    if (!css) return null;
    const hit = root.querySelector(css);
    if (hit) return hit;
    return deepAll(root, css)[0] || null;
  };
  const text = (root, css) => {
    const el = first(root, css);
    return el ? (el.innerText || el.textContent || '').trim() : '';
  };
  const image = (root) => {
    const el = first(root, sel.image);
    if (!el) return '';
    for (const a of ['src', 'data-src', 'data-lazy-src', 'srcset', 'data-srcset']) {
      let v = el.getAttribute(a);
      if (!v || v.startsWith('data:')) continue;
      if (a.endsWith('srcset')) v = v.split(',')[0].trim().split(/\s+/)[0];
      return v;
    }
    return '';
  };
  let items = deepAll(document, sel.items);
  if (items.length === 0) {
    for (const f of sel.fallbacks) {
      items = deepAll(document, f);
      if (items.length > 0) break;
    }
  }
  return items.map((el) => {
    const link = el.matches('a[href]') ? el : first(el, sel.link);
    return {
      title: text(el, sel.title),
      price: text(el, sel.price),
      regular_price: text(el, sel.regular_price),
      sale_price: text(el, sel.sale_price),
      description: text(el, sel.description),
      image: image(el),
      url: link ? link.getAttribute('href') || '' : '',
    };
  });
})()`

type scriptItem struct {
	Title        string `json:"title"`
	Price        string `json:"price"`
	RegularPrice string `json:"regular_price"`
	SalePrice    string `json:"sale_price"`
	Description  string `json:"description"`
	Image        string `json:"image"`
	URL          string `json:"url"`
}

// ScriptEval runs one in-page query that returns drafts already shaped as
// products.
type ScriptEval struct{}

func NewScriptEval() *ScriptEval {
	return &ScriptEval{}
}

func (s *ScriptEval) Name() models.Strategy {
	return models.StrategyScriptEval
}

func (s *ScriptEval) Extract(ctx context.Context, page renderer.Page, bundle profile.SelectorBundle) ([]models.Product, error) {
	script, err := BuildScript(bundle)
	if err != nil {
		return nil, err
	}

	raw, err := page.Evaluate(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate extraction script: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	// Round-trip through JSON so any driver's value representation decodes
	// the same way.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script result: %w", err)
	}

	var items []scriptItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unexpected script result shape: %w", err)
	}

	base := BaseURL(ctx, page)

	products := make([]models.Product, 0, len(items))
	for _, it := range items {
		products = append(products, models.Product{
			Title:            it.Title,
			PriceText:        it.Price,
			RegularPriceText: it.RegularPrice,
			SalePriceText:    it.SalePrice,
			Description:      it.Description,
			ImageURL:         ResolveURL(base, it.Image),
			ProductURL:       ResolveURL(base, it.URL),
		})
	}

	return products, nil
}

// BuildScript renders the extraction script for bundle.
func BuildScript(bundle profile.SelectorBundle) (string, error) {
	selectors := map[string]any{
		"items":         bundle.Items,
		"title":         bundle.Title,
		"price":         bundle.Price,
		"regular_price": bundle.RegularPrice,
		"sale_price":    bundle.SalePrice,
		"image":         bundle.Image,
		"link":          bundle.Link,
		"description":   bundle.Description,
		"fallbacks":     fallbackContainers,
	}

	encoded, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("failed to encode selectors: %w", err)
	}

	return fmt.Sprintf(scriptTemplate, encoded), nil
}
