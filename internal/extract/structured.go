package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/renderer"
)

// stateMarkers name inline script assignments that carry page state.
var stateMarkers = []string{
	"window.__INITIAL_STATE__",
	"window.__PRELOADED_STATE__",
	"window.ENV",
	"__NEXT_DATA__",
	"productData",
}

var (
	idKeys          = []string{"id", "productId", "product_id", "sku"}
	titleKeys       = []string{"name", "title", "productName", "product_name", "display_name"}
	priceKeys       = []string{"price", "formattedPrice", "price_text", "priceText", "currentPrice"}
	regularKeys     = []string{"regular_price", "regularPrice", "compareAtPrice", "compare_at_price", "originalPrice"}
	saleKeys        = []string{"sale_price", "salePrice", "specialPrice"}
	imageKeys       = []string{"image", "imageUrl", "image_url", "featured_image", "thumbnail", "images"}
	urlKeys         = []string{"url", "productUrl", "product_url", "link", "href"}
	descriptionKeys = []string{"description", "shortDescription", "short_description"}
)

// StructuredData reads product collections out of JSON embedded in script
// tags: JSON-LD, JSON script blocks and inline state assignments.
type StructuredData struct{}

func NewStructuredData() *StructuredData {
	return &StructuredData{}
}

func (s *StructuredData) Name() models.Strategy {
	return models.StrategyStructuredData
}

func (s *StructuredData) Extract(ctx context.Context, page renderer.Page, bundle profile.SelectorBundle) ([]models.Product, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page html: %w", err)
	}
	base := BaseURL(ctx, page)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	var (
		payloads  int
		malformed int
		products  []models.Product
	)

	doc.Find("script").Each(func(_ int, script *goquery.Selection) {
		for _, payload := range scriptPayloads(script) {
			payloads++
			if payload.err != nil {
				malformed++
				continue
			}
			products = append(products, collectProducts(payload.value, base)...)
		}
	})

	if len(products) == 0 && malformed > 0 && malformed == payloads {
		return nil, fmt.Errorf("%w: %d of %d payloads unparseable", ErrMalformedPayload, malformed, payloads)
	}

	return products, nil
}

type payload struct {
	value any
	err   error
}

func scriptPayloads(script *goquery.Selection) []payload {
	text := strings.TrimSpace(script.Text())
	if text == "" {
		return nil
	}

	typ, _ := script.Attr("type")
	if strings.Contains(strings.ToLower(typ), "json") {
		var v any
		err := json.Unmarshal([]byte(text), &v)
		return []payload{{value: v, err: err}}
	}

	type hit struct{ at, brace int }
	var hits []hit
	for _, marker := range stateMarkers {
		idx := strings.Index(text, marker)
		if idx < 0 {
			continue
		}
		brace := strings.IndexByte(text[idx+len(marker):], '{')
		if brace < 0 {
			continue
		}
		hits = append(hits, hit{at: idx, brace: idx + len(marker) + brace})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at < hits[j].at })

	var out []payload
	end := 0
	for _, h := range hits {
		// Markers nested inside an already decoded object are skipped.
		if h.at < end {
			continue
		}

		// Decode a single value so trailing statements do not matter.
		dec := json.NewDecoder(strings.NewReader(text[h.brace:]))
		var v any
		err := dec.Decode(&v)
		out = append(out, payload{value: v, err: err})
		if err == nil {
			end = h.brace + int(dec.InputOffset())
		}
	}
	return out
}

// collectProducts walks a decoded payload. Maps are visited in sorted key
// order so output is deterministic.
func collectProducts(v any, base string) []models.Product {
	switch node := v.(type) {
	case []any:
		var out []models.Product
		for _, item := range node {
			out = append(out, collectProducts(item, base)...)
		}
		return out

	case map[string]any:
		if hasType(node, "Product") {
			if p, ok := productFromMap(node, base); ok {
				return []models.Product{p}
			}
			return nil
		}

		if hasType(node, "ItemList") {
			return itemList(node, base)
		}

		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []models.Product
		for _, k := range keys {
			if strings.EqualFold(k, "products") {
				if list, ok := node[k].([]any); ok {
					out = append(out, productList(list, base)...)
					continue
				}
			}
			out = append(out, collectProducts(node[k], base)...)
		}
		return out
	}

	return nil
}

func productList(list []any, base string) []models.Product {
	var out []models.Product
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := productFromMap(m, base); ok {
			out = append(out, p)
		}
	}
	return out
}

func itemList(node map[string]any, base string) []models.Product {
	elements, _ := node["itemListElement"].([]any)

	var out []models.Product
	for _, el := range elements {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if item, ok := m["item"].(map[string]any); ok {
			m = item
		}
		if p, ok := productFromMap(m, base); ok {
			out = append(out, p)
		}
	}
	return out
}

func hasType(m map[string]any, want string) bool {
	switch t := m["@type"].(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func productFromMap(m map[string]any, base string) (models.Product, bool) {
	p := models.Product{
		ProductID:        stringField(m, idKeys),
		Title:            stringField(m, titleKeys),
		PriceText:        priceField(m, priceKeys),
		RegularPriceText: priceField(m, regularKeys),
		SalePriceText:    priceField(m, saleKeys),
		Description:      stringField(m, descriptionKeys),
	}

	if p.PriceText == "" {
		p.PriceText = offerPrice(m["offers"])
	}

	if img := imageField(m); img != "" {
		p.ImageURL = ResolveURL(base, img)
	}
	if link := stringField(m, urlKeys); link != "" {
		p.ProductURL = ResolveURL(base, link)
	}

	return p, p.HasIdentity()
}

func stringField(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalar(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// priceField accepts scalars and {amount|value, currency} objects.
func priceField(m map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			amount := scalar(v["amount"])
			if amount == "" {
				amount = scalar(v["value"])
			}
			if amount == "" {
				continue
			}
			if currency := scalar(v["currency"]); currency != "" {
				return amount + " " + currency
			}
			if currency := scalar(v["currencyCode"]); currency != "" {
				return amount + " " + currency
			}
			return amount
		default:
			if s := scalar(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func offerPrice(offers any) string {
	switch o := offers.(type) {
	case []any:
		for _, item := range o {
			if s := offerPrice(item); s != "" {
				return s
			}
		}
	case map[string]any:
		price := scalar(o["price"])
		if price == "" {
			price = scalar(o["lowPrice"])
		}
		if price == "" {
			return ""
		}
		if currency := scalar(o["priceCurrency"]); currency != "" {
			return price + " " + currency
		}
		return price
	}
	return ""
}

func imageField(m map[string]any) string {
	for _, k := range imageKeys {
		if s := imageValue(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func imageValue(v any) string {
	switch img := v.(type) {
	case string:
		return img
	case []any:
		for _, item := range img {
			if s := imageValue(item); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, k := range []string{"url", "src", "contentUrl"} {
			if s, ok := img[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func scalar(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool, nil:
		return ""
	case json.Number:
		return s.String()
	}
	return ""
}
