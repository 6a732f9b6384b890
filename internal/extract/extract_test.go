package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/renderer"
	"github.com/maltedev/listing-scraper/internal/textnorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopURL = "https://shop.test/collections/all"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadPage(t *testing.T, html string) *renderer.StaticPage {
	t.Helper()
	page := renderer.NewStaticPage(map[string]string{shopURL: html})
	require.NoError(t, page.Navigate(context.Background(), shopURL, time.Second))
	return page
}

func genericBundle(t *testing.T) profile.SelectorBundle {
	t.Helper()
	b, ok := profile.NewRegistry().Get(profile.Generic)
	require.True(t, ok)
	return b
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"/p/1", "https://shop.test/p/1"},
		{"p/2", "https://shop.test/collections/p/2"},
		{"//cdn.shop.test/a.jpg", "https://cdn.shop.test/a.jpg"},
		{"https://other.test/x", "https://other.test/x"},
		{"data:image/gif;base64,R0lG", ""},
		{"DATA:image/png;base64,iVBO", ""},
		{"javascript:void(0)", ""},
		{"JavaScript:void(0)", ""},
		{"  ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveURL(shopURL, tt.ref), tt.ref)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		head string
		want string
	}{
		{"no base element", "", shopURL},
		{"absolute base", `<base href="https://cdn.shop.test/eu/">`, "https://cdn.shop.test/eu/"},
		{"relative base", `<base href="/eu/">`, "https://shop.test/eu/"},
		{"base without href", `<base target="_blank">`, shopURL},
		{"javascript base", `<base href="javascript:alert(1)">`, shopURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := loadPage(t, "<html><head>"+tt.head+"</head><body></body></html>")
			assert.Equal(t, tt.want, BaseURL(context.Background(), page))
		})
	}
}

func TestDOMSelector_HonoursBaseHref(t *testing.T) {
	html := `<html><head><base href="https://shop.test/eu/"></head><body>
<div class="product-card"><h3>Linen Shirt</h3><a href="products/linen-shirt">view</a><img src="img/linen.jpg"></div>
</body></html>`

	products, err := NewDOMSelector().Extract(context.Background(), loadPage(t, html), genericBundle(t))
	require.NoError(t, err)
	require.Len(t, products, 1)

	assert.Equal(t, "https://shop.test/eu/products/linen-shirt", products[0].ProductURL)
	assert.Equal(t, "https://shop.test/eu/img/linen.jpg", products[0].ImageURL)
}

func TestDOMSelector_Extract(t *testing.T) {
	html := `<html><body>
<div class="product-card">
  <h3>  Linen   Shirt </h3>
  <span class="price">$25.00</span>
  <a href="/products/linen-shirt">view</a>
  <img src="data:image/gif;base64,AAA" data-src="//cdn.shop.test/linen.jpg">
</div>
<div class="product-card">
  <h3>Wool Coat</h3>
  <img srcset="/coat-400.jpg 400w, /coat-800.jpg 800w">
</div>
<div class="product-card"><span class="price">$9</span></div>
</body></html>`

	products, err := NewDOMSelector().Extract(context.Background(), loadPage(t, html), genericBundle(t))
	require.NoError(t, err)
	require.Len(t, products, 3)

	assert.Equal(t, "Linen   Shirt", products[0].Title)
	assert.Equal(t, "$25.00", products[0].PriceText)
	assert.Equal(t, "https://shop.test/products/linen-shirt", products[0].ProductURL)
	assert.Equal(t, "https://cdn.shop.test/linen.jpg", products[0].ImageURL)

	assert.Equal(t, "Wool Coat", products[1].Title)
	assert.Empty(t, products[1].ProductURL)
	assert.Equal(t, "https://shop.test/coat-400.jpg", products[1].ImageURL)

	assert.Empty(t, products[2].Title, "missing fields stay empty")
}

func TestDOMSelector_FallbackContainers(t *testing.T) {
	html := `<html><body>
<section data-product="1"><h4>Canvas Tote</h4><a href="/tote">x</a></section>
<section data-product="2"><h4>Leather Belt</h4></section>
</body></html>`

	bundle := genericBundle(t)
	bundle.Items = ".does-not-exist"

	products, err := NewDOMSelector().Extract(context.Background(), loadPage(t, html), bundle)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Canvas Tote", products[0].Title)
	assert.Equal(t, "Leather Belt", products[1].Title)
}

func TestStructuredData_Extract(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"ItemList","itemListElement":[
  {"@type":"ListItem","position":1,"item":{"@type":"Product","name":"Trail Runner","url":"/p/trail",
   "image":["//cdn.shop.test/trail.jpg"],"offers":{"@type":"Offer","price":"89.00","priceCurrency":"USD"}}}
]}
</script>
<script>
window.__INITIAL_STATE__ = {"catalog":{"products":[
  {"id":7,"title":"Rain Jacket","price":{"amount":"120.00","currency":"EUR"},"url":"https://shop.test/p/rain"},
  {"id":8,"sku":"x"}
]}};
window.analytics = {};
</script>
<script>console.log("no payload here")</script>
</head><body></body></html>`

	products, err := NewStructuredData().Extract(context.Background(), loadPage(t, html), genericBundle(t))
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "Trail Runner", products[0].Title)
	assert.Equal(t, "https://shop.test/p/trail", products[0].ProductURL)
	assert.Equal(t, "https://cdn.shop.test/trail.jpg", products[0].ImageURL)
	assert.Equal(t, "89.00 USD", products[0].PriceText)

	assert.Equal(t, "7", products[1].ProductID)
	assert.Equal(t, "Rain Jacket", products[1].Title)
	assert.Equal(t, "120.00 EUR", products[1].PriceText)
}

func TestStructuredData_Malformed(t *testing.T) {
	html := `<html><head><script type="application/json">{"products": [</script></head></html>`

	products, err := NewStructuredData().Extract(context.Background(), loadPage(t, html), genericBundle(t))
	assert.Empty(t, products)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestStructuredData_NoPayload(t *testing.T) {
	products, err := NewStructuredData().Extract(context.Background(), loadPage(t, "<html><body>hi</body></html>"), genericBundle(t))
	assert.NoError(t, err)
	assert.Empty(t, products)
}

func TestScriptEval_Extract(t *testing.T) {
	page := loadPage(t, "<html></html>")
	page.Eval = func(url, html, script string) (any, error) {
		return []any{
			map[string]any{"title": "Shadow Sneaker", "price": "£40", "url": "/p/shadow", "image": "//img.test/s.png"},
		}, nil
	}

	products, err := NewScriptEval().Extract(context.Background(), page, genericBundle(t))
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Shadow Sneaker", products[0].Title)
	assert.Equal(t, "https://shop.test/p/shadow", products[0].ProductURL)
	assert.Equal(t, "https://img.test/s.png", products[0].ImageURL)
}

func TestScriptEval_BadShape(t *testing.T) {
	page := loadPage(t, "<html></html>")
	page.Eval = func(url, html, script string) (any, error) {
		return "not a list", nil
	}

	_, err := NewScriptEval().Extract(context.Background(), page, genericBundle(t))
	assert.Error(t, err)
}

func TestBuildScript_EmbedsSelectors(t *testing.T) {
	bundle := genericBundle(t)
	bundle.Items = `div[data-x="a'b"]`

	script, err := BuildScript(bundle)
	require.NoError(t, err)
	assert.Contains(t, script, `"items":"div[data-x=\"a'b\"]"`)
	assert.Contains(t, script, "shadowRoot")
}

type panicStrategy struct{}

func (panicStrategy) Name() models.Strategy { return models.StrategyScriptEval }

func (panicStrategy) Extract(context.Context, renderer.Page, profile.SelectorBundle) ([]models.Product, error) {
	panic("boom")
}

func TestPipeline_Extract(t *testing.T) {
	html := `<html><head><script type="application/ld+json">
{"@type":"Product","name":"Denim Jacket","url":"/p/a","offers":{"price":"59.90","priceCurrency":"EUR"},
 "description":"Classic denim by Northwind Supply. Sizes: S/M/L in blue"}
</script></head><body>
<div class="product"><h3>Denim Jacket</h3><a href="/p/a">a</a><span class="price">€59,90</span></div>
<div class="product"><h3>Black Tee</h3><a href="/p/c">c</a><span class="price">€15</span></div>
</body></html>`

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewPipeline(testLogger(), NewStructuredData(), NewDOMSelector(), panicStrategy{})
	p.now = func() time.Time { return fixed }

	products, stats := p.Extract(context.Background(), loadPage(t, html), genericBundle(t), 2)

	require.Len(t, products, 3)
	require.Len(t, stats, 3)

	assert.Equal(t, models.StrategyStructuredData, products[0].Source)
	assert.Equal(t, models.StrategyDOMSelector, products[1].Source)
	assert.Equal(t, 2, products[2].PageNumber)
	assert.Equal(t, fixed, products[2].CapturedAt)
	assert.Equal(t, "Generic", products[2].Platform)

	first := products[0]
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "59.90", first.Amount)
	assert.Equal(t, "Northwind Supply", first.Brand)
	assert.Equal(t, []string{"S", "M", "L"}, first.Sizes)
	assert.Equal(t, []string{"blue"}, first.Colors)

	assert.Equal(t, 1, stats[0].Found)
	assert.Equal(t, 2, stats[1].Found)
	assert.Equal(t, 0, stats[2].Found)
	assert.Contains(t, stats[2].Error, "panicked")
}

func TestEnrich_PriceSemantics(t *testing.T) {
	n := textnorm.New()

	tests := []struct {
		name    string
		in      models.Product
		regular string
		sale    string
		onSale  bool
	}{
		{"price only", models.Product{PriceText: "$10"}, "$10", "", false},
		{"regular differs", models.Product{PriceText: "$8", RegularPriceText: "$10"}, "$10", "$8", true},
		{"explicit sale", models.Product{PriceText: "$10", RegularPriceText: "$10", SalePriceText: "$7"}, "$10", "$7", true},
		{"nothing", models.Product{Title: "x"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in
			Enrich(n, &p)
			assert.Equal(t, tt.regular, p.RegularPriceText)
			assert.Equal(t, tt.sale, p.SalePriceText)
			assert.Equal(t, tt.onSale, p.OnSale)
		})
	}
}

func TestEnrich_SpecPrice(t *testing.T) {
	p := models.Product{Title: "Go  Pack", PriceText: "£1,234.50"}
	Enrich(textnorm.New(), &p)

	assert.Equal(t, "Go Pack", p.Title)
	assert.Equal(t, "£", p.Currency)
	assert.Equal(t, "1,234.50", p.Amount)
	assert.Equal(t, textnorm.NotAvailable, p.Brand)
	assert.Equal(t, []string{}, p.Colors)
}
