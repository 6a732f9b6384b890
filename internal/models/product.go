package models

import (
	"time"
)

// Strategy identifies the extraction technique that produced a product.
type Strategy string

const (
	StrategyStructuredData Strategy = "structured_data"
	StrategyDOMSelector    Strategy = "dom_selector"
	StrategyScriptEval     Strategy = "script_eval"
)

// Priority orders strategies for first-seen-wins merging. Lower runs first.
func (s Strategy) Priority() int {
	switch s {
	case StrategyStructuredData:
		return 0
	case StrategyDOMSelector:
		return 1
	case StrategyScriptEval:
		return 2
	default:
		return 3
	}
}

// Product is a single listing entry. Before deduplication it is a draft; the
// same shape is retained verbatim once it wins its dedup key.
type Product struct {
	ProductID        string    `json:"product_id,omitempty"`
	Title            string    `json:"title"`
	PriceText        string    `json:"price_text"`
	RegularPriceText string    `json:"regular_price_text"`
	SalePriceText    string    `json:"sale_price_text"`
	OnSale           bool      `json:"on_sale"`
	Currency         string    `json:"currency"`
	Amount           string    `json:"amount"`
	ImageURL         string    `json:"image_url"`
	ProductURL       string    `json:"product_url"`
	Description      string    `json:"description"`
	Colors           []string  `json:"colors"`
	Sizes            []string  `json:"sizes"`
	Brand            string    `json:"brand"`
	Platform         string    `json:"platform"`
	SourceSite       string    `json:"source_site"`
	Source           Strategy  `json:"source_strategy"`
	PageNumber       int       `json:"page_number"`
	CapturedAt       time.Time `json:"captured_at"`
}

// HasIdentity reports whether the product carries enough data to be kept.
func (p *Product) HasIdentity() bool {
	return p.Title != "" || p.ProductURL != ""
}

func (p *Product) Validate() []string {
	var errors []string

	if !p.HasIdentity() {
		errors = append(errors, "title or product URL is required")
	}

	if p.PageNumber < 1 {
		errors = append(errors, "page number must be at least 1")
	}

	if p.Source == "" {
		errors = append(errors, "source strategy is required")
	}

	return errors
}
