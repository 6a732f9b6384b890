package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/renderer"
	"github.com/maltedev/listing-scraper/internal/textnorm"
)

// Pipeline runs strategies in order against one page. A failing strategy is
// recorded in the stats and never stops the others.
type Pipeline struct {
	strategies []Strategy
	normalizer *textnorm.Normalizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline builds a pipeline over strategies, or DefaultStrategies when
// none are given.
func NewPipeline(logger *slog.Logger, strategies ...Strategy) *Pipeline {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}

	return &Pipeline{
		strategies: strategies,
		normalizer: textnorm.New(),
		logger:     logger.With("component", "extract_pipeline"),
		now:        time.Now,
	}
}

// Extract returns every draft produced on the page, concatenated in strategy
// order, plus one stats entry per strategy.
func (p *Pipeline) Extract(ctx context.Context, page renderer.Page, bundle profile.SelectorBundle, pageNumber int) ([]models.Product, []models.StrategyStats) {
	var (
		drafts []models.Product
		stats  = make([]models.StrategyStats, 0, len(p.strategies))
	)

	for _, strategy := range p.strategies {
		found, err := p.run(ctx, strategy, page, bundle)

		st := models.StrategyStats{Strategy: strategy.Name(), Found: len(found)}
		if err != nil {
			st.Error = err.Error()
			if errors.Is(err, renderer.ErrUnsupported) {
				p.logger.Debug("strategy unsupported by renderer", "strategy", strategy.Name(), "page", pageNumber)
			} else {
				p.logger.Warn("strategy failed", "strategy", strategy.Name(), "page", pageNumber, "error", err)
			}
		}
		stats = append(stats, st)

		capturedAt := p.now().UTC()
		for i := range found {
			found[i].Source = strategy.Name()
			found[i].PageNumber = pageNumber
			found[i].CapturedAt = capturedAt
			found[i].Platform = bundle.Name
			Enrich(p.normalizer, &found[i])
		}
		drafts = append(drafts, found...)

		p.logger.Debug("strategy finished", "strategy", strategy.Name(), "page", pageNumber, "found", len(found))
	}

	return drafts, stats
}

func (p *Pipeline) run(ctx context.Context, s Strategy, page renderer.Page, bundle profile.SelectorBundle) (products []models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			products = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()

	return s.Extract(ctx, page, bundle)
}

// Enrich cleans raw fields and derives price, color, size and brand data.
func Enrich(n *textnorm.Normalizer, p *models.Product) {
	p.Title = textnorm.CleanText(p.Title)
	p.PriceText = textnorm.CleanText(p.PriceText)
	p.RegularPriceText = textnorm.CleanText(p.RegularPriceText)
	p.SalePriceText = textnorm.CleanText(p.SalePriceText)
	p.Description = textnorm.CleanText(p.Description)

	// Price semantics
	if p.RegularPriceText == "" {
		p.RegularPriceText = p.PriceText
	}
	if p.SalePriceText == "" && p.PriceText != "" && p.RegularPriceText != p.PriceText {
		p.SalePriceText = p.PriceText
	}
	p.OnSale = p.SalePriceText != "" && p.SalePriceText != p.RegularPriceText

	priceSource := p.PriceText
	if priceSource == "" {
		priceSource = p.SalePriceText
	}
	if priceSource == "" {
		priceSource = p.RegularPriceText
	}
	p.Currency, p.Amount = n.CurrencyAmount(priceSource)

	attrs := p.Title + " " + p.Description
	p.Colors = nonNil(n.Colors(attrs))
	p.Sizes = nonNil(n.Sizes(attrs))
	p.Brand = n.Brand(p.Description, p.Title)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
