package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/models"
)

// ErrRunNotFound is returned when no crawl run has the requested id.
var ErrRunNotFound = errors.New("crawl run not found")

// RunSummary is one row of crawl_runs.
type RunSummary struct {
	ID          uuid.UUID     `json:"id"`
	StartURL    string        `json:"start_url"`
	Profile     string        `json:"profile"`
	Status      models.Status `json:"status"`
	PageCount   int           `json:"page_count"`
	RecordCount int           `json:"record_count"`
	Screenshot  *string       `json:"screenshot,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// ListingRepository persists crawl results.
type ListingRepository struct {
	db *DB
}

func NewListingRepository(db *DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// SaveWithTx stores the run and its products inside tx. Products keep their
// result order through the position column.
func (r *ListingRepository) SaveWithTx(ctx context.Context, tx pgx.Tx, result *models.Result) (uuid.UUID, error) {
	runID, err := uuid.Parse(result.RunID)
	if err != nil {
		runID = uuid.New()
	}

	var screenshot *string
	if result.ScreenshotPath != "" {
		screenshot = &result.ScreenshotPath
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO crawl_runs (
			id, start_url, profile, status, page_count,
			record_count, screenshot, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		runID, result.StartURL, result.Profile, string(result.Status), result.PageCount,
		len(result.Products), screenshot, result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert crawl run: %w", err)
	}

	if len(result.Products) == 0 {
		return runID, nil
	}

	batch := &pgx.Batch{}
	for i := range result.Products {
		p := &result.Products[i]
		batch.Queue(`
			INSERT INTO listing_products (
				run_id, position, product_id, title, price_text,
				regular_price_text, sale_price_text, on_sale, currency, amount,
				image_url, product_url, description, colors, sizes,
				brand, platform, source_site, source, page_number, captured_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::numeric,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
			)`,
			runID, i, p.ProductID, p.Title, p.PriceText,
			p.RegularPriceText, p.SalePriceText, p.OnSale, p.Currency, p.Amount,
			p.ImageURL, p.ProductURL, p.Description, nonNil(p.Colors), nonNil(p.Sizes),
			p.Brand, p.Platform, p.SourceSite, string(p.Source), p.PageNumber, p.CapturedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return uuid.Nil, fmt.Errorf("failed to insert product %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to close product batch: %w", err)
	}

	return runID, nil
}

// ListRuns returns the most recent runs first.
func (r *ListingRepository) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT id, start_url, profile, status, page_count,
			record_count, screenshot, started_at, finished_at
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var status string
		if err := rows.Scan(
			&run.ID, &run.StartURL, &run.Profile, &status, &run.PageCount,
			&run.RecordCount, &run.Screenshot, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan crawl run: %w", err)
		}
		run.Status = models.Status(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// Products loads the stored products of one run in their original order.
func (r *ListingRepository) Products(ctx context.Context, runID uuid.UUID) ([]models.Product, error) {
	var exists bool
	if err := r.db.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM crawl_runs WHERE id = $1)", runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up crawl run: %w", err)
	}
	if !exists {
		return nil, ErrRunNotFound
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT product_id, title, price_text, regular_price_text, sale_price_text,
			on_sale, currency, COALESCE(amount::text, ''), image_url, product_url,
			description, colors, sizes, brand, platform,
			source_site, source, page_number, captured_at
		FROM listing_products
		WHERE run_id = $1
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		var source string
		if err := rows.Scan(
			&p.ProductID, &p.Title, &p.PriceText, &p.RegularPriceText, &p.SalePriceText,
			&p.OnSale, &p.Currency, &p.Amount, &p.ImageURL, &p.ProductURL,
			&p.Description, &p.Colors, &p.Sizes, &p.Brand, &p.Platform,
			&p.SourceSite, &source, &p.PageNumber, &p.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Source = models.Strategy(source)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return products, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
