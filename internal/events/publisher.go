package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/models"
)

type EventType string

const (
	// EventTypeListingCrawled is published once per finished crawl run
	EventTypeListingCrawled EventType = "LISTING_CRAWLED"

	aggregateType = "crawl_run"
	sampleSize    = 5
)

// ProductSummary is the slice of a product carried on the stream.
type ProductSummary struct {
	Title      string `json:"title"`
	PriceText  string `json:"price_text,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Amount     string `json:"amount,omitempty"`
	ProductURL string `json:"product_url,omitempty"`
	OnSale     bool   `json:"on_sale"`
}

// ListingCrawledPayload is the body of a LISTING_CRAWLED event.
type ListingCrawledPayload struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	Timestamp   time.Time        `json:"timestamp"`
	RunID       string           `json:"run_id"`
	StartURL    string           `json:"start_url"`
	Profile     string           `json:"profile"`
	Status      models.Status    `json:"status"`
	PageCount   int              `json:"page_count"`
	RecordCount int              `json:"record_count"`
	OnSaleCount int              `json:"on_sale_count"`
	DurationMS  int64            `json:"duration_ms"`
	Sample      []ProductSummary `json:"sample"`
	Source      string           `json:"source"`
}

// NewListingCrawledPayload summarises result. Only the first few products
// travel with the event; consumers load the rest from crawl_runs.
func NewListingCrawledPayload(result *models.Result) *ListingCrawledPayload {
	payload := &ListingCrawledPayload{
		EventType:   string(EventTypeListingCrawled),
		RunID:       result.RunID,
		StartURL:    result.StartURL,
		Profile:     result.Profile,
		Status:      result.Status,
		PageCount:   result.PageCount,
		RecordCount: len(result.Products),
		DurationMS:  result.Duration().Milliseconds(),
		Sample:      []ProductSummary{},
		Source:      database.RelaySource,
	}

	for i := range result.Products {
		p := &result.Products[i]
		if p.OnSale {
			payload.OnSaleCount++
		}
		if len(payload.Sample) < sampleSize {
			payload.Sample = append(payload.Sample, ProductSummary{
				Title:      p.Title,
				PriceText:  p.PriceText,
				Currency:   p.Currency,
				Amount:     p.Amount,
				ProductURL: p.ProductURL,
				OnSale:     p.OnSale,
			})
		}
	}
	return payload
}

type transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type runWriter interface {
	SaveWithTx(ctx context.Context, tx pgx.Tx, result *models.Result) (uuid.UUID, error)
}

type outboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores crawl results and their outbox event in one transaction
type Publisher struct {
	db     transactor
	runs   runWriter
	outbox outboxWriter
	stream string
	now    func() time.Time
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewListingRepository(db), database.NewOutboxRepository(db), logger)
}

func newPublisher(db transactor, runs runWriter, outbox outboxWriter, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		runs:   runs,
		outbox: outbox,
		stream: database.DefaultTargetStream,
		now:    time.Now,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishResult persists result and enqueues a LISTING_CRAWLED event. Either
// both are committed or neither is.
func (p *Publisher) PublishResult(ctx context.Context, result *models.Result) error {
	if result.RunID == "" {
		result.RunID = uuid.New().String()
	}

	payload := NewListingCrawledPayload(result)
	payload.EventID = uuid.New().String()
	payload.Timestamp = p.now().UTC()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   result.RunID,
		EventType:     string(EventTypeListingCrawled),
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := p.runs.SaveWithTx(ctx, tx, result); err != nil {
			return err
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish crawl result: %w", err)
	}

	p.logger.Info("crawl result published to outbox",
		"event_id", payload.EventID,
		"run_id", result.RunID,
		"status", result.Status,
		"records", payload.RecordCount,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
