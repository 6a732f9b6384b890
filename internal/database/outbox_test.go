package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

func crawlEvent(aggregateID string) *OutboxEvent {
	return &OutboxEvent{
		AggregateType: "crawl_run",
		AggregateID:   aggregateID,
		EventType:     "LISTING_CRAWLED",
		Payload:       json.RawMessage(`{"run_id":"` + aggregateID + `","status":"OK"}`),
	}
}

func TestOutboxEvent_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(e *OutboxEvent)
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }},
		{"missing payload", func(e *OutboxEvent) { e.Payload = nil }},
		{"payload not json", func(e *OutboxEvent) { e.Payload = json.RawMessage(`{broken`) }},
	}

	require.NoError(t, crawlEvent("run-1").Validate())

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event := crawlEvent("run-1")
			tc.mutate(event)
			assert.ErrorIs(t, event.Validate(), ErrInvalidEvent)
		})
	}
}

func TestCalculateNextRetryTime(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(2*time.Second), calculateNextRetryTime(now, 1))
	assert.Equal(t, now.Add(16*time.Second), calculateNextRetryTime(now, 4))
	assert.Equal(t, now.Add(5*time.Minute), calculateNextRetryTime(now, 9))
	assert.Equal(t, now.Add(5*time.Minute), calculateNextRetryTime(now, 64))
}

func TestNextStatus(t *testing.T) {
	assert.Equal(t, OutboxStatusFailed, nextStatus(1))
	assert.Equal(t, OutboxStatusFailed, nextStatus(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, nextStatus(MaxRetryCount))
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "crawler", Password: "secret", Database: "listings"}
	assert.Equal(t, "postgres://crawler:secret@db:5433/listings?sslmode=disable", cfg.DSN())
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	repo := NewOutboxRepository(db)

	t.Run("successful insert with transaction", func(t *testing.T) {
		event := crawlEvent(uuid.NewString())

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultTargetStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rollback on transaction failure", func(t *testing.T) {
		event := crawlEvent(uuid.NewString())

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return pgx.ErrTxClosed
		})
		assert.Error(t, err)

		events, err := repo.GetPending(ctx, 100)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, event.AggregateID, e.AggregateID)
		}
	})

	t.Run("invalid event is rejected before insert", func(t *testing.T) {
		event := crawlEvent("")
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	repo := NewOutboxRepository(db)

	event := crawlEvent(uuid.NewString())
	event.RetryCount = MaxRetryCount - 1
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	processed := crawlEvent(uuid.NewString())
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, processed)
	}))

	t.Run("mark as processed", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, processed.ID))

		var status string
		var processedAt *time.Time
		err := db.QueryRow(ctx,
			"SELECT status, processed_at FROM outbox_event WHERE id = $1",
			processed.ID).Scan(&status, &processedAt)
		require.NoError(t, err)
		assert.Equal(t, OutboxStatusProcessed, status)
		assert.NotNil(t, processedAt)
	})

	t.Run("mark non-existent event", func(t *testing.T) {
		assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
	})

	t.Run("move to dead letter after max retries", func(t *testing.T) {
		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		var errorMsg *string
		err := db.QueryRow(ctx,
			"SELECT status, retry_count, error_message FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount, &errorMsg)
		require.NoError(t, err)
		assert.Equal(t, OutboxStatusDeadLetter, status)
		assert.Equal(t, MaxRetryCount, retryCount)
		require.NotNil(t, errorMsg)
		assert.Contains(t, *errorMsg, "assert.AnError")
	})

	t.Run("counts include dead letters", func(t *testing.T) {
		counts, err := repo.Counts(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, counts.DeadLetter, int64(1))
	})
}

func TestListingRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	repo := NewListingRepository(db)
	started := time.Now().UTC().Truncate(time.Millisecond)
	result := &models.Result{
		RunID:      uuid.NewString(),
		StartURL:   "https://shop.example/collections/all",
		Profile:    "Shopify",
		Status:     models.StatusOK,
		PageCount:  1,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
	result.Products = []models.Product{
		{Title: "Linen Shirt", PriceText: "$40.00", Currency: "USD", Amount: "40.00", Colors: []string{"White"}, Source: models.StrategyDOMSelector, PageNumber: 1, CapturedAt: started},
		{Title: "Wool Coat", ProductURL: "https://shop.example/products/coat", Source: models.StrategyStructuredData, PageNumber: 1, CapturedAt: started},
	}

	var runID uuid.UUID
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		var err error
		runID, err = repo.SaveWithTx(ctx, tx, result)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, result.RunID, runID.String())

	products, err := repo.Products(ctx, runID)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Linen Shirt", products[0].Title)
	assert.Equal(t, "40.00", products[0].Amount)
	assert.Equal(t, []string{"White"}, products[0].Colors)
	assert.Equal(t, "", products[1].Amount)
	assert.Equal(t, models.StrategyStructuredData, products[1].Source)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)

	_, err = repo.Products(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// setupTestDB connects to LISTING_TEST_DATABASE_URL and applies the schema.
// Tests that need Postgres are skipped when it is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("LISTING_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LISTING_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := &DB{pool: pool}
	require.NoError(t, db.Migrate(ctx))
	return db
}
