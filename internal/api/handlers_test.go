package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/crawler"
	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/storage"
)

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, task *queue.Task) (*models.Result, error) {
	return &models.Result{
		RunID:    "run-" + task.ID,
		StartURL: task.URL,
		Status:   models.StatusOK,
		Products: []models.Product{{Title: "Linen Shirt", PageNumber: 1, Source: models.StrategyDOMSelector}},
	}, nil
}

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.RunSummary), args.Error(1)
}

func (m *MockRunStore) Products(ctx context.Context, runID uuid.UUID) ([]models.Product, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Product), args.Error(1)
}

type MockOutboxCounter struct {
	mock.Mock
}

func (m *MockOutboxCounter) Counts(ctx context.Context) (database.OutboxCounts, error) {
	args := m.Called(ctx)
	return args.Get(0).(database.OutboxCounts), args.Error(1)
}

type testServer struct {
	handler http.Handler
	manager *jobs.Manager
	queue   *queue.InMemoryQueue
	history *storage.HistoryStore
}

func newTestServer(t *testing.T, runs RunStore, outbox OutboxCounter) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	history, err := storage.NewHistoryStore(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	q := queue.NewInMemoryQueue(2)
	manager := jobs.NewManager(stubRunner{}, q, profile.NewRegistry(), crawler.DefaultOptions(), logger,
		&jobs.HistorySink{Store: history})

	return &testServer{
		handler: NewRouter(NewHandlers(manager, history, runs, outbox, logger)),
		manager: manager,
		queue:   q,
		history: history,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// process runs every queued job to completion.
func (s *testServer) process(t *testing.T) {
	t.Helper()
	require.NoError(t, s.queue.Close())
	s.manager.StartWorkers(context.Background(), 1)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCreateCrawl(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/crawls", map[string]interface{}{
		"url":       "https://shop.example/collections/all",
		"profile":   "Shopify",
		"max_pages": 2,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp CreateCrawlResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, jobs.StatusPending, resp.Status)
	assert.Equal(t, 2, resp.Job.MaxPages)

	rec = srv.do(t, http.MethodGet, "/api/v1/crawls/"+resp.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateCrawl_Errors(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/crawls", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/crawls", map[string]string{"url": "notaurl"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/crawls", map[string]string{"url": "https://a.example", "profile": "Etsy"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		rec = srv.do(t, http.MethodPost, "/api/v1/crawls", map[string]string{"url": "https://a.example"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/v1/crawls", map[string]string{"url": "https://a.example"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateCrawlBatch(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/crawls/batch", BatchCrawlRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/v1/crawls/batch", BatchCrawlRequest{Crawls: []jobs.Request{
		{URL: "https://a.example"},
		{URL: "https://b.example"},
	}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Jobs  []jobs.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)

	rec = srv.do(t, http.MethodGet, "/api/v1/crawls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []jobs.Job
	decode(t, rec, &listed)
	assert.Len(t, listed, 2)
}

func TestGetCrawl_NotFound(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/crawls/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/crawls/missing/products", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCrawlProducts(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodPost, "/api/v1/crawls", map[string]string{"url": "https://shop.example"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created CreateCrawlResponse
	decode(t, rec, &created)

	rec = srv.do(t, http.MethodGet, "/api/v1/crawls/"+created.JobID+"/products", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	srv.process(t)

	rec = srv.do(t, http.MethodGet, "/api/v1/crawls/"+created.JobID+"/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products ProductsResponse
	decode(t, rec, &products)
	assert.Equal(t, 1, products.Count)
	assert.Equal(t, models.StatusOK, products.Status)
	assert.Equal(t, "Linen Shirt", products.Products[0].Title)

	rec = srv.do(t, http.MethodGet, "/api/v1/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []storage.HistoryEntry
	decode(t, rec, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "https://shop.example", history[0].URL)

	rec = srv.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed_jobs":1`)
}

func TestListProfiles(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Profiles []string `json:"profiles"`
	}
	decode(t, rec, &resp)
	assert.Contains(t, resp.Profiles, "Generic")
	assert.Contains(t, resp.Profiles, "Shopify")
}

func TestRuns(t *testing.T) {
	runs := new(MockRunStore)
	srv := newTestServer(t, runs, nil)
	runID := uuid.New()

	runs.On("ListRuns", mock.Anything, 50).Return([]database.RunSummary{
		{ID: runID, StartURL: "https://shop.example", Status: models.StatusOK, StartedAt: time.Now()},
	}, nil)
	runs.On("Products", mock.Anything, runID).Return([]models.Product{{Title: "Wool Coat"}}, nil)
	missing := uuid.New()
	runs.On("Products", mock.Anything, missing).Return(nil, database.ErrRunNotFound)

	rec := srv.do(t, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID.String())

	rec = srv.do(t, http.MethodGet, "/api/v1/runs/"+runID.String()+"/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Wool Coat")

	rec = srv.do(t, http.MethodGet, "/api/v1/runs/"+missing.String()+"/products", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/v1/runs/not-a-uuid/products", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs.AssertExpectations(t)
}

func TestRuns_NotMountedWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	rec := srv.do(t, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Run("without outbox", func(t *testing.T) {
		srv := newTestServer(t, nil, nil)
		rec := srv.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	tests := []struct {
		name       string
		counts     database.OutboxCounts
		err        error
		wantCode   int
		wantStatus string
	}{
		{"healthy", database.OutboxCounts{Pending: 3}, nil, http.StatusOK, "ok"},
		{"backlog", database.OutboxCounts{Pending: 5000}, nil, http.StatusOK, "warning"},
		{"dead letters", database.OutboxCounts{DeadLetter: 101}, nil, http.StatusServiceUnavailable, "error"},
		{"db down", database.OutboxCounts{}, errors.New("connection refused"), http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := new(MockOutboxCounter)
			outbox.On("Counts", mock.Anything).Return(tt.counts, tt.err)
			srv := newTestServer(t, nil, outbox)

			rec := srv.do(t, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]interface{}
			decode(t, rec, &body)
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}
