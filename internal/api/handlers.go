package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/storage"
)

const (
	maxBatchSize     = 50
	pendingWarnLevel = 1000
	deadLetterLimit  = 100
)

// RunStore reads persisted crawl runs.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]database.RunSummary, error)
	Products(ctx context.Context, runID uuid.UUID) ([]models.Product, error)
}

// OutboxCounter reports the relay backlog.
type OutboxCounter interface {
	Counts(ctx context.Context) (database.OutboxCounts, error)
}

type Handlers struct {
	jobs    *jobs.Manager
	history *storage.HistoryStore
	runs    RunStore
	outbox  OutboxCounter
	logger  *slog.Logger
}

// NewHandlers wires the HTTP layer. history, runs and outbox are optional.
func NewHandlers(manager *jobs.Manager, history *storage.HistoryStore, runs RunStore, outbox OutboxCounter, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:    manager,
		history: history,
		runs:    runs,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

type CreateCrawlResponse struct {
	JobID   string    `json:"job_id"`
	Status  string    `json:"status"`
	Job     *jobs.Job `json:"job"`
	Message string    `json:"message"`
}

type BatchCrawlRequest struct {
	Crawls []jobs.Request `json:"crawls"`
}

type ProductsResponse struct {
	JobID    string           `json:"job_id,omitempty"`
	RunID    string           `json:"run_id"`
	Status   models.Status    `json:"status"`
	Count    int              `json:"count"`
	Products []models.Product `json:"products"`
}

// CreateCrawl queues a single crawl.
func (h *Handlers) CreateCrawl(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateCrawlResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Job:     job,
		Message: "crawl queued",
	})
}

// CreateCrawlBatch queues several crawls at once.
func (h *Handlers) CreateCrawlBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Crawls) == 0 {
		h.respondError(w, http.StatusBadRequest, "crawls must not be empty")
		return
	}
	if len(req.Crawls) > maxBatchSize {
		h.respondError(w, http.StatusBadRequest, "too many crawls in one batch")
		return
	}

	created, err := h.jobs.SubmitBatch(r.Context(), req.Crawls)
	if err != nil {
		h.logger.Warn("batch partially queued", "queued", len(created), "error", err)
		h.respondJSON(w, statusForSubmit(err), map[string]interface{}{
			"error": err.Error(),
			"jobs":  created,
		})
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobs":  created,
		"count": len(created),
	})
}

func (h *Handlers) GetCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListCrawls(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs(queryLimit(r, 100)))
}

// GetCrawlProducts returns the records of a finished job.
func (h *Handlers) GetCrawlProducts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	result, err := h.jobs.GetResult(jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if result == nil {
		h.respondError(w, http.StatusConflict, "job has not finished")
		return
	}

	h.respondJSON(w, http.StatusOK, ProductsResponse{
		JobID:    jobID,
		RunID:    result.RunID,
		Status:   result.Status,
		Count:    len(result.Products),
		Products: result.Products,
	})
}

func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": h.jobs.Profiles(),
	})
}

func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.respondJSON(w, http.StatusOK, []storage.HistoryEntry{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.history.List(queryLimit(r, 50)))
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"jobs": h.jobs.GetStats(),
	}
	if h.history != nil {
		resp["history"] = h.history.Stats()
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.Context(), queryLimit(r, 50))
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []database.RunSummary{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetRunProducts(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	products, err := h.runs.Products(r.Context(), runID)
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load run products", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load products")
		return
	}

	h.respondJSON(w, http.StatusOK, ProductsResponse{
		RunID:    runID.String(),
		Count:    len(products),
		Products: products,
	})
}

// Health reports ok unless the outbox backlog signals a stuck relay.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"queue":  h.jobs.GetStats().QueueSize,
	}
	status := http.StatusOK

	if h.outbox != nil {
		counts, err := h.outbox.Counts(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox counts", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = counts
		if counts.Pending > pendingWarnLevel {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if counts.DeadLetter > deadLetterLimit {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondSubmitError(w http.ResponseWriter, err error) {
	status := statusForSubmit(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("failed to queue crawl", "error", err)
	}
	h.respondError(w, status, err.Error())
}

func statusForSubmit(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
