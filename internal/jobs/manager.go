package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/crawler"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/profile"
	"github.com/maltedev/listing-scraper/internal/queue"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidRequest = errors.New("invalid crawl request")
)

// Request asks for one crawl. Nil fields fall back to the manager defaults.
type Request struct {
	URL        string `json:"url"`
	Profile    string `json:"profile,omitempty"`
	MaxPages   *int   `json:"max_pages,omitempty"`
	MaxRecords *int   `json:"max_records,omitempty"`
	Pagination *bool  `json:"pagination,omitempty"`
	Priority   int    `json:"priority,omitempty"`
}

// Job tracks a queued crawl through to its result.
type Job struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Profile     string        `json:"profile"`
	MaxPages    int           `json:"max_pages"`
	MaxRecords  int           `json:"max_records"`
	Pagination  bool          `json:"pagination"`
	Status      string        `json:"status"`
	RunID       string        `json:"run_id,omitempty"`
	CrawlStatus models.Status `json:"crawl_status,omitempty"`
	PageCount   int           `json:"page_count"`
	RecordCount int           `json:"record_count"`
	OutputFile  string        `json:"output_file,omitempty"`
	Images      int           `json:"images_downloaded,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type Stats struct {
	TotalJobs     int            `json:"total_jobs"`
	PendingJobs   int            `json:"pending_jobs"`
	RunningJobs   int            `json:"running_jobs"`
	CompletedJobs int            `json:"completed_jobs"`
	FailedJobs    int            `json:"failed_jobs"`
	QueueSize     int            `json:"queue_size"`
	TotalRecords  int            `json:"total_records"`
	CrawlStatuses map[string]int `json:"crawl_statuses"`
	SuccessRate   float64        `json:"success_rate"`
}

// Runner performs the crawl for one task.
type Runner interface {
	Run(ctx context.Context, task *queue.Task) (*models.Result, error)
}

// Manager accepts crawl requests, queues them and records their outcome.
type Manager struct {
	runner   Runner
	queue    queue.Queue
	registry *profile.Registry
	defaults crawler.Options
	sinks    []Sink
	logger   *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*Job
	results map[string]*models.Result
	now     func() time.Time
}

func NewManager(runner Runner, q queue.Queue, registry *profile.Registry, defaults crawler.Options, logger *slog.Logger, sinks ...Sink) *Manager {
	if registry == nil {
		registry = profile.NewRegistry()
	}
	return &Manager{
		runner:   runner,
		queue:    q,
		registry: registry,
		defaults: defaults,
		sinks:    sinks,
		logger:   logger.With("component", "job_manager"),
		jobs:     make(map[string]*Job),
		results:  make(map[string]*models.Result),
		now:      time.Now,
	}
}

// Submit validates req and queues it.
func (m *Manager) Submit(ctx context.Context, req Request) (*Job, error) {
	task, err := m.taskFor(req)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:         task.ID,
		URL:        task.URL,
		Profile:    task.Profile,
		MaxPages:   task.MaxPages,
		MaxRecords: task.MaxRecords,
		Pagination: task.Pagination,
		Status:     StatusPending,
		CreatedAt:  task.CreatedAt,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if err := m.queue.Push(task); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", job.URL, "profile", job.Profile)
	return m.snapshot(job), nil
}

// SubmitBatch queues every request, stopping at the first invalid one.
func (m *Manager) SubmitBatch(ctx context.Context, reqs []Request) ([]*Job, error) {
	jobs := make([]*Job, 0, len(reqs))
	for i, req := range reqs {
		job, err := m.Submit(ctx, req)
		if err != nil {
			return jobs, fmt.Errorf("request %d: %w", i, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (m *Manager) taskFor(req Request) (*queue.Task, error) {
	raw := strings.TrimSpace(req.URL)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: url %q", ErrInvalidRequest, req.URL)
	}

	task := &queue.Task{
		ID:         uuid.New().String(),
		URL:        raw,
		Profile:    m.defaults.Profile,
		MaxPages:   m.defaults.MaxPages,
		MaxRecords: m.defaults.MaxRecords,
		Pagination: m.defaults.Pagination,
		Priority:   req.Priority,
		CreatedAt:  m.now(),
	}

	if req.Profile != "" {
		if !m.registry.Has(req.Profile) {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidRequest, profile.ErrUnknownProfile, req.Profile)
		}
		task.Profile = req.Profile
	}
	if req.MaxPages != nil {
		if *req.MaxPages < 1 {
			return nil, fmt.Errorf("%w: max_pages must be at least 1", ErrInvalidRequest)
		}
		task.MaxPages = *req.MaxPages
	}
	if req.MaxRecords != nil {
		if *req.MaxRecords < 0 {
			return nil, fmt.Errorf("%w: max_records must not be negative", ErrInvalidRequest)
		}
		task.MaxRecords = *req.MaxRecords
	}
	if req.Pagination != nil {
		task.Pagination = *req.Pagination
	}

	return task, nil
}

func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(job), nil
}

// GetResult returns the crawl result of a finished job, or nil while it runs.
func (m *Manager) GetResult(id string) (*models.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, ErrJobNotFound
	}
	return m.results[id], nil
}

// ListJobs returns jobs newest first.
func (m *Manager) ListJobs(limit int) []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, m.snapshot(job))
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

func (m *Manager) GetStats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalJobs:     len(m.jobs),
		QueueSize:     m.queue.Size(),
		CrawlStatuses: make(map[string]int),
	}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		if job.CrawlStatus != "" {
			stats.CrawlStatuses[string(job.CrawlStatus)]++
		}
		stats.TotalRecords += job.RecordCount
	}

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats
}

// Profiles lists the registered profile names.
func (m *Manager) Profiles() []string {
	return m.registry.Names()
}

func (m *Manager) snapshot(job *Job) *Job {
	cp := *job
	return &cp
}

func (m *Manager) markRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[id]; ok {
		now := m.now()
		job.Status = StatusRunning
		job.StartedAt = &now
	}
}

func (m *Manager) markFinished(id string, result *models.Result, outcome *Outcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}

	now := m.now()
	job.CompletedAt = &now
	if result != nil {
		job.RunID = result.RunID
		job.CrawlStatus = result.Status
		job.PageCount = result.PageCount
		job.RecordCount = len(result.Products)
		m.results[id] = result
	}
	if outcome != nil {
		job.OutputFile = outcome.OutputFile
		job.Images = outcome.Images
	}

	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		return
	}
	job.Status = StatusCompleted
}
