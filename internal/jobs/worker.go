package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/listing-scraper/internal/queue"
)

// StartWorkers runs n workers until ctx is done or the queue is closed and
// drained. It blocks until every worker has returned.
func (m *Manager) StartWorkers(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}

	m.logger.Info("job workers started", "workers", n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			m.work(ctx, worker)
		}(i)
	}
	wg.Wait()

	m.logger.Info("job workers stopped")
}

func (m *Manager) work(ctx context.Context, worker int) {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				m.logger.Error("failed to pop task", "worker", worker, "error", err)
			}
			return
		}
		m.processTask(ctx, task)
	}
}

func (m *Manager) processTask(ctx context.Context, task *queue.Task) {
	logger := m.logger.With("job_id", task.ID, "url", task.URL)
	logger.Info("processing job")

	m.markRunning(task.ID)

	result, err := m.runner.Run(ctx, task)
	if err != nil {
		logger.Error("job failed", "error", err)
		m.markFinished(task.ID, nil, nil, fmt.Errorf("crawl failed: %w", err))
		return
	}

	outcome := &Outcome{}
	var sinkErrs []error
	for _, sink := range m.sinks {
		if err := sink.Handle(ctx, result, outcome); err != nil {
			logger.Error("result sink failed", "sink", sink.Name(), "error", err)
			sinkErrs = append(sinkErrs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}

	m.markFinished(task.ID, result, outcome, errors.Join(sinkErrs...))

	logger.Info("job completed",
		"run_id", result.RunID,
		"status", result.Status,
		"records", len(result.Products),
		"pages", result.PageCount)
}
