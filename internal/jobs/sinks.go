package jobs

import (
	"context"
	"path/filepath"

	"github.com/maltedev/listing-scraper/internal/assets"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/storage"
)

// Outcome collects what the sinks produced for one result.
type Outcome struct {
	OutputFile string
	Images     int
}

// Sink consumes a finished crawl result. Sinks run in registration order.
type Sink interface {
	Name() string
	Handle(ctx context.Context, result *models.Result, outcome *Outcome) error
}

// ExportSink writes the result file.
type ExportSink struct {
	Dir    string
	Format string
}

func (s *ExportSink) Name() string { return "export" }

func (s *ExportSink) Handle(ctx context.Context, result *models.Result, outcome *Outcome) error {
	path, err := storage.SaveResult(s.Dir, result, s.Format)
	if err != nil {
		return err
	}
	outcome.OutputFile = path
	return nil
}

// HistorySink appends a summary to the history store.
type HistorySink struct {
	Store *storage.HistoryStore
}

func (s *HistorySink) Name() string { return "history" }

func (s *HistorySink) Handle(ctx context.Context, result *models.Result, outcome *Outcome) error {
	return s.Store.Add(storage.EntryFromResult(result, outcome.OutputFile))
}

// AssetSink downloads product images into Dir/<run id>.
type AssetSink struct {
	Fetcher *assets.Fetcher
	Dir     string
}

func (s *AssetSink) Name() string { return "assets" }

func (s *AssetSink) Handle(ctx context.Context, result *models.Result, outcome *Outcome) error {
	if len(result.Products) == 0 {
		return nil
	}
	downloaded, err := s.Fetcher.DownloadAll(ctx, result.Products, filepath.Join(s.Dir, result.RunID))
	if err != nil {
		return err
	}
	for _, a := range downloaded {
		if a.Error == "" {
			outcome.Images++
		}
	}
	return nil
}

// ResultPublisher persists a result and announces it downstream.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result *models.Result) error
}

// PublishSink hands the result to the outbox publisher.
type PublishSink struct {
	Publisher ResultPublisher
}

func (s *PublishSink) Name() string { return "publish" }

func (s *PublishSink) Handle(ctx context.Context, result *models.Result, outcome *Outcome) error {
	return s.Publisher.PublishResult(ctx, result)
}
