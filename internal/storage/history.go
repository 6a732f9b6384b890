package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
)

// HistoryEntry summarizes one finished crawl.
type HistoryEntry struct {
	RunID      string        `json:"run_id"`
	URL        string        `json:"url"`
	Profile    string        `json:"profile"`
	Status     models.Status `json:"status"`
	Records    int           `json:"records"`
	Pages      int           `json:"pages"`
	OutputFile string        `json:"output_file,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// EntryFromResult builds a history entry for result.
func EntryFromResult(result *models.Result, outputFile string) HistoryEntry {
	return HistoryEntry{
		RunID:      result.RunID,
		URL:        result.StartURL,
		Profile:    result.Profile,
		Status:     result.Status,
		Records:    len(result.Products),
		Pages:      result.PageCount,
		OutputFile: outputFile,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
}

// HistoryStore is a JSON file of past crawls keyed by run id.
type HistoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*HistoryEntry
	filename string
}

func NewHistoryStore(filename string) (*HistoryStore, error) {
	hs := &HistoryStore{
		entries:  make(map[string]*HistoryEntry),
		filename: filename,
	}

	// Load existing data if file exists
	if err := hs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return hs, nil
}

func (hs *HistoryStore) Add(entry HistoryEntry) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}

	hs.entries[entry.RunID] = &entry
	return hs.save()
}

func (hs *HistoryStore) Get(runID string) (HistoryEntry, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	entry, exists := hs.entries[runID]
	if !exists {
		return HistoryEntry{}, false
	}
	return *entry, true
}

// List returns entries newest first, at most limit when limit > 0.
func (hs *HistoryStore) List(limit int) []HistoryEntry {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	out := make([]HistoryEntry, 0, len(hs.entries))
	for _, e := range hs.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats counts entries per status, plus "total".
func (hs *HistoryStore) Stats() map[string]int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	stats := make(map[string]int)
	for _, e := range hs.entries {
		stats[string(e.Status)]++
	}
	stats["total"] = len(hs.entries)
	return stats
}

func (hs *HistoryStore) save() error {
	data, err := json.MarshalIndent(hs.entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(hs.filename, data)
}

func (hs *HistoryStore) Load() error {
	data, err := os.ReadFile(hs.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &hs.entries)
}

// writeFileAtomic writes to a temp file and renames it into place.
func writeFileAtomic(filename string, data []byte) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, filename)
}
