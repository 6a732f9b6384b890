// Package assets downloads product images after a crawl finishes.
package assets

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
	"golang.org/x/sync/errgroup"
)

const maxAssetBytes = 10 << 20

// Asset is the outcome of fetching one product image.
type Asset struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	workers   int
	logger    *slog.Logger
}

func NewFetcher(client *http.Client, userAgent string, timeout time.Duration, workers int, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		timeout:   timeout,
		workers:   workers,
		logger:    logger.With("component", "asset_fetcher"),
	}
}

// FetchBytes downloads rawURL within timeout.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if len(data) > maxAssetBytes {
		return nil, fmt.Errorf("asset %s exceeds %d bytes", rawURL, maxAssetBytes)
	}
	return data, nil
}

// DownloadAll stores every product image under dir. A failed image is
// reported in its Asset and never stops the others; only ctx cancellation
// aborts the batch.
func (f *Fetcher) DownloadAll(ctx context.Context, products []models.Product, dir string) ([]Asset, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}

	var (
		mu     sync.Mutex
		assets []Asset
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, p := range products {
		if p.ImageURL == "" || !strings.HasPrefix(p.ImageURL, "http") {
			continue
		}
		if gctx.Err() != nil {
			break
		}

		i, imageURL := i, p.ImageURL
		g.Go(func() error {
			asset := Asset{Index: i, URL: imageURL}

			data, err := f.FetchBytes(gctx, imageURL, f.timeout)
			if err == nil {
				target := filepath.Join(dir, FileName(imageURL))
				if err = os.WriteFile(target, data, 0o644); err == nil {
					asset.Path = target
				}
			}
			if err != nil {
				asset.Error = err.Error()
				f.logger.Debug("image download failed", "url", imageURL, "error", err)
			}

			mu.Lock()
			assets = append(assets, asset)
			mu.Unlock()

			return gctx.Err()
		})
	}

	err := g.Wait()

	sort.Slice(assets, func(i, j int) bool { return assets[i].Index < assets[j].Index })
	f.logger.Info("images downloaded", "requested", len(assets), "dir", dir)
	return assets, err
}

// FileName derives a stable file name from an image URL.
func FileName(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	name := hex.EncodeToString(sum[:8])

	ext := ".jpg"
	if u, err := url.Parse(rawURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); len(e) > 1 && len(e) <= 5 {
			ext = e
		}
	}
	return name + ext
}
