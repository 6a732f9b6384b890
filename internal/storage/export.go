package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/listing-scraper/internal/models"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"title", "price", "regular_price", "sale_price", "on_sale", "currency", "amount",
	"image_url", "product_url", "description", "colors", "sizes", "brand",
	"platform", "source_site", "source_strategy", "page_number", "captured_at",
}

// WriteJSON writes the full result, diagnostics included.
func WriteJSON(w io.Writer, result *models.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteCSV writes one row per product.
func WriteCSV(w io.Writer, products []models.Product) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, p := range products {
		row := []string{
			p.Title,
			p.PriceText,
			p.RegularPriceText,
			p.SalePriceText,
			strconv.FormatBool(p.OnSale),
			p.Currency,
			p.Amount,
			p.ImageURL,
			p.ProductURL,
			p.Description,
			strings.Join(p.Colors, ", "),
			strings.Join(p.Sizes, ", "),
			p.Brand,
			p.Platform,
			p.SourceSite,
			string(p.Source),
			strconv.Itoa(p.PageNumber),
			p.CapturedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveResult writes result under dir as <site>_<timestamp>.<format> and
// returns the path.
func SaveResult(dir string, result *models.Result, format string) (string, error) {
	var buf bytes.Buffer

	switch format {
	case FormatCSV:
		if err := WriteCSV(&buf, result.Products); err != nil {
			return "", err
		}
	case FormatJSON, "":
		format = FormatJSON
		if err := WriteJSON(&buf, result); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}

	name := fmt.Sprintf("%s_%s.%s", siteSlug(result.StartURL), result.StartedAt.UTC().Format("20060102_150405"), format)
	path := filepath.Join(dir, name)

	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to save result: %w", err)
	}
	return path, nil
}

func siteSlug(rawURL string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "crawl"
	}
	return b.String()
}
