// Package dedup merges product drafts into a unique, first-seen ordered set.
package dedup

import (
	"net/url"
	"strings"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/textnorm"
)

// Key derives the identity of a product. Absolute http(s) product URLs win,
// then the normalized title, then whatever product URL is left.
func Key(p *models.Product) string {
	raw := strings.TrimSpace(p.ProductURL)
	if isAbsoluteHTTP(raw) {
		return "url:" + raw
	}

	if title := strings.ToLower(textnorm.CleanText(p.Title)); title != "" {
		return "title:" + title
	}

	if raw != "" {
		return "url:" + raw
	}
	return ""
}

func isAbsoluteHTTP(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Set keeps the first product seen for every key. It is not safe for
// concurrent use; a crawl session owns exactly one.
type Set struct {
	seen    map[string]struct{}
	records []models.Product
}

func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add retains p unless it lacks identity or its key was already seen.
func (s *Set) Add(p models.Product) bool {
	if !p.HasIdentity() {
		return false
	}

	key := Key(&p)
	if _, dup := s.seen[key]; dup {
		return false
	}

	s.seen[key] = struct{}{}
	s.records = append(s.records, p)
	return true
}

// AddAll adds products in order and returns how many were retained.
func (s *Set) AddAll(products []models.Product) int {
	added := 0
	for _, p := range products {
		if s.Add(p) {
			added++
		}
	}
	return added
}

func (s *Set) Len() int {
	return len(s.records)
}

// Truncate drops retained records beyond n.
func (s *Set) Truncate(n int) {
	if n < 0 || n >= len(s.records) {
		return
	}
	for _, p := range s.records[n:] {
		delete(s.seen, Key(&p))
	}
	s.records = s.records[:n]
}

// Records returns a copy of the retained products in insertion order.
func (s *Set) Records() []models.Product {
	out := make([]models.Product, len(s.records))
	copy(out, s.records)
	return out
}

// Merge deduplicates drafts in one pass.
func Merge(drafts []models.Product) []models.Product {
	s := NewSet()
	s.AddAll(drafts)
	return s.Records()
}
