package dedup

import (
	"testing"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		p    models.Product
		want string
	}{
		{"absolute url", models.Product{ProductURL: "https://shop.test/p/1", Title: "X"}, "url:https://shop.test/p/1"},
		{"relative url falls back to title", models.Product{ProductURL: "/p/1", Title: "  Linen   SHIRT "}, "title:linen shirt"},
		{"title only", models.Product{Title: "Coat"}, "title:coat"},
		{"relative url without title", models.Product{ProductURL: "/p/9"}, "url:/p/9"},
		{"ftp is not http", models.Product{ProductURL: "ftp://shop.test/p", Title: "T"}, "title:t"},
		{"empty", models.Product{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(&tt.p))
		})
	}
}

func TestMerge_FirstSeenWins(t *testing.T) {
	drafts := []models.Product{
		{ProductURL: "https://shop.test/A", Title: "A from structured data", Source: models.StrategyStructuredData},
		{ProductURL: "https://shop.test/B", Title: "B", Source: models.StrategyStructuredData},
		{ProductURL: "https://shop.test/A", Title: "A from dom", PriceText: "$1", Source: models.StrategyDOMSelector},
		{ProductURL: "https://shop.test/C", Title: "C", Source: models.StrategyDOMSelector},
	}

	merged := Merge(drafts)
	require.Len(t, merged, 3)

	assert.Equal(t, "A from structured data", merged[0].Title)
	assert.Empty(t, merged[0].PriceText, "fields are not merged across sightings")
	assert.Equal(t, "https://shop.test/B", merged[1].ProductURL)
	assert.Equal(t, "https://shop.test/C", merged[2].ProductURL)
}

func TestMerge_Idempotent(t *testing.T) {
	drafts := []models.Product{
		{Title: "Tee"},
		{Title: "tee"},
		{ProductURL: "https://shop.test/x"},
		{},
		{ProductURL: "/rel"},
		{ProductURL: "/rel"},
	}

	once := Merge(drafts)
	twice := Merge(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, once, Merge(append(append([]models.Product{}, drafts...), drafts...)))
}

func TestMerge_MinimalFieldInvariant(t *testing.T) {
	merged := Merge([]models.Product{
		{PriceText: "$5"},
		{Description: "no identity"},
		{Title: "Kept"},
	})

	require.Len(t, merged, 1)
	for _, p := range merged {
		assert.True(t, p.Title != "" || p.ProductURL != "")
	}
}

func TestSet_AddAllAndTruncate(t *testing.T) {
	s := NewSet()

	added := s.AddAll([]models.Product{{Title: "a"}, {Title: "b"}, {Title: "A"}, {Title: "c"}})
	assert.Equal(t, 3, added)
	assert.Equal(t, 3, s.Len())

	s.Truncate(2)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Add(models.Product{Title: "c"}), "truncated keys can be seen again")

	records := s.Records()
	records[0].Title = "mutated"
	assert.Equal(t, "a", s.Records()[0].Title)
}
