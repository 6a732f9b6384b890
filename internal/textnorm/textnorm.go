package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// NotAvailable is the placeholder used when a derived attribute could not be found.
const NotAvailable = "N/A"

var whitespacePattern = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

type Normalizer struct {
	symbolPattern *regexp.Regexp
	isoPattern    *regexp.Regexp
	amountPattern *regexp.Regexp
	colors        []string
	sizeLists     []*regexp.Regexp
	sizeTokens    *regexp.Regexp
	measurements  *regexp.Regexp
	knownSizes    map[string]bool
	brandPatterns []*regexp.Regexp
}

func New() *Normalizer {
	brandName := `([A-Za-z0-9&][A-Za-z0-9&'-]*(?:[ \t]+[A-Z0-9&][A-Za-z0-9&'-]*){0,2})`

	return &Normalizer{
		symbolPattern: regexp.MustCompile(`[$€£¥₹]`),
		isoPattern:    regexp.MustCompile(`(?:^|[^A-Za-z])([A-Z]{3})(?:[^A-Za-z]|$)`),
		amountPattern: regexp.MustCompile(`\d[\d,.]*`),
		colors: []string{
			"black", "white", "red", "blue", "green", "yellow", "purple", "pink",
			"orange", "brown", "grey", "gray", "navy", "beige", "gold", "silver",
			"tan", "olive", "teal", "maroon", "ivory", "khaki",
		},
		sizeLists: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsizes?\s*(?::|is|are)?\s*([XSML0-9][XSML0-9,/ \t]*)`),
		},
		sizeTokens:   regexp.MustCompile(`\b(XXS|XS|S|M|L|XL|XXL|XXXL|[2-5]XL)\b`),
		measurements: regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:(cm|mm|inches|inch)\b|(")|(''))`),
		knownSizes: map[string]bool{
			"XXS": true, "XS": true, "S": true, "M": true, "L": true, "XL": true,
			"XXL": true, "XXXL": true, "2XL": true, "3XL": true, "4XL": true, "5XL": true,
		},
		brandPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i:\bby)[ \t]+` + brandName),
			regexp.MustCompile(`(?i:\bbrand)(?:[ \t]*:[ \t]*|[ \t]+)` + brandName),
			regexp.MustCompile(`(?i:\bfrom)[ \t]+` + brandName),
		},
	}
}

// CurrencyAmount finds a currency marker and a numeric token independently.
// Either result is empty when absent.
func (n *Normalizer) CurrencyAmount(priceText string) (currency, amount string) {
	if priceText == "" || priceText == NotAvailable {
		return "", ""
	}

	if sym := n.symbolPattern.FindString(priceText); sym != "" {
		currency = sym
	} else if m := n.isoPattern.FindStringSubmatch(priceText); len(m) > 1 {
		currency = m[1]
	}

	amount = strings.TrimRight(n.amountPattern.FindString(priceText), ".,")

	return currency, amount
}

// Colors returns every vocabulary color contained in text, in vocabulary order.
func (n *Normalizer) Colors(text string) []string {
	if text == "" || text == NotAvailable {
		return nil
	}

	lower := strings.ToLower(text)

	var found []string
	for _, color := range n.colors {
		if strings.Contains(lower, color) {
			found = append(found, color)
		}
	}
	return found
}

// Sizes collects size indicators, standalone size tokens and measurements,
// upper-cased and deduplicated in first-seen order.
func (n *Normalizer) Sizes(text string) []string {
	if text == "" || text == NotAvailable {
		return nil
	}

	var found []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		found = append(found, s)
	}

	for _, pattern := range n.sizeLists {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			for _, token := range strings.FieldsFunc(m[1], isSizeSeparator) {
				upper := strings.ToUpper(token)
				if n.knownSizes[upper] || isNumeric(upper) {
					add(upper)
				}
			}
		}
	}

	for _, m := range n.sizeTokens.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	for _, m := range n.measurements.FindAllStringSubmatch(text, -1) {
		unit := m[2]
		if unit == "" {
			unit = `"`
		}
		add(m[1] + unit)
	}

	return found
}

// Brand looks for "by X", "brand: X" or "from X" in the description, then
// falls back to the first word of the title when it is longer than two runes.
func (n *Normalizer) Brand(description, title string) string {
	for _, pattern := range n.brandPatterns {
		if m := pattern.FindStringSubmatch(description); len(m) > 1 {
			if brand := strings.TrimSpace(m[1]); brand != "" {
				return brand
			}
		}
	}

	words := strings.Fields(title)
	if len(words) > 0 && utf8.RuneCountInString(words[0]) > 2 {
		return words[0]
	}

	return NotAvailable
}

func isSizeSeparator(r rune) bool {
	return r == ',' || r == '/' || r == ' ' || r == '\t'
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
