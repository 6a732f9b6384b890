package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// detectChallenge returns the marker that identifies html as a robot check,
// or "" for an ordinary page. Phrases are read from the visible text only;
// vendor widgets count when none of containers matches an element.
func detectChallenge(html string, containers []string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	text := strings.ToLower(visibleText(doc))
	for _, phrase := range challengePhrases {
		if strings.Contains(text, phrase) {
			return phrase
		}
	}

	lower := strings.ToLower(html)
	for _, widget := range challengeWidgets {
		if !strings.Contains(lower, widget) {
			continue
		}
		if hasItems(doc, containers) {
			return ""
		}
		return widget
	}

	return ""
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

func hasItems(doc *goquery.Document, containers []string) bool {
	for _, sel := range containers {
		if sel != "" && doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
