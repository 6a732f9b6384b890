package models

import (
	"time"
)

// Status is the terminal state of a crawl session.
type Status string

const (
	StatusOK              Status = "OK"
	StatusCaptchaDetected Status = "CAPTCHA_DETECTED"
	StatusRenderTimeout   Status = "RENDER_TIMEOUT"
	StatusExhaustedBudget Status = "EXHAUSTED_BUDGET"
	StatusNoItemsFound    Status = "NO_ITEMS_FOUND"
)

// StrategyStats counts what one strategy produced on one page.
type StrategyStats struct {
	Strategy Strategy `json:"strategy"`
	Found    int      `json:"found"`
	Error    string   `json:"error,omitempty"`
}

// PageDiagnostics describes a single visited page.
type PageDiagnostics struct {
	Page       int             `json:"page"`
	URL        string          `json:"url"`
	Strategies []StrategyStats `json:"strategies"`
	NewRecords int             `json:"new_records"`
}

// Found returns the candidate count of the given strategy on this page.
func (d *PageDiagnostics) Found(s Strategy) int {
	for _, st := range d.Strategies {
		if st.Strategy == s {
			return st.Found
		}
	}
	return 0
}

// Result is the only artifact a crawl session hands to exporters.
type Result struct {
	RunID          string            `json:"run_id,omitempty"`
	StartURL       string            `json:"start_url"`
	Profile        string            `json:"profile"`
	Status         Status            `json:"status"`
	Products       []Product         `json:"products"`
	PageCount      int               `json:"page_count"`
	Pages          []PageDiagnostics `json:"pages"`
	ScreenshotPath string            `json:"screenshot_path,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Duration returns how long the crawl ran.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
