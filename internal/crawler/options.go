package crawler

import "time"

// Options bound a single crawl.
type Options struct {
	// Profile is "auto" or a registered profile name.
	Profile      string
	PageLoadWait time.Duration
	// MaxPages below 1 is treated as 1.
	MaxPages int
	// MaxRecords caps retained records; 0 means unlimited.
	MaxRecords  int
	Pagination  bool
	MaxDuration time.Duration

	ScrollCycles int
	ScrollSettle time.Duration

	PageDelayMin time.Duration
	PageDelayMax time.Duration

	// ScreenshotDir receives CAPTCHA screenshots. Empty uses the OS temp dir.
	ScreenshotDir string
}

func DefaultOptions() Options {
	return Options{
		Profile:       "auto",
		PageLoadWait:  10 * time.Second,
		MaxPages:      5,
		MaxRecords:    0,
		Pagination:    true,
		MaxDuration:   10 * time.Minute,
		ScrollCycles:  5,
		ScrollSettle:  time.Second,
		PageDelayMin:  2 * time.Second,
		PageDelayMax:  5 * time.Second,
		ScreenshotDir: "screenshots",
	}
}

func (o Options) normalized() Options {
	if o.MaxPages < 1 {
		o.MaxPages = 1
	}
	if o.MaxRecords < 0 {
		o.MaxRecords = 0
	}
	if o.PageLoadWait <= 0 {
		o.PageLoadWait = 10 * time.Second
	}
	if o.ScrollCycles < 0 {
		o.ScrollCycles = 0
	}
	return o
}

// popupSelectors are clicked once per page, best effort.
var popupSelectors = []string{
	".cookie-banner button",
	"#cookie-accept",
	".popup-close",
	".modal-close",
	"[class*='cookie'] button",
	"[class*='popup'] button",
	"[class*='modal'] button",
}

// challengePhrases are matched against the lowercased visible text of a page.
var challengePhrases = []string{
	"verify you are not a robot",
	"verify you are human",
	"are you a robot",
	"robot check",
	"unusual traffic from your computer",
	"enter the characters you see below",
	"complete the security check",
}

// challengeWidgets are vendor markers in the raw HTML. Listings embed them in
// newsletter and login forms, so they only count on pages without items.
var challengeWidgets = []string{
	"g-recaptcha",
	"h-captcha",
	"cf-challenge",
	"px-captcha",
}

const (
	readyPredicate = "document.readyState === 'complete'"
	heightScript   = "document.body ? document.body.scrollHeight : 0"
	scrollBottom   = "window.scrollTo(0, document.body.scrollHeight)"
	scrollTop      = "window.scrollTo(0, 0)"
)
