// Package scrape turns fetched pages into plain text for extraction, with
// anti-bot detection and a hosted-reader fallback.
package scrape

import (
	"context"
)

// Page is a scraped HTML page reduced to text.
type Page struct {
	URL    string
	Title  string
	Text   string
	Source string // "local_http" or "jina"
}

// Scraper fetches a single URL and returns its text content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
	Name() string
}
