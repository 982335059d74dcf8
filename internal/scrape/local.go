package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
)

// minPageText is the least amount of text a page must yield to be useful.
const minPageText = 40

// LocalScraper fetches HTML through a Fetcher, detects blocks, and converts
// the page to plain text. Falls through to Jina when blocked.
type LocalScraper struct {
	fetcher fetcher.Fetcher
}

// NewLocalScraper creates a LocalScraper on top of f.
func NewLocalScraper(f fetcher.Fetcher) *LocalScraper {
	return &LocalScraper{fetcher: f}
}

func (l *LocalScraper) Name() string { return "local_http" }

// Scrape fetches a URL, detects blocks, and strips HTML to plain text.
func (l *LocalScraper) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	resp, err := l.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsHTML() {
		return nil, eris.Errorf("local_http: not html (%s)", resp.ContentType)
	}

	if blocked, bt := DetectBlock(resp.StatusCode, resp.Header, resp.Body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", bt)
	}

	doc, err := resp.Text()
	if err != nil {
		return nil, eris.Wrap(err, "local_http: decode body")
	}

	title, text := ExtractText(doc)
	if len(text) < minPageText {
		return nil, eris.New("local_http: empty page")
	}

	return &Page{URL: targetURL, Title: title, Text: text, Source: l.Name()}, nil
}
