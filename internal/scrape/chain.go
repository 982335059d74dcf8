package scrape

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Chain tries scrapers in order, returning the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Nil scrapers are skipped so optional fallbacks
// can be passed unconditionally.
func NewChain(scrapers ...Scraper) *Chain {
	c := &Chain{}
	for _, s := range scrapers {
		if s != nil {
			c.scrapers = append(c.scrapers, s)
		}
	}
	return c
}

// Scrape tries each scraper in order. When all fail, the first scraper's
// error is returned since it is the most specific about the site itself.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	var firstErr error
	for _, s := range c.scrapers {
		page, err := s.Scrape(ctx, targetURL)
		if err == nil && page != nil {
			return page, nil
		}
		if err == nil {
			err = eris.Errorf("scrape: %s returned no page", s.Name())
		}
		zap.L().Debug("scrape: scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, eris.Errorf("scrape: no scrapers configured for %s", targetURL)
}

func (c *Chain) Name() string { return "chain" }
