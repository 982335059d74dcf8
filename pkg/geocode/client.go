// Package geocode resolves venue addresses to coordinates via the Census
// Geocoder, with Google as an optional fallback.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultCensusURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	defaultGoogleURL = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultCacheSize = 1024
)

// Client geocodes a single address.
type Client interface {
	Geocode(ctx context.Context, addr Address) (*Result, error)
}

// Address is a venue address as extracted from a listing.
type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// OneLine formats the address as "street, city, state zip".
func (a Address) OneLine() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Street, a.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if tail := strings.TrimSpace(strings.TrimSpace(a.State) + " " + strings.TrimSpace(a.Zip)); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Source    string // provider that placed the address
	Quality   string // rooftop, range, centroid or approximate
	Matched   bool
}

// Option configures NewClient.
type Option func(*geocoder)

// WithGoogleAPIKey enables the Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets the HTTP client for both providers.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by both providers.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithEndpoints overrides the provider URLs. Empty values keep the default.
func WithEndpoints(censusURL, googleURL string) Option {
	return func(g *geocoder) {
		if censusURL != "" {
			g.censusURL = censusURL
		}
		if googleURL != "" {
			g.googleURL = googleURL
		}
	}
}

// WithCacheSize bounds the number of remembered addresses. Zero disables
// the cache.
func WithCacheSize(n int) Option {
	return func(g *geocoder) {
		g.cache = newCache(n)
	}
}

type geocoder struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache
	censusURL  string
	googleURL  string
	googleKey  string
	chain      []provider
}

// NewClient creates a geocoding Client.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		cache:      newCache(defaultCacheSize),
		censusURL:  defaultCensusURL,
		googleURL:  defaultGoogleURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.chain = []provider{censusProvider{g: g, endpoint: g.censusURL}}
	if g.googleKey != "" {
		g.chain = append(g.chain, googleProvider{g: g, endpoint: g.googleURL, key: g.googleKey})
	}
	return g
}

// Geocode walks the provider chain and returns the first match. An address
// no provider can place returns an unmatched Result and no error; it is
// remembered only when every provider answered, so a later run retries
// after an outage. The error is non-nil only when ctx ends.
func (g *geocoder) Geocode(ctx context.Context, addr Address) (*Result, error) {
	key := cacheKey(addr)
	if r, ok := g.cache.get(key); ok {
		return r, nil
	}

	answered := true
	for _, p := range g.chain {
		r, err := p.lookup(ctx, addr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			answered = false
			zap.L().Debug("geocode: lookup failed",
				zap.String("provider", p.name()),
				zap.String("address", addr.OneLine()),
				zap.Error(err),
			)
			continue
		}
		if r.Matched {
			g.cache.put(key, r)
			return r, nil
		}
	}

	unmatched := &Result{}
	if answered {
		g.cache.put(key, unmatched)
	}
	return unmatched, nil
}
