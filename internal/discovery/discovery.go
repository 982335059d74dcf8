// Package discovery expands a seed URL into the content units worth
// extracting: the pages of a venue or vendor website, or the images posted
// to a social-media group.
package discovery

import (
	"context"
	"iter"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/scrape"
)

// Mode selects how a seed is expanded.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeWebsite     Mode = "website"
	ModeSocialGroup Mode = "social_group"
)

// Defaults applied when Options fields are zero.
const (
	DefaultMaxDepth = 1
	DefaultMaxUnits = 50
)

// ParseMode validates a mode name. An empty name is ModeAuto.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, true
	case ModeWebsite:
		return ModeWebsite, true
	case ModeSocialGroup:
		return ModeSocialGroup, true
	default:
		return "", false
	}
}

// Options controls a discovery run.
type Options struct {
	Mode Mode
	// MaxDepth is the number of link hops followed from the seed in
	// website mode.
	MaxDepth int
	// IncludeSubdomains also follows links to subdomains of the seed host.
	IncludeSubdomains bool
	// MaxUnits caps the number of units emitted.
	MaxUnits int
	// ExcludePatterns are path globs to skip; nil uses the defaults.
	ExcludePatterns []string
	// UseSitemap seeds the first hop from /sitemap.xml as well.
	UseSitemap bool
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxUnits <= 0 {
		o.MaxUnits = DefaultMaxUnits
	}
	return o
}

var errMissingHost = eris.New("missing host")

// Error reports that the seed itself could not be fetched. Reason tells a
// DNS failure, an HTTP 403 or block, and a timeout apart.
type Error struct {
	Seed   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return "discovery: seed " + e.Seed + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Crawl is the lazy result of a successful seed fetch. Units may be ranged
// over once; each further page is fetched only as iteration reaches it.
type Crawl struct {
	Seed string
	Mode Mode
	// Units yields content units in discovery order with increasing Seq.
	Units iter.Seq[model.ContentUnit]

	truncated atomic.Bool
	emitted   atomic.Int64
}

// Truncated reports whether MaxUnits cut the sequence short. It is final
// once iteration has finished.
func (c *Crawl) Truncated() bool { return c.truncated.Load() }

// Emitted returns the number of units yielded so far.
func (c *Crawl) Emitted() int { return int(c.emitted.Load()) }

// Discoverer expands seeds using a Fetcher.
type Discoverer struct {
	fetcher fetcher.Fetcher
}

// New creates a Discoverer.
func New(f fetcher.Fetcher) *Discoverer {
	return &Discoverer{fetcher: f}
}

// Discover fetches the seed and returns a lazy sequence of units. Only a
// seed failure is an error; later page failures are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, seed string, opts Options) (*Crawl, error) {
	opts = opts.withDefaults()

	seedURL, err := normalizeURL(seed)
	if err != nil {
		return nil, &Error{Seed: seed, Reason: "invalid url", Err: err}
	}

	mode := opts.Mode
	if mode == ModeAuto {
		mode = DetectMode(seedURL)
	}

	resp, err := d.fetcher.Fetch(ctx, seedURL)
	if err != nil {
		return nil, &Error{Seed: seedURL, Reason: scrape.DescribeFetchError(err), Err: err}
	}

	c := &Crawl{Seed: seedURL, Mode: mode}
	var units iter.Seq[model.ContentUnit]
	switch mode {
	case ModeSocialGroup:
		units = d.socialUnits(resp)
	default:
		units = d.websiteUnits(ctx, seedURL, resp, opts)
	}
	c.Units = c.capped(ctx, units, opts.MaxUnits)

	zap.L().Info("discovery: seed fetched",
		zap.String("seed", seedURL),
		zap.String("mode", string(mode)),
	)
	return c, nil
}

// capped assigns Seq numbers, enforces MaxUnits and makes the sequence
// single use.
func (c *Crawl) capped(ctx context.Context, units iter.Seq[model.ContentUnit], maxUnits int) iter.Seq[model.ContentUnit] {
	var used atomic.Bool
	return func(yield func(model.ContentUnit) bool) {
		if used.Swap(true) {
			return
		}
		seq := 0
		for u := range units {
			if ctx.Err() != nil {
				return
			}
			if seq >= maxUnits {
				c.truncated.Store(true)
				zap.L().Warn("discovery: unit cap reached, truncating",
					zap.String("seed", c.Seed),
					zap.Int("max_units", maxUnits),
				)
				return
			}
			u.Seq = seq
			seq++
			c.emitted.Add(1)
			if !yield(u) {
				return
			}
		}
	}
}

// DetectMode picks social_group for Facebook group URLs and website for
// everything else.
func DetectMode(rawURL string) Mode {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ModeWebsite
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "web.")
	if host != "facebook.com" && host != "fb.com" {
		return ModeWebsite
	}
	if strings.HasPrefix(strings.ToLower(u.Path), "/groups/") {
		return ModeSocialGroup
	}
	return ModeWebsite
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", &url.Error{Op: "parse", URL: raw, Err: errMissingHost}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	return u.String(), nil
}
