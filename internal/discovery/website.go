package discovery

import (
	"context"
	"encoding/xml"
	"iter"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/scrape"
)

// siteScope decides which hosts belong to the seed's site. A leading
// "www." is ignored on both sides.
type siteScope struct {
	host       string
	subdomains bool
}

func newSiteScope(u *url.URL, subdomains bool) siteScope {
	return siteScope{host: bareHost(u.Hostname()), subdomains: subdomains}
}

func (s siteScope) contains(host string) bool {
	h := bareHost(host)
	return h == s.host || (s.subdomains && strings.HasSuffix(h, "."+s.host))
}

func bareHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}

// websiteUnits yields the seed page followed by same-site pages, breadth
// first. Pages at depth d are fetched for links only while d < MaxDepth.
func (d *Discoverer) websiteUnits(ctx context.Context, seedURL string, seedResp *fetcher.Response, opts Options) iter.Seq[model.ContentUnit] {
	matcher := scrape.NewPathMatcher(opts.ExcludePatterns)
	base, _ := url.Parse(seedURL)
	scope := newSiteScope(base, opts.IncludeSubdomains)

	return func(yield func(model.ContentUnit) bool) {
		seen := map[string]bool{canonicalKey(seedURL): true}
		accept := func(link string) bool {
			u, err := url.Parse(link)
			if err != nil || !scope.contains(u.Hostname()) || matcher.IsExcluded(link) {
				return false
			}
			key := canonicalKey(link)
			if seen[key] {
				return false
			}
			seen[key] = true
			return true
		}

		if !yield(htmlUnit(seedURL)) {
			return
		}

		var frontier []string
		for _, link := range pageLinks(seedResp, seedURL) {
			if accept(link) {
				frontier = append(frontier, link)
			}
		}
		if opts.UseSitemap {
			for _, link := range d.sitemapURLs(ctx, base) {
				if accept(link) {
					frontier = append(frontier, link)
				}
			}
		}

		for depth := 1; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, link := range frontier {
				if ctx.Err() != nil {
					return
				}
				if !yield(htmlUnit(link)) {
					return
				}
				if depth == opts.MaxDepth {
					continue
				}
				resp, err := d.fetcher.Fetch(ctx, link)
				if err != nil {
					zap.L().Debug("discovery: skipping page",
						zap.String("url", link),
						zap.String("reason", scrape.DescribeFetchError(err)),
					)
					continue
				}
				for _, l := range pageLinks(resp, link) {
					if accept(l) {
						next = append(next, l)
					}
				}
			}
			frontier = next
		}
	}
}

func htmlUnit(u string) model.ContentUnit {
	return model.ContentUnit{URL: u, Kind: model.ContentHTML, SizeHint: model.SizeUnknown}
}

func pageLinks(resp *fetcher.Response, pageURL string) []string {
	if resp == nil || !resp.IsHTML() {
		return nil
	}
	doc, err := resp.Text()
	if err != nil {
		return nil
	}
	base := pageURL
	if resp.FinalURL != "" {
		base = resp.FinalURL
	}
	b, err := url.Parse(base)
	if err != nil {
		return nil
	}
	return parseLinks(doc, b)
}

// canonicalKey identifies a page for deduplication: scheme and "www." are
// ignored, as is a trailing slash.
func canonicalKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	key := bareHost(u.Host) + p
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// sitemapURLSet represents a basic sitemap.xml <urlset> document.
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapURLs fetches /sitemap.xml and returns its entries. Sitemap index
// files are not followed. Any failure yields no URLs.
func (d *Discoverer) sitemapURLs(ctx context.Context, base *url.URL) []string {
	sitemapURL := base.Scheme + "://" + base.Host + "/sitemap.xml"
	resp, err := d.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(resp.Body, &set); err != nil {
		return nil
	}

	urls := make([]string, 0, len(set.URLs))
	for _, entry := range set.URLs {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	if len(urls) > 0 {
		zap.L().Debug("discovery: seeded urls from sitemap",
			zap.Int("count", len(urls)),
			zap.String("sitemap", sitemapURL),
		)
	}
	return urls
}
