package discovery

import (
	"encoding/json"
	"iter"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
	"github.com/sells-group/karaoke-scout/internal/mediaurl"
	"github.com/sells-group/karaoke-scout/internal/model"
)

// escapedURLRe finds JSON-escaped absolute URLs (https:\/\/...) embedded in
// inline scripts.
var escapedURLRe = regexp.MustCompile(`https?:\\/\\/(?:[^"\\\s<>]|\\.)+`)

// socialUnits yields one image unit per distinct full-size media URL found
// on a group's media index page.
func (d *Discoverer) socialUnits(resp *fetcher.Response) iter.Seq[model.ContentUnit] {
	return func(yield func(model.ContentUnit) bool) {
		doc, err := resp.Text()
		if err != nil {
			return
		}
		base, err := url.Parse(resp.FinalURL)
		if err != nil || resp.FinalURL == "" {
			base, _ = url.Parse(resp.URL)
		}

		seen := make(map[string]bool)
		for _, raw := range mediaURLs(doc, base) {
			if !isGroupMedia(raw) {
				continue
			}
			c := mediaurl.Classify(raw)
			if seen[c.UpgradedURL] {
				continue
			}
			seen[c.UpgradedURL] = true
			unit := model.ContentUnit{
				URL:      c.UpgradedURL,
				Kind:     model.ContentImage,
				SizeHint: c.SizeHint(),
			}
			if !yield(unit) {
				return
			}
		}
	}
}

// mediaURLs collects image URLs from <img src>, srcset, data-src, og:image
// and JSON-escaped URLs in scripts, in document order.
func mediaURLs(doc string, base *url.URL) []string {
	var out []string
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "data:") {
			return
		}
		if abs, ok := resolve(base, ref); ok {
			out = append(out, abs)
		}
	}

	z := html.NewTokenizer(strings.NewReader(doc))
	for done := false; !done; {
		switch z.Next() {
		case html.ErrorToken:
			done = true
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Img, atom.Source:
				add(attrValue(tok, "src"))
				add(attrValue(tok, "data-src"))
				for _, candidate := range parseSrcset(attrValue(tok, "srcset")) {
					add(candidate)
				}
			case atom.Meta:
				prop := strings.ToLower(attrValue(tok, "property"))
				if prop == "og:image" || prop == "og:image:url" || prop == "og:image:secure_url" {
					add(attrValue(tok, "content"))
				}
			}
		}
	}

	for _, m := range escapedURLRe.FindAllString(doc, -1) {
		var s string
		if err := json.Unmarshal([]byte(`"`+m+`"`), &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// parseSrcset returns the URLs of a srcset attribute, dropping the width or
// density descriptors.
func parseSrcset(srcset string) []string {
	if srcset == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

// isGroupMedia keeps user-posted images and drops static site assets such
// as emoji, icons and sprites.
func isGroupMedia(raw string) bool {
	if !mediaurl.IsCDNImage(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	p := strings.ToLower(u.Path)
	if strings.HasPrefix(host, "static.") || strings.Contains(p, "/rsrc.php") ||
		strings.Contains(p, "/emoji") || strings.HasSuffix(p, ".gif") {
		return false
	}
	return true
}
