package discovery

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseLinks returns the absolute http(s) targets of every <a href> in
// doc, without fragments, in document order and deduplicated.
func parseLinks(doc string, base *url.URL) []string {
	var links []string
	seen := make(map[string]bool)

	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return links
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.DataAtom != atom.A {
			continue
		}
		href := strings.TrimSpace(attrValue(tok, "href"))
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		abs, ok := resolve(base, href)
		if !ok {
			continue
		}
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	}
}

func resolve(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

func attrValue(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
