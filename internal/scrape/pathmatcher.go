package scrape

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns skip pages that never carry show schedules.
var defaultExcludePatterns = []string{
	"/cart/*",
	"/checkout/*",
	"/account/*",
	"/login*",
	"/wp-admin/*",
	"/wp-json/*",
	"/feed/*",
	"/tag/*",
	"/author/*",
	"/privacy*",
	"/terms*",
}

// assetExtensions are linked files that are not HTML pages.
var assetExtensions = []string{
	".pdf", ".zip", ".mp3", ".mp4", ".mov", ".doc", ".docx", ".xls", ".xlsx",
	".css", ".js", ".json", ".xml", ".ico", ".svg",
	".jpg", ".jpeg", ".png", ".gif", ".webp",
}

// PathMatcher filters URLs based on glob-style path patterns. A pattern
// ending in "/*" also matches every deeper path under that directory.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns (e.g. "/blog/*").
// Falls back to the default patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lowered}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether a URL matches an exclude pattern or points
// at a non-HTML asset.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	if IsAssetPath(p) {
		return true
	}
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

// IsAssetPath reports whether a URL path ends in a known non-HTML extension.
func IsAssetPath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, a := range assetExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

func matchSegmented(pattern, urlPath string) bool {
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
