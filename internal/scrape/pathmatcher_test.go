package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMatcher_Defaults(t *testing.T) {
	t.Parallel()

	m := NewPathMatcher(nil)
	assert.Equal(t, defaultExcludePatterns, m.Patterns())

	assert.True(t, m.IsExcluded("https://bar.com/cart/items"))
	assert.True(t, m.IsExcluded("https://bar.com/wp-admin/options.php"))
	assert.True(t, m.IsExcluded("https://bar.com/login"))
	assert.True(t, m.IsExcluded("https://bar.com/menu.pdf"))
	assert.True(t, m.IsExcluded("https://bar.com/images/flyer.JPG"))
	assert.False(t, m.IsExcluded("https://bar.com/karaoke-schedule"))
	assert.False(t, m.IsExcluded("https://bar.com/"))
}

func TestPathMatcher_Custom(t *testing.T) {
	t.Parallel()

	m := NewPathMatcher([]string{"/Blog/*", "/events/*/rsvp"})
	assert.True(t, m.IsExcluded("https://bar.com/blog"))
	assert.True(t, m.IsExcluded("https://bar.com/blog/2024/06/post"))
	assert.True(t, m.IsExcluded("https://bar.com/events/42/rsvp"))
	assert.False(t, m.IsExcluded("https://bar.com/events/42"))
	assert.False(t, m.IsExcluded("https://bar.com/blogroll"))
	assert.False(t, m.IsExcluded("https://bar.com/cart"))
}

func TestPathMatcher_InvalidURL(t *testing.T) {
	t.Parallel()
	assert.True(t, NewPathMatcher(nil).IsExcluded("://bad"))
}

func TestIsAssetPath(t *testing.T) {
	t.Parallel()
	assert.True(t, IsAssetPath("/a/b.css"))
	assert.False(t, IsAssetPath("/a/b.html"))
	assert.False(t, IsAssetPath("/schedule"))
}
