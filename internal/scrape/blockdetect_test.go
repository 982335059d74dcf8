package scrape

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		header  http.Header
		body    string
		blocked bool
		want    BlockType
	}{
		{"cloudflare 403 header", 403, http.Header{"Cf-Ray": {"abc123"}}, "", true, BlockCloudflare},
		{"cloudflare 503 server", 503, http.Header{"Server": {"cloudflare"}}, "", true, BlockCloudflare},
		{"challenge page", 200, http.Header{}, "<title>Just a moment...</title>", true, BlockCloudflare},
		{"captcha", 200, http.Header{}, "<html>Please complete the reCAPTCHA</html>", true, BlockCaptcha},
		{"login wall", 200, http.Header{}, "<html>You must log in to continue.</html>", true, BlockLoginWall},
		{"js shell", 200, http.Header{}, "<html><noscript>Enable JavaScript to continue</noscript></html>", true, BlockJSShell},
		{"meta refresh", 200, http.Header{}, `<meta http-equiv="refresh" content="0;url=/x">`, true, BlockJSShell},
		{"clean page", 200, http.Header{}, "<html><body>Karaoke Fridays at Joe's Bar, 9pm</body></html>", false, BlockNone},
		{"plain 403", 403, http.Header{}, "nope", false, BlockNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			blocked, bt := DetectBlock(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.blocked, blocked)
			assert.Equal(t, tt.want, bt)
		})
	}
}

func TestDescribeFetchError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", DescribeFetchError(nil))
	assert.Equal(t, "timed out", DescribeFetchError(&fetcher.FetchError{Kind: fetcher.KindTimeout}))
	assert.Equal(t, "dns lookup failed", DescribeFetchError(&fetcher.FetchError{Kind: fetcher.KindNetwork, Detail: "dns lookup failed"}))
	assert.Equal(t, "http 403: forbidden", DescribeFetchError(&fetcher.FetchError{Kind: fetcher.KindHTTP, StatusCode: 403, Detail: "forbidden", Header: http.Header{}}))
	assert.Equal(t, "http 403: blocked (cloudflare)", DescribeFetchError(&fetcher.FetchError{
		Kind:       fetcher.KindHTTP,
		StatusCode: 403,
		Header:     http.Header{"Cf-Ray": {"x"}},
	}))
	assert.Equal(t, "http 500", DescribeFetchError(&fetcher.FetchError{Kind: fetcher.KindHTTP, StatusCode: 500}))
}
