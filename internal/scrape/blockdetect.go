package scrape

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/sells-group/karaoke-scout/internal/fetcher"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockLoginWall  BlockType = "login_wall"
)

// DetectBlock checks a response for signs of anti-bot protection or a
// login wall in place of the requested content.
func DetectBlock(statusCode int, header http.Header, body []byte) (bool, BlockType) {
	if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-mitigated") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "just a moment...") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") ||
		strings.Contains(lower, "captcha") {
		return true, BlockCaptcha
	}

	if len(body) < 4000 {
		if strings.Contains(lower, "you must log in to continue") ||
			strings.Contains(lower, "log in or sign up to view") {
			return true, BlockLoginWall
		}
	}

	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

// DescribeFetchError returns a short reason for a fetch failure that tells
// DNS failures, blocks, 403s and timeouts apart.
func DescribeFetchError(err error) string {
	var fe *fetcher.FetchError
	if !errors.As(err, &fe) {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	switch fe.Kind {
	case fetcher.KindTimeout:
		return "timed out"
	case fetcher.KindHTTP:
		if blocked, bt := DetectBlock(fe.StatusCode, fe.Header, fe.Body); blocked {
			return "http " + strconv.Itoa(fe.StatusCode) + ": blocked (" + string(bt) + ")"
		}
		if fe.Detail != "" {
			return "http " + strconv.Itoa(fe.StatusCode) + ": " + fe.Detail
		}
		return "http " + strconv.Itoa(fe.StatusCode)
	default:
		return fe.Detail
	}
}
