// Package fetcher downloads raw page and image bytes with browser-like
// headers, transparent decompression, and typed failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sells-group/karaoke-scout/internal/resilience"
)

// Fetcher retrieves the bytes behind a URL. Implementations make a single
// attempt; callers decide whether to retry.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// Response is a successful (2xx) fetch with a decoded body.
type Response struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http"
)

// FetchError describes why a URL could not be fetched. Detail is a short
// human-readable cause such as "dns lookup failed" or "forbidden". For HTTP
// failures Header and a prefix of Body are kept so callers can look for
// anti-bot pages.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Detail     string
	Header     http.Header
	Body       []byte
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Detail != "" {
			return fmt.Sprintf("fetch %s: http %d: %s", e.URL, e.StatusCode, e.Detail)
		}
		return fmt.Sprintf("fetch %s: http %d", e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %s: %v", e.URL, e.Kind, e.Detail, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s: %s", e.URL, e.Kind, e.Detail)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout:
		return true
	case KindNetwork:
		return e.Detail != detailDNS
	case KindHTTP:
		return resilience.IsTransientHTTPStatus(e.StatusCode)
	default:
		return false
	}
}

// IsRetryable is the retry predicate for fetch errors.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// WithRetry wraps f so each Fetch is retried per cfg. Only retryable
// FetchErrors are retried unless cfg.ShouldRetry says otherwise.
func WithRetry(f Fetcher, cfg resilience.RetryConfig) Fetcher {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsRetryable
	}
	return &retryingFetcher{next: f, cfg: cfg}
}

type retryingFetcher struct {
	next Fetcher
	cfg  resilience.RetryConfig
}

func (r *retryingFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	cfg := r.cfg
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("fetch", url)
	}
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		resp, err := r.next.Fetch(ctx, url)
		var fe *FetchError
		if errors.As(err, &fe) && fe.RetryAfter > 0 {
			return nil, &resilience.TransientError{Err: fe, StatusCode: fe.StatusCode, RetryAfter: fe.RetryAfter}
		}
		return resp, err
	})
	var te *resilience.TransientError
	if errors.As(err, &te) {
		return nil, te.Err
	}
	return resp, err
}
