package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/karaoke-scout/internal/resilience"
)

// DefaultUserAgent mimics a current desktop Chrome.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

const (
	detailDNS     = "dns lookup failed"
	detailRefused = "connection refused"
	detailReset   = "connection reset"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// HostRate is the initial per-host request rate. Zero disables
	// per-host limiting.
	HostRate  rate.Limit
	HostBurst int
	Transport http.RoundTripper
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows a request.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate, down to initial/4.
func (a *AdaptiveLimiter) OnRateLimit(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: slowing down after 429",
		zap.String("host", host),
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http. It is safe for concurrent
// use; the only state it keeps is the per-host limiter table.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates an HTTPFetcher with defaults applied.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.HostBurst <= 0 {
		opts.HostBurst = 2
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			// decodeBody handles Content-Encoding.
			DisableCompression: true,
		}
	}
	return &HTTPFetcher{
		client:   &http.Client{Transport: transport},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	if f.opts.HostRate <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.HostRate, f.opts.HostBurst)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch performs one GET with a bounded timeout and returns the decoded
// body of a 2xx response.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Detail: "invalid url", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	lim := f.limiterFor(u.Hostname())
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, classifyTransportError(ctx, rawURL, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Detail: "invalid request", Err: err}
	}
	setBrowserHeaders(req, f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, classifyTransportError(ctx, rawURL, err)
	}
	if int64(len(raw)) > f.opts.MaxBodyBytes {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Detail: "response body too large"}
	}

	body, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Detail: "decompress body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests && lim != nil {
			lim.OnRateLimit(u.Hostname())
		}
		return nil, httpError(rawURL, resp, body)
	}
	if lim != nil {
		lim.OnSuccess()
	}

	return &Response{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
	}, nil
}

func setBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// maxErrorBody bounds the body kept on a FetchError for block detection.
const maxErrorBody = 64 << 10

func httpError(rawURL string, resp *http.Response, body []byte) *FetchError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	fe := &FetchError{
		Kind:       KindHTTP,
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}
	switch resp.StatusCode {
	case http.StatusForbidden:
		fe.Detail = "forbidden"
	case http.StatusNotFound:
		fe.Detail = "not found"
	case http.StatusTooManyRequests:
		fe.Detail = "rate limited"
		fe.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return fe
}

func classifyTransportError(ctx context.Context, rawURL string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &FetchError{Kind: KindTimeout, URL: rawURL, Detail: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, URL: rawURL, Detail: "request timed out", Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{Kind: KindNetwork, URL: rawURL, Detail: detailDNS, Err: err}
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &FetchError{Kind: KindNetwork, URL: rawURL, Detail: detailRefused, Err: err}
	case errors.Is(err, syscall.ECONNRESET):
		return &FetchError{Kind: KindNetwork, URL: rawURL, Detail: detailReset, Err: err}
	case errors.Is(err, context.Canceled):
		return &FetchError{Kind: KindNetwork, URL: rawURL, Detail: "cancelled", Err: err}
	}
	return &FetchError{Kind: KindNetwork, URL: rawURL, Detail: "request failed", Err: err}
}
