package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/resilience"
	"github.com/sells-group/karaoke-scout/pkg/jina"
)

// challengePhrases mark a Reader result that is itself a bot check.
var challengePhrases = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// JinaAdapter reads pages through the Jina Reader. Transient Reader
// errors are retried, and three failed reads in a row skip the Reader for
// a minute.
type JinaAdapter struct {
	client  jina.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewJinaAdapter wraps client as a Scraper.
func NewJinaAdapter(client jina.Client) *JinaAdapter {
	return &JinaAdapter{
		client: client,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     8 * time.Second,
			JitterFraction: 0.2,
		},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("scrape: jina breaker", zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}
}

func (j *JinaAdapter) Name() string { return "jina" }

// Scrape reads targetURL and rejects empty or challenge results.
func (j *JinaAdapter) Scrape(ctx context.Context, targetURL string) (*Page, error) {
	retry := j.retry
	retry.OnRetry = resilience.RetryLogger("jina read", targetURL)

	return resilience.ExecuteVal(ctx, j.breaker, func(ctx context.Context) (*Page, error) {
		rp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*jina.Page, error) {
			return j.read(ctx, targetURL)
		})
		if err != nil {
			return nil, err
		}
		if unusable(rp) {
			return nil, eris.Errorf("jina: no usable content for %s", targetURL)
		}
		return &Page{
			URL:    targetURL,
			Title:  rp.Title,
			Text:   strings.TrimSpace(rp.Content),
			Source: j.Name(),
		}, nil
	})
}

// read marks Reader statuses worth retrying as transient.
func (j *JinaAdapter) read(ctx context.Context, targetURL string) (*jina.Page, error) {
	rp, err := j.client.Read(ctx, targetURL)
	var se *jina.StatusError
	if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
		return nil, resilience.NewTransientError(err, se.StatusCode)
	}
	return rp, err
}

// unusable reports whether a Reader result is too short to hold a
// schedule or is a short challenge page.
func unusable(rp *jina.Page) bool {
	if rp == nil {
		return true
	}
	content := strings.TrimSpace(rp.Content)
	if len(content) < minPageText {
		return true
	}
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, phrase := range challengePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
