package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how often and how patiently a call is retried.
type RetryConfig struct {
	// MaxAttempts counts the first call. 1 disables retries. Default: 3.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry. Default: 1s.
	InitialBackoff time.Duration
	// MaxBackoff caps any single wait, Retry-After hints included. Default: 30s.
	MaxBackoff time.Duration
	// Multiplier grows the wait per retry. Default: 2.
	Multiplier float64
	// JitterFraction spreads each wait by up to ±fraction.
	JitterFraction float64

	// ShouldRetry picks the errors worth another call. Default: IsTransient.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait with the 1-based number of the failed call.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is the policy for page fetches and model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.25,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	c.JitterFraction = max(c.JitterFraction, 0)
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// Delay returns the wait after failed call number attempt (1-based):
// InitialBackoff * Multiplier^(attempt-1), capped at MaxBackoff, then
// jittered.
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.normalized()
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(max(attempt-1, 0)))
	d = math.Min(d, float64(c.MaxBackoff))
	if c.JitterFraction > 0 {
		d += d * c.JitterFraction * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// wait picks the delay after a failed call, stretching it to the server's
// Retry-After hint when that is longer.
func (c RetryConfig) wait(attempt int, err error) time.Duration {
	d := c.Delay(attempt)
	if hint := retryAfter(err); hint > d {
		d = min(hint, c.MaxBackoff)
	}
	return d
}
