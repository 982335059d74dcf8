package extract

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Throttle bounds model calls: at most maxConcurrent run at once, and call
// starts are spaced by at least the stagger interval. It is the only state
// shared between workers.
type Throttle struct {
	limiter *rate.Limiter
	sem     chan struct{}

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewThrottle creates a Throttle. A zero stagger disables spacing.
func NewThrottle(maxConcurrent int, stagger time.Duration) *Throttle {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	t := &Throttle{sem: make(chan struct{}, maxConcurrent)}
	if stagger > 0 {
		t.limiter = rate.NewLimiter(rate.Every(stagger), 1)
	}
	return t
}

// Acquire blocks until a call may start. The returned release must be
// called when the call finishes.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			<-t.sem
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, eris.Wrap(context.DeadlineExceeded, "extract: stagger wait exceeds unit deadline")
		}
	}

	n := t.inFlight.Add(1)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var once atomic.Bool
	return func() {
		if once.Swap(true) {
			return
		}
		t.inFlight.Add(-1)
		<-t.sem
	}, nil
}

// Peak returns the highest number of simultaneous calls observed.
func (t *Throttle) Peak() int { return int(t.peak.Load()) }
