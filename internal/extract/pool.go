// Package extract runs content units through a model with bounded
// concurrency and turns each reply into a CandidateRecord.
package extract

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/karaoke-scout/internal/analyze"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/resilience"
)

// DefaultUnitTimeout bounds the whole processing of one unit.
const DefaultUnitTimeout = 100 * time.Second

// Config controls the pool.
type Config struct {
	// Concurrency is the number of units processed at once. Default: 4.
	Concurrency int
	// Stagger is the minimum spacing between model call starts.
	Stagger time.Duration
	// UnitTimeout bounds loading, analysis and parsing of one unit.
	UnitTimeout time.Duration
	// Retry applies to model calls only.
	Retry resilience.RetryConfig
	// Breaker guards the model provider. A zero FailureThreshold disables it.
	Breaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		Stagger:     500 * time.Millisecond,
		UnitTimeout: DefaultUnitTimeout,
		Retry:       resilience.DefaultRetryConfig(),
		Breaker:     resilience.DefaultCircuitBreakerConfig(),
	}
}

// Stats summarizes one Extract call.
type Stats struct {
	Units        int
	Failed       int
	FailureKinds map[string]int
	Usage        model.TokenUsage
	Duration     time.Duration
}

// Pool extracts candidate records from content units. It is safe to share
// between runs; all runs then share one Throttle.
type Pool struct {
	analyzer analyze.Analyzer
	loader   Loader
	throttle *Throttle
	breaker  *resilience.CircuitBreaker
	cfg      Config
}

// NewPool creates a Pool.
func NewPool(a analyze.Analyzer, l Loader, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = DefaultUnitTimeout
	}

	p := &Pool{
		analyzer: a,
		loader:   l,
		throttle: NewThrottle(cfg.Concurrency, cfg.Stagger),
		cfg:      cfg,
	}
	if cfg.Breaker.FailureThreshold > 0 {
		bc := cfg.Breaker
		bc.ShouldTrip = providerFailure
		bc.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("extract: provider circuit changed",
				zap.String("provider", a.Name()),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
		p.breaker = resilience.NewCircuitBreaker(bc)
	}
	return p
}

// PeakConcurrency returns the most model calls seen in flight at once over
// the pool's lifetime.
func (p *Pool) PeakConcurrency() int { return p.throttle.Peak() }

// ExtractAll is Extract over a slice.
func (p *Pool) ExtractAll(ctx context.Context, units []model.ContentUnit) ([]model.CandidateRecord, Stats) {
	return p.Extract(ctx, slices.Values(units))
}

// Extract processes every unit the sequence yields and returns exactly one
// record per unit, in the order the units were yielded. Failures never
// abort the batch: a failed unit yields an empty record carrying its error
// kind. The sequence is pulled only as workers free up.
func (p *Pool) Extract(ctx context.Context, units iter.Seq[model.ContentUnit]) ([]model.CandidateRecord, Stats) {
	start := time.Now()

	var (
		mu      sync.Mutex
		records []model.CandidateRecord
	)
	set := func(i int, rec model.CandidateRecord) {
		mu.Lock()
		records[i] = rec
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	i := 0
	for unit := range units {
		idx := i
		i++

		mu.Lock()
		records = append(records, emptyRecord(unit))
		mu.Unlock()

		g.Go(func() error {
			set(idx, p.runUnit(ctx, unit))
			return nil
		})
	}
	_ = g.Wait()

	stats := Stats{Units: len(records), FailureKinds: map[string]int{}, Duration: time.Since(start)}
	for _, rec := range records {
		stats.Usage.Add(rec.Usage)
		if rec.Error != nil {
			stats.Failed++
			stats.FailureKinds[rec.Error.Kind]++
		}
	}

	zap.L().Info("extract: batch complete",
		zap.Int("units", stats.Units),
		zap.Int("failed", stats.Failed),
		zap.Int("input_tokens", stats.Usage.InputTokens),
		zap.Int("output_tokens", stats.Usage.OutputTokens),
		zap.Float64("cost", stats.Usage.Cost),
		zap.Duration("duration", stats.Duration),
	)
	return records, stats
}

func emptyRecord(unit model.ContentUnit) model.CandidateRecord {
	return model.CandidateRecord{
		UnitURL: unit.URL,
		Seq:     unit.Seq,
		Kind:    unit.Kind,
		DJs:     []model.DJCandidate{},
		Shows:   []model.ShowCandidate{},
	}
}

func (p *Pool) runUnit(ctx context.Context, unit model.ContentUnit) model.CandidateRecord {
	rec := emptyRecord(unit)
	log := zap.L().With(zap.String("unit", unit.URL), zap.Int("seq", unit.Seq))

	if err := ctx.Err(); err != nil {
		rec.Error = &model.UnitFailure{Kind: string(KindCancelled), Detail: err.Error()}
		return rec
	}

	uctx, cancel := context.WithTimeout(ctx, p.cfg.UnitTimeout)
	defer cancel()

	out, err := p.process(uctx, unit, &rec)
	if err != nil {
		kind := classify(ctx, uctx, err)
		rec.Error = &model.UnitFailure{Kind: string(kind), Detail: err.Error()}
		log.Warn("extract: unit failed", zap.String("kind", string(kind)), zap.Error(err))
		return rec
	}

	rec.Vendor = out.Vendor
	rec.DJs = out.DJs
	rec.Shows = out.Shows
	for i := range rec.Shows {
		rec.Shows[i].Source = unit.URL
	}

	log.Debug("extract: unit complete",
		zap.Bool("vendor", rec.Vendor != nil),
		zap.Int("djs", len(rec.DJs)),
		zap.Int("shows", len(rec.Shows)),
	)
	return rec
}

// process loads, analyzes and parses one unit. Usage and the archive key
// are written to rec as they become known so a late failure keeps them.
func (p *Pool) process(ctx context.Context, unit model.ContentUnit, rec *model.CandidateRecord) (*Parsed, error) {
	loaded, err := p.loader.Load(ctx, unit)
	if err != nil {
		return nil, err
	}
	rec.Archive = loaded.Archive

	retry := p.cfg.Retry
	retry.ShouldRetry = func(err error) bool {
		return providerFailure(err) && !errors.Is(err, resilience.ErrCircuitOpen)
	}
	retry.OnRetry = resilience.RetryLogger("analyze", unit.URL)

	res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*analyze.Result, error) {
		return p.analyze(ctx, loaded.Input)
	})
	if err != nil {
		return nil, err
	}
	rec.Usage = res.Usage

	parsed, err := ParseOutput(res.Text)
	if err != nil {
		return nil, &UnitError{URL: unit.URL, Kind: KindMalformedOutput, Err: err}
	}
	return parsed, nil
}

func (p *Pool) analyze(ctx context.Context, in analyze.Input) (*analyze.Result, error) {
	release, err := p.throttle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*analyze.Result, error) {
		return p.analyzer.Analyze(ctx, in)
	})
}

// providerFailure reports whether err says the provider is struggling, as
// opposed to the unit running out of time.
func providerFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return resilience.IsTransient(err)
}
