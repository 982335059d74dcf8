// Package pipeline orchestrates one run against a seed: discovery, parallel
// extraction, aggregation and a single write of the staging record.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/aggregate"
	"github.com/sells-group/karaoke-scout/internal/discovery"
	"github.com/sells-group/karaoke-scout/internal/extract"
	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/runlock"
	"github.com/sells-group/karaoke-scout/internal/store"
	"github.com/sells-group/karaoke-scout/pkg/geocode"
)

// ErrInvalidRequest is returned for a run request that cannot start.
var ErrInvalidRequest = eris.New("pipeline: invalid run request")

// Discoverer expands a seed into content units.
type Discoverer interface {
	Discover(ctx context.Context, seed string, opts discovery.Options) (*discovery.Crawl, error)
}

// Extractor turns content units into candidate records.
type Extractor interface {
	Extract(ctx context.Context, units iter.Seq[model.ContentUnit]) ([]model.CandidateRecord, extract.Stats)
}

// Deps holds everything a Pipeline needs.
type Deps struct {
	Store      store.Store
	Discoverer Discoverer
	Extractor  Extractor
	// Locker serializes runs per seed. Nil disables locking.
	Locker runlock.Locker
	// Discovery supplies defaults for fields a request leaves zero.
	Discovery discovery.Options
	Aggregate aggregate.Options
	// Geocoder fills venue coordinates after aggregation. Nil skips it.
	Geocoder geocode.Client
}

// Pipeline runs seeds end to end.
type Pipeline struct {
	deps Deps
}

// New creates a Pipeline.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Store == nil:
		return nil, eris.New("pipeline: store is required")
	case d.Discoverer == nil:
		return nil, eris.New("pipeline: discoverer is required")
	case d.Extractor == nil:
		return nil, eris.New("pipeline: extractor is required")
	}
	return &Pipeline{deps: d}, nil
}

// Run is a claimed run: its staging record exists and its seed is locked.
// Every Run must be passed to Execute exactly once.
type Run struct {
	Schedule *model.ParsedSchedule
	Request  model.RunRequest

	lock runlock.Lock
	// prior is the reviewable state of a record re-run in place.
	prior *model.ParsedSchedule
}

// Run begins and executes a run synchronously.
func (p *Pipeline) Run(ctx context.Context, req model.RunRequest) (*model.ParsedSchedule, error) {
	run, err := p.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, run)
}

// Reparse re-runs the seed of an existing record synchronously.
func (p *Pipeline) Reparse(ctx context.Context, id string) (*model.ParsedSchedule, error) {
	run, err := p.BeginReparse(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, run)
}

// Begin validates req, takes the seed lock and creates a pending record.
func (p *Pipeline) Begin(ctx context.Context, req model.RunRequest) (*Run, error) {
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "url is required")
	}
	if _, ok := discovery.ParseMode(req.Mode); !ok {
		return nil, eris.Wrapf(ErrInvalidRequest, "unknown mode %q", req.Mode)
	}

	lock, err := p.lock(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	ps, err := p.deps.Store.CreateSchedule(ctx, req.URL, "")
	if err != nil {
		p.release(ctx, lock, req.URL)
		return nil, eris.Wrap(err, "pipeline: create schedule")
	}
	return &Run{Schedule: ps, Request: req, lock: lock}, nil
}

// BeginReparse claims a re-run of record id. A pending_review record is
// re-run in place; a terminal record is left untouched and a new record
// linked to it through PreviousID is created.
func (p *Pipeline) BeginReparse(ctx context.Context, id string) (*Run, error) {
	ps, err := p.deps.Store.GetSchedule(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: reparse")
	}
	if !ps.Status.Terminal() && ps.Status != model.StatusPendingReview {
		return nil, &store.StatusConflictError{
			ID:       id,
			Expected: []model.ScheduleStatus{model.StatusPendingReview, model.StatusApproved, model.StatusRejected, model.StatusFailed},
			Actual:   ps.Status,
		}
	}

	req := model.RunRequest{URL: ps.URL}
	if ps.RawData != nil && ps.RawData.Request.URL != "" {
		req = ps.RawData.Request
	}

	lock, err := p.lock(ctx, ps.URL)
	if err != nil {
		return nil, err
	}

	if ps.Status == model.StatusPendingReview {
		if err := p.deps.Store.TransitionStatus(ctx, id, model.StatusPendingReview, model.StatusParsing); err != nil {
			p.release(ctx, lock, ps.URL)
			return nil, eris.Wrap(err, "pipeline: reparse")
		}
		prior := *ps
		ps.Status = model.StatusParsing
		return &Run{Schedule: ps, Request: req, lock: lock, prior: &prior}, nil
	}

	next, err := p.deps.Store.CreateSchedule(ctx, ps.URL, ps.ID)
	if err != nil {
		p.release(ctx, lock, ps.URL)
		return nil, eris.Wrap(err, "pipeline: create schedule")
	}
	return &Run{Schedule: next, Request: req, lock: lock}, nil
}

// Execute discovers, extracts and aggregates, then writes the result once.
// A discovery failure marks the record failed, except on an in-place
// re-parse, where the previous analysis is restored for review. Extraction
// failures and cancellation do not fail the record: whatever completed is
// aggregated and the record moves to pending_review, also when no shows
// were found.
func (p *Pipeline) Execute(ctx context.Context, run *Run) (*model.ParsedSchedule, error) {
	// Store writes must land even after the run is cancelled.
	storeCtx := context.WithoutCancel(ctx)
	defer p.release(storeCtx, run.lock, run.Request.URL)

	id := run.Schedule.ID
	log := zap.L().With(zap.String("schedule", id), zap.String("seed", run.Request.URL))
	log.Info("pipeline: starting run")
	start := time.Now()

	if run.Schedule.Status == model.StatusPending {
		if err := p.deps.Store.TransitionStatus(storeCtx, id, model.StatusPending, model.StatusParsing); err != nil {
			return nil, eris.Wrap(err, "pipeline: start parsing")
		}
	}

	report := &model.RunReport{
		Seed:    run.Request.URL,
		Request: run.Request,
		Records: []model.CandidateRecord{},
	}

	var crawl *discovery.Crawl
	err := trackPhase(log, "discovery", func() error {
		var err error
		crawl, err = p.deps.Discoverer.Discover(ctx, run.Request.URL, p.discoveryOptions(run.Request))
		return err
	})
	if err != nil {
		report.DurationMs = time.Since(start).Milliseconds()
		report.Cancelled = ctx.Err() != nil
		if run.prior != nil {
			p.restore(storeCtx, log, run.prior)
		} else if failErr := p.deps.Store.FailSchedule(storeCtx, id, err.Error(), report); failErr != nil {
			log.Error("pipeline: mark failed", zap.Error(failErr))
		}
		return nil, eris.Wrap(err, "pipeline: discovery")
	}
	report.Seed = crawl.Seed
	report.Mode = string(crawl.Mode)

	var (
		records []model.CandidateRecord
		stats   extract.Stats
	)
	_ = trackPhase(log, "extraction", func() error {
		records, stats = p.deps.Extractor.Extract(ctx, crawl.Units)
		return nil
	})

	var result *model.AggregatedResult
	_ = trackPhase(log, "aggregation", func() error {
		result = aggregate.Aggregate(records, p.deps.Aggregate)
		return nil
	})

	if p.deps.Geocoder != nil && len(result.Shows) > 0 {
		_ = trackPhase(log, "geocoding", func() error {
			report.VenuesLocated = p.locate(ctx, log, result)
			return nil
		})
	}

	report.UnitsFound = len(records)
	report.Truncated = crawl.Truncated()
	report.UnitsFailed = stats.Failed
	report.FailureKinds = stats.FailureKinds
	report.Usage = stats.Usage
	report.Cancelled = ctx.Err() != nil
	report.Records = records
	report.DurationMs = time.Since(start).Milliseconds()

	if err := p.deps.Store.SaveAnalysis(storeCtx, id, report, result); err != nil {
		return nil, eris.Wrap(err, "pipeline: save analysis")
	}

	log.Info("pipeline: run complete",
		zap.Int("units", report.UnitsFound),
		zap.Int("failed", report.UnitsFailed),
		zap.Int("vendors", len(result.Vendors)),
		zap.Int("djs", len(result.DJs)),
		zap.Int("shows", len(result.Shows)),
		zap.Bool("truncated", report.Truncated),
		zap.Bool("cancelled", report.Cancelled),
		zap.Float64("cost", report.Usage.Cost),
		zap.Int64("duration_ms", report.DurationMs),
	)

	ps, err := p.deps.Store.GetSchedule(storeCtx, id)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: reload schedule")
	}
	return ps, nil
}

// restore puts a record re-run in place back to pending_review with the
// analysis it had before the re-run.
func (p *Pipeline) restore(ctx context.Context, log *zap.Logger, prior *model.ParsedSchedule) {
	if err := p.deps.Store.SaveAnalysis(ctx, prior.ID, prior.RawData, prior.AIAnalysis); err != nil {
		log.Error("pipeline: restore previous analysis", zap.Error(err))
		return
	}
	log.Warn("pipeline: re-parse failed, previous analysis kept for review")
}

func (p *Pipeline) discoveryOptions(req model.RunRequest) discovery.Options {
	opts := p.deps.Discovery
	if mode, ok := discovery.ParseMode(req.Mode); ok && req.Mode != "" {
		opts.Mode = mode
	}
	if req.MaxDepth > 0 {
		opts.MaxDepth = req.MaxDepth
	}
	if req.MaxUnits > 0 {
		opts.MaxUnits = req.MaxUnits
	}
	if req.IncludeSubdomains {
		opts.IncludeSubdomains = true
	}
	return opts
}

func (p *Pipeline) lock(ctx context.Context, seed string) (runlock.Lock, error) {
	if p.deps.Locker == nil {
		return nil, nil
	}
	lock, err := p.deps.Locker.TryLock(ctx, seed)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			zap.L().Info("pipeline: seed already running", zap.String("seed", seed))
		}
		return nil, err
	}
	return lock, nil
}

func (p *Pipeline) release(ctx context.Context, lock runlock.Lock, seed string) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		zap.L().Warn("pipeline: release lock", zap.String("seed", seed), zap.Error(err))
	}
}

// trackPhase times fn and logs its outcome.
func trackPhase(log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		return err
	}
	log.Info("pipeline: phase complete",
		zap.String("phase", name),
		zap.Int64("duration_ms", duration),
	)
	return nil
}
