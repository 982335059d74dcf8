// Package scheduler re-runs the pipeline for a watch list of seeds on cron
// schedules.
package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
	"github.com/sells-group/karaoke-scout/internal/runlock"
)

// Runner executes one pipeline run to completion.
type Runner interface {
	Run(ctx context.Context, req model.RunRequest) (*model.ParsedSchedule, error)
}

// Summary counts the outcomes of a pass over the watch list.
type Summary struct {
	Completed int
	Skipped   int
	Failed    int
}

// Scheduler wraps robfig/cron with one entry per seed.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	list   *WatchList
}

// New creates a Scheduler for list.
func New(runner Runner, list *WatchList) *Scheduler {
	logger := zapCronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner: runner,
		list:   list,
	}
}

// Start registers every seed and starts the cron loop. Runs are bound to
// ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, seed := range s.list.Seeds {
		spec := seed.Schedule
		if spec == "" {
			spec = s.list.Schedule
		}
		if _, err := s.cron.AddFunc(spec, func() { s.runSeed(ctx, seed) }); err != nil {
			return eris.Wrapf(err, "scheduler: schedule seed %s", seed.URL)
		}
	}
	s.cron.Start()
	zap.L().Info("scheduler: started",
		zap.Int("seeds", len(s.list.Seeds)),
		zap.String("default_schedule", s.list.Schedule),
	)
	return nil
}

// Stop stops scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	zap.L().Info("scheduler: stopping")
	return s.cron.Stop()
}

// Entries returns the number of registered seeds.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunOnce runs every seed once, in order, and stops early when ctx is done.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var sum Summary
	for _, seed := range s.list.Seeds {
		if ctx.Err() != nil {
			break
		}
		switch err := s.runSeed(ctx, seed); {
		case err == nil:
			sum.Completed++
		case errors.Is(err, runlock.ErrLocked):
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	zap.L().Info("scheduler: pass complete",
		zap.Int("completed", sum.Completed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum
}

func (s *Scheduler) runSeed(ctx context.Context, seed Seed) error {
	log := zap.L().With(zap.String("seed", seed.URL))

	ps, err := s.runner.Run(ctx, seed.Request())
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			log.Info("scheduler: seed already running, skipping")
		} else {
			log.Error("scheduler: run failed", zap.Error(err))
		}
		return err
	}

	shows := 0
	if ps.AIAnalysis != nil {
		shows = len(ps.AIAnalysis.Shows)
	}
	log.Info("scheduler: run staged for review",
		zap.String("schedule", ps.ID),
		zap.Int("shows", shows),
	)
	return nil
}

// zapCronLogger adapts the global zap logger to cron.Logger.
type zapCronLogger struct{}

func (zapCronLogger) Info(msg string, keysAndValues ...any) {
	zap.L().Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	zap.L().Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
