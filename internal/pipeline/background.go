package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/karaoke-scout/internal/model"
)

// Background claims runs synchronously and executes them on their own
// goroutines, bound to the lifetime of the context it was created with.
type Background struct {
	p   *Pipeline
	ctx context.Context
	wg  sync.WaitGroup
}

// Background returns a runner whose runs are cancelled with ctx.
func (p *Pipeline) Background(ctx context.Context) *Background {
	return &Background{p: p, ctx: ctx}
}

// Start claims a run for req and executes it in the background.
func (b *Background) Start(ctx context.Context, req model.RunRequest) (*model.ParsedSchedule, error) {
	run, err := b.p.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	b.launch(run)
	return run.Schedule, nil
}

// Reparse claims a re-run of id and executes it in the background.
func (b *Background) Reparse(ctx context.Context, id string) (*model.ParsedSchedule, error) {
	run, err := b.p.BeginReparse(ctx, id)
	if err != nil {
		return nil, err
	}
	b.launch(run)
	return run.Schedule, nil
}

// Wait blocks until every launched run has finished.
func (b *Background) Wait() {
	b.wg.Wait()
}

func (b *Background) launch(run *Run) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := b.p.Execute(b.ctx, run); err != nil {
			zap.L().Error("pipeline: background run failed",
				zap.String("schedule", run.Schedule.ID),
				zap.String("seed", run.Request.URL),
				zap.Error(err),
			)
		}
	}()
}
