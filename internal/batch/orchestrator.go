// Package batch runs many documents through a pipeline with bounded
// concurrency and collects a report.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/engine"
)

// Runner converts a single document. *engine.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, job engine.Job) domain.PipelineResult
}

// Orchestrator runs jobs on at most Workers pipelines at a time.
type Orchestrator struct {
	runner     Runner
	workers    int
	onComplete func(domain.PipelineResult)
	log        zerolog.Logger
}

func New(runner Runner, workers int, log zerolog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		runner:  runner,
		workers: workers,
		log:     log.With().Str("component", "batch").Logger(),
	}
}

// OnComplete registers a callback invoked once per finished job, from the
// worker that ran it.
func (o *Orchestrator) OnComplete(fn func(domain.PipelineResult)) {
	o.onComplete = fn
}

// Run processes every job and reports results in submission order. A
// failing document never stops the others. After ctx is canceled no new
// document starts and the remaining ones are reported as canceled.
func (o *Orchestrator) Run(ctx context.Context, jobs []engine.Job) *domain.BatchReport {
	report := &domain.BatchReport{
		RunID:   uuid.NewString(),
		Results: make([]domain.PipelineResult, len(jobs)),
	}
	log := o.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Int("documents", len(jobs)).Int("workers", o.workers).Msg("batch started")

	var mu sync.Mutex
	finish := func(i int, res domain.PipelineResult) {
		report.Results[i] = res
		if o.onComplete != nil {
			mu.Lock()
			o.onComplete(res)
			mu.Unlock()
		}
	}

	// Plain Group: a failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, job := range jobs {
		if ctx.Err() != nil {
			finish(i, canceled(job, ctx.Err()))
			continue
		}
		g.Go(func() error {
			finish(i, o.runOne(ctx, job))
			return nil
		})
	}
	g.Wait()

	for _, res := range report.Results {
		if res.State == domain.StateDone {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	log.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("batch finished")
	return report
}

func (o *Orchestrator) runOne(ctx context.Context, job engine.Job) (res domain.PipelineResult) {
	defer func() {
		if v := recover(); v != nil {
			o.log.Error().Str("doc", job.Path).Str("stack", string(debug.Stack())).Msgf("panic: %v", v)
			res = domain.PipelineResult{
				Path:  job.Path,
				State: domain.StateFailed,
				Err:   domain.NewError(domain.KindInternal, fmt.Sprintf("panic: %v", v), nil),
			}
		}
	}()
	if err := ctx.Err(); err != nil {
		return canceled(job, err)
	}
	return o.runner.Run(ctx, job)
}

func canceled(job engine.Job, err error) domain.PipelineResult {
	return domain.PipelineResult{
		Path:  job.Path,
		State: domain.StateFailed,
		Err:   domain.CanceledError("not started", err),
	}
}
