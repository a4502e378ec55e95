package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zenibako/pipevent/internal/trigger"
	"github.com/zenibako/pipevent/pkg/types"
)

// InvokerFactory builds a fresh invocation backend for one job.
type InvokerFactory func(job *types.Job) (types.Invoker, error)

// Controller composes matcher, supervisor and executor: it resolves an
// incoming event to runs, dispatches each run's jobs and reports a single
// terminal status per run.
type Controller struct {
	Supervisor *Supervisor
	Pipelines  []*types.Definition
	NewInvoker InvokerFactory
	Workdir    string

	// MaxParallel bounds concurrent jobs within one run (0 means one at
	// a time).
	MaxParallel int
	// CancelOnFailure stops sibling jobs at their next step boundary when
	// one job fails. Off by default: siblings finish independently.
	CancelOnFailure bool
	// Timeout is an optional per-run deadline (0 means none).
	Timeout time.Duration

	Log zerolog.Logger
}

// Handle matches the event against every loaded pipeline and executes a run
// for each match. Returns the finished runs; an event that matches nothing
// returns an empty slice and no error.
func (c *Controller) Handle(ctx context.Context, ev types.Event) ([]*Run, error) {
	runs := c.Accept(ev)
	for _, run := range runs {
		c.Execute(ctx, run)
	}
	return runs, nil
}

// Accept matches the event and registers a pending run for every matching
// pipeline, without executing anything. Registration order is arrival
// order: callers feeding a stream must Accept events in stream order so
// that a newer event supersedes the older run, never the reverse.
// Execution can then proceed concurrently via Execute.
func (c *Controller) Accept(ev types.Event) []*Run {
	var runs []*Run
	for _, def := range c.Pipelines {
		if !trigger.Matches(def, ev) {
			c.Log.Debug().Str("pipeline", def.Name).Str("ref", ev.Ref).Msg("no trigger matched")
			continue
		}
		run := NewRun(def, ev, TriggerKey(def, ev))
		c.Supervisor.Register(run)
		runs = append(runs, run)
	}
	return runs
}

// Execute drives an accepted run to a terminal status and blocks until it
// gets there. A run superseded between Accept and Execute stays cancelled
// and never starts a job.
func (c *Controller) Execute(ctx context.Context, run *Run) {
	log := c.Log.With().
		Str("run", run.ID).
		Str("pipeline", run.Pipeline.Name).
		Str("key", run.Key).
		Logger()

	defer c.Supervisor.Complete(run)

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if !run.start(cancel) {
		// Superseded between registration and start.
		log.Info().Msg("run cancelled before start")
		return
	}

	log.Info().Str("ref", run.Event.Ref).Str("event", string(run.Event.Kind)).Msg("run started")

	results := c.executeJobs(runCtx, run, cancel)
	run.setJobs(results)
	run.finish(aggregate(results))

	log.Info().Str("status", string(run.Status())).Msg("run finished")
}

// executeJobs runs the pipeline's jobs as independent parallel units,
// bounded by MaxParallel, and returns their results in declaration order.
func (c *Controller) executeJobs(ctx context.Context, run *Run, cancel context.CancelFunc) []types.JobResult {
	jobs := run.Pipeline.Jobs
	results := make([]types.JobResult, len(jobs))

	limit := c.MaxParallel
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			job := &jobs[idx]
			results[idx] = c.executeJob(ctx, job)

			if results[idx].Status == types.StatusFailed && c.CancelOnFailure {
				cancel()
			}
		}(i)
	}
	wg.Wait()

	return results
}

func (c *Controller) executeJob(ctx context.Context, job *types.Job) types.JobResult {
	invoker, err := c.NewInvoker(job)
	if err != nil {
		c.Log.Error().Err(err).Str("job", job.Name).Msg("invoker unavailable")
		return types.JobResult{
			Name:   job.Name,
			Status: types.StatusFailed,
			Steps: []types.StepResult{{
				Step:   types.Step{Name: "provision runner"},
				Status: types.StatusFailed,
				Err:    err,
			}},
		}
	}

	executor := NewExecutor(invoker, c.Log)
	res := executor.ExecuteJob(ctx, job, c.Workdir)

	if err := invoker.Cleanup(); err != nil {
		c.Log.Warn().Err(err).Str("job", job.Name).Msg("runner cleanup failed")
	}
	return res
}

// TriggerKey derives the identity used to group runs for cancellation. An
// explicit concurrency group from the definition wins; otherwise the key is
// pipeline name plus normalized ref.
func TriggerKey(def *types.Definition, ev types.Event) string {
	if def.ConcurrencyGroup != "" {
		return def.ConcurrencyGroup
	}
	return fmt.Sprintf("%s@%s", def.Name, ev.NormalizedRef())
}

// aggregate folds job results into a run status: succeeded only if every
// job succeeded, failed if any job failed, cancelled if a job was stopped
// by cancellation and none failed. The run-level cancelled state set by the
// supervisor still wins over whatever is computed here.
func aggregate(results []types.JobResult) types.Status {
	status := types.StatusSucceeded
	for _, res := range results {
		switch res.Status {
		case types.StatusFailed:
			return types.StatusFailed
		case types.StatusCancelled:
			status = types.StatusCancelled
		}
	}
	return status
}
