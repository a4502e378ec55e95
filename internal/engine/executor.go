package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/zenibako/pipevent/pkg/types"
)

// Executor runs one job's steps strictly in declared order through an
// Invoker. Cancellation is cooperative: the context is checked before each
// step, so a cancelled run stops at the next step boundary without starting
// a new step. Mid-step interruption depends on the invoker (a killed shell
// command surfaces as a context error and is treated as cancellation, not
// failure).
type Executor struct {
	invoker types.Invoker
	log     zerolog.Logger
}

// NewExecutor creates an executor bound to one invocation backend.
func NewExecutor(invoker types.Invoker, log zerolog.Logger) *Executor {
	return &Executor{
		invoker: invoker,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// ExecuteJob runs the job's steps in order, stopping at the first failure
// or at the first step boundary after cancellation. Steps that never
// started have no result. Failed steps are not retried here; retry is a
// policy of the caller, not of the executor.
func (e *Executor) ExecuteJob(ctx context.Context, job *types.Job, workdir string) types.JobResult {
	res := types.JobResult{Name: job.Name, Status: types.StatusRunning}

	if ctx.Err() != nil {
		res.Status = types.StatusCancelled
		return res
	}

	if err := e.invoker.Setup(ctx, job, workdir); err != nil {
		if ctx.Err() != nil {
			res.Status = types.StatusCancelled
			return res
		}
		e.log.Error().Err(err).Str("job", job.Name).Msg("environment setup failed")
		res.Status = types.StatusFailed
		res.Steps = append(res.Steps, types.StepResult{
			Step:   types.Step{Name: "setup"},
			Status: types.StatusFailed,
			Err:    err,
		})
		return res
	}

	for i := range job.Steps {
		step := &job.Steps[i]

		if ctx.Err() != nil {
			e.log.Info().Str("job", job.Name).Str("step", step.Label()).Msg("cancelled before step")
			res.Status = types.StatusCancelled
			return res
		}

		start := time.Now()
		err := e.invoker.InvokeStep(ctx, job, step, workdir)
		elapsed := time.Since(start)

		if err != nil {
			// A step killed by run cancellation is not a step failure.
			if ctx.Err() != nil {
				res.Status = types.StatusCancelled
				return res
			}
			e.log.Warn().Err(err).Str("job", job.Name).Str("step", step.Label()).Msg("step failed")
			res.Steps = append(res.Steps, types.StepResult{
				Step:     *step,
				Status:   types.StatusFailed,
				Err:      err,
				Duration: elapsed,
			})
			res.Status = types.StatusFailed
			return res
		}

		res.Steps = append(res.Steps, types.StepResult{
			Step:     *step,
			Status:   types.StatusSucceeded,
			Duration: elapsed,
		})
	}

	res.Status = types.StatusSucceeded
	return res
}
