// Package engine executes pipeline runs: it matches events to pipelines,
// supervises one active run per trigger key, runs each job's steps in order
// and aggregates the outcome.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zenibako/pipevent/pkg/types"
)

// Run is one execution instance of a pipeline in response to one matched
// event. Status transitions are serialized through a mutex; terminal states
// are immutable and cancellation wins over any later transition attempt.
type Run struct {
	ID       string
	Pipeline *types.Definition
	Event    types.Event
	Key      string

	mu     sync.Mutex
	status types.Status
	jobs   []types.JobResult
	cancel context.CancelFunc
}

// NewRun creates a pending run for a matched event.
func NewRun(def *types.Definition, ev types.Event, key string) *Run {
	return &Run{
		ID:       uuid.NewString(),
		Pipeline: def,
		Event:    ev,
		Key:      key,
		status:   types.StatusPending,
	}
}

// Status returns the current run status.
func (r *Run) Status() types.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// JobResults returns the recorded job results in declaration order.
func (r *Run) JobResults() []types.JobResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.JobResult, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Cancel marks the run cancelled and propagates the cancellation signal to
// any executor working on it. Cancelling an already-cancelled or otherwise
// terminal run is a no-op.
func (r *Run) Cancel() {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	r.status = types.StatusCancelled
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// start transitions the run to running and attaches the cancellation
// signal. Returns false if the run was cancelled before it could start.
func (r *Run) start(cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != types.StatusPending {
		return false
	}
	r.status = types.StatusRunning
	r.cancel = cancel
	return true
}

// finish records the aggregate status. Cancellation wins: a run observed as
// cancelled is never overwritten to succeeded or failed.
func (r *Run) finish(status types.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
}

// setJobs records the job results in declaration order.
func (r *Run) setJobs(results []types.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = results
}
