package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zenibako/pipevent/pkg/types"
)

// scriptedInvoker records invocation order and fails the steps named in
// fail. If onStep is set it is called after a step's work, before returning,
// which lets tests cancel the run between step boundaries.
type scriptedInvoker struct {
	mu      sync.Mutex
	invoked []string
	fail    map[string]bool
	onStep  func(step *types.Step)
}

func (f *scriptedInvoker) Setup(ctx context.Context, job *types.Job, workdir string) error {
	return nil
}

func (f *scriptedInvoker) InvokeStep(ctx context.Context, job *types.Job, step *types.Step, workdir string) error {
	f.mu.Lock()
	f.invoked = append(f.invoked, step.Name)
	f.mu.Unlock()

	if f.onStep != nil {
		f.onStep(step)
	}
	if f.fail[step.Name] {
		return fmt.Errorf("step %s: exit status 1", step.Name)
	}
	return nil
}

func (f *scriptedInvoker) Cleanup() error { return nil }
func (f *scriptedInvoker) Name() string   { return "fake" }

func (f *scriptedInvoker) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.invoked))
	copy(out, f.invoked)
	return out
}

func testJob(stepNames ...string) *types.Job {
	job := &types.Job{Name: "build", RunsOn: "ubuntu-latest"}
	for _, name := range stepNames {
		job.Steps = append(job.Steps, types.Step{Name: name, Run: "true"})
	}
	return job
}

func TestExecuteJobAllSucceed(t *testing.T) {
	inv := &scriptedInvoker{}
	exec := NewExecutor(inv, zerolog.Nop())

	res := exec.ExecuteJob(context.Background(), testJob("A", "B"), t.TempDir())

	if res.Status != types.StatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", res.Status)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("recorded %d step results, want 2", len(res.Steps))
	}
	for i, name := range []string{"A", "B"} {
		if res.Steps[i].Step.Name != name || res.Steps[i].Status != types.StatusSucceeded {
			t.Errorf("step %d = %s/%s, want %s/succeeded", i, res.Steps[i].Step.Name, res.Steps[i].Status, name)
		}
	}
}

func TestExecuteJobStopsAtFirstFailure(t *testing.T) {
	inv := &scriptedInvoker{fail: map[string]bool{"B": true}}
	exec := NewExecutor(inv, zerolog.Nop())

	res := exec.ExecuteJob(context.Background(), testJob("A", "B", "C"), t.TempDir())

	if res.Status != types.StatusFailed {
		t.Fatalf("job status = %s, want failed", res.Status)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("recorded %d step results, want 2 (C must stay unrun)", len(res.Steps))
	}
	if res.Steps[0].Status != types.StatusSucceeded {
		t.Errorf("step A status = %s, want succeeded", res.Steps[0].Status)
	}
	if res.Steps[1].Status != types.StatusFailed || res.Steps[1].Err == nil {
		t.Errorf("step B status = %s err = %v, want failed with error", res.Steps[1].Status, res.Steps[1].Err)
	}
	got := inv.invocations()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("invocations = %v, want [A B]", got)
	}
}

func TestExecuteJobCancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &scriptedInvoker{
		onStep: func(step *types.Step) {
			if step.Name == "A" {
				cancel()
			}
		},
	}
	exec := NewExecutor(inv, zerolog.Nop())

	res := exec.ExecuteJob(ctx, testJob("A", "B"), t.TempDir())

	if res.Status != types.StatusCancelled {
		t.Fatalf("job status = %s, want cancelled", res.Status)
	}
	if len(res.Steps) != 1 || res.Steps[0].Step.Name != "A" || res.Steps[0].Status != types.StatusSucceeded {
		t.Fatalf("want only A recorded succeeded, got %+v", res.Steps)
	}
	got := inv.invocations()
	if len(got) != 1 {
		t.Errorf("B must not start after cancellation, invocations = %v", got)
	}
}

func TestExecuteJobCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := &scriptedInvoker{}
	exec := NewExecutor(inv, zerolog.Nop())

	res := exec.ExecuteJob(ctx, testJob("A"), t.TempDir())

	if res.Status != types.StatusCancelled {
		t.Fatalf("job status = %s, want cancelled", res.Status)
	}
	if len(res.Steps) != 0 {
		t.Fatalf("no step may run on a pre-cancelled context, got %+v", res.Steps)
	}
}

// setupFailInvoker fails during environment provisioning.
type setupFailInvoker struct{ scriptedInvoker }

func (f *setupFailInvoker) Setup(ctx context.Context, job *types.Job, workdir string) error {
	return errors.New("image pull failed")
}

func TestExecuteJobSetupFailure(t *testing.T) {
	inv := &setupFailInvoker{}
	exec := NewExecutor(inv, zerolog.Nop())

	res := exec.ExecuteJob(context.Background(), testJob("A"), t.TempDir())

	if res.Status != types.StatusFailed {
		t.Fatalf("job status = %s, want failed", res.Status)
	}
	if len(inv.invocations()) != 0 {
		t.Error("steps must not run when setup fails")
	}
}
