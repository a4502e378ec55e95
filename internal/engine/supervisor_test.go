package engine

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zenibako/pipevent/pkg/types"
)

func pendingRun(key string) *Run {
	def := &types.Definition{Name: "ci"}
	return NewRun(def, types.Event{Kind: types.EventPush, Ref: "refs/heads/main"}, key)
}

func TestRegisterSupersedesActiveRun(t *testing.T) {
	sup := NewSupervisor(zerolog.Nop())

	first := pendingRun("ci@main")
	first.start(func() {})
	sup.Register(first)

	second := pendingRun("ci@main")
	sup.Register(second)

	if got := first.Status(); got != types.StatusCancelled {
		t.Errorf("superseded run status = %s, want cancelled", got)
	}
	if sup.Active("ci@main") != second {
		t.Error("second run must be the sole active entry for the key")
	}
	if sup.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", sup.ActiveCount())
	}
}

func TestRegisterDistinctKeysCoexist(t *testing.T) {
	sup := NewSupervisor(zerolog.Nop())

	main := pendingRun("ci@main")
	dev := pendingRun("ci@develop")
	sup.Register(main)
	sup.Register(dev)

	if main.Status() == types.StatusCancelled || dev.Status() == types.StatusCancelled {
		t.Error("runs on distinct keys must not cancel each other")
	}
	if sup.ActiveCount() != 2 {
		t.Errorf("active count = %d, want 2", sup.ActiveCount())
	}
}

func TestCompleteRemovesOnlyOwnEntry(t *testing.T) {
	sup := NewSupervisor(zerolog.Nop())

	first := pendingRun("ci@main")
	sup.Register(first)
	second := pendingRun("ci@main")
	sup.Register(second)

	// The superseded run finishing late must not evict its successor.
	sup.Complete(first)
	if sup.Active("ci@main") != second {
		t.Error("completing a superseded run evicted the active successor")
	}

	sup.Complete(second)
	if sup.Active("ci@main") != nil {
		t.Error("completed run still active")
	}
}

func TestCancelIsIdempotentAndSticky(t *testing.T) {
	run := pendingRun("ci@main")
	cancelled := 0
	run.start(func() { cancelled++ })

	run.Cancel()
	run.Cancel()

	if run.Status() != types.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status())
	}
	if cancelled != 1 {
		t.Errorf("cancellation signal fired %d times, want 1", cancelled)
	}

	// Cancellation wins: a later finish must not overwrite it.
	run.finish(types.StatusSucceeded)
	if run.Status() != types.StatusCancelled {
		t.Errorf("finish overwrote cancelled status to %s", run.Status())
	}
}

func TestCancelTerminalRunIsNoOp(t *testing.T) {
	run := pendingRun("ci@main")
	run.start(func() {})
	run.finish(types.StatusSucceeded)

	run.Cancel()
	if run.Status() != types.StatusSucceeded {
		t.Errorf("cancelling a finished run changed status to %s", run.Status())
	}
}

func TestConcurrentRegistrationLeavesOneActive(t *testing.T) {
	sup := NewSupervisor(zerolog.Nop())

	const n = 64
	runs := make([]*Run, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		runs[i] = pendingRun("ci@main")
		wg.Add(1)
		go func(r *Run) {
			defer wg.Done()
			sup.Register(r)
		}(runs[i])
	}
	wg.Wait()

	if sup.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want exactly 1", sup.ActiveCount())
	}

	active := sup.Active("ci@main")
	survivors := 0
	for i, r := range runs {
		if r == active {
			survivors++
			continue
		}
		if got := r.Status(); got != types.StatusCancelled {
			t.Errorf("run %d status = %s, want cancelled", i, got)
		}
	}
	if survivors != 1 {
		t.Errorf("%d runs escaped cancellation, want 1", survivors)
	}
}

// TestNoOverlappingRunningIntervals drives rounds of registrations racing
// on one key while a sampler watches run statuses. A run enters running at
// most once, so re-observing a run as running after a different run was
// seen running means their intervals overlapped, which the supervisor must
// never allow for a single key. The console-format logger keeps the
// supersession window realistic.
func TestNoOverlappingRunningIntervals(t *testing.T) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: io.Discard})
	sup := NewSupervisor(log)

	const rounds = 300
	const racers = 4

	for round := 0; round < rounds; round++ {
		runs := make([]*Run, racers)
		for i := range runs {
			runs[i] = pendingRun("ci@main")
		}

		stop := make(chan struct{})
		samplerDone := make(chan struct{})
		var observed []*Run
		go func() {
			defer close(samplerDone)
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, r := range runs {
					if r.Status() != types.StatusRunning {
						continue
					}
					if n := len(observed); n == 0 || observed[n-1] != r {
						observed = append(observed, r)
					}
				}
			}
		}()

		var wg sync.WaitGroup
		for _, r := range runs {
			wg.Add(1)
			go func(r *Run) {
				defer wg.Done()
				sup.Register(r)
				if !r.start(func() {}) {
					return
				}
				for i := 0; i < 100; i++ {
					runtime.Gosched()
				}
				r.finish(types.StatusSucceeded)
				sup.Complete(r)
			}(r)
		}
		wg.Wait()
		close(stop)
		<-samplerDone

		seen := make(map[*Run]bool)
		for _, r := range observed {
			if seen[r] {
				t.Fatalf("round %d: run %s observed running again after another run was running on the same key", round, r.ID)
			}
			seen[r] = true
		}
		for _, r := range runs {
			sup.Complete(r)
		}
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		r := pendingRun(fmt.Sprintf("ci@branch-%d", i))
		if seen[r.ID] {
			t.Fatalf("duplicate run ID %s", r.ID)
		}
		seen[r.ID] = true
	}
}
