package engine

import (
	"sync"

	"github.com/rs/zerolog"
)

// Supervisor owns the table of active runs keyed by trigger key. All
// mutations go through Register and Complete under one lock, so two events
// racing on the same key can never both end up active.
type Supervisor struct {
	mu     sync.Mutex
	active map[string]*Run
	log    zerolog.Logger
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(log zerolog.Logger) *Supervisor {
	return &Supervisor{
		active: make(map[string]*Run),
		log:    log.With().Str("component", "supervisor").Logger(),
	}
}

// Register records run as the active run for its trigger key. If another
// run is already active for that key it is cancelled under the same lock
// that swaps the table: by the time the new registration is observable, the
// superseded run is no longer running. A newer event for the same key
// always supersedes the in-flight run.
func (s *Supervisor) Register(run *Run) {
	s.mu.Lock()
	prev := s.active[run.Key]
	s.active[run.Key] = run
	if prev != nil {
		// Run.Cancel takes only the run's own mutex, never the
		// supervisor's, so holding s.mu here cannot deadlock.
		prev.Cancel()
	}
	s.mu.Unlock()

	if prev != nil {
		s.log.Info().
			Str("key", run.Key).
			Str("superseded", prev.ID).
			Str("run", run.ID).
			Msg("cancelled superseded run")
	}
}

// Complete removes the run from the active set. A run superseded while it
// was still executing has already been replaced in the table; completing it
// must not evict its successor.
func (s *Supervisor) Complete(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[run.Key] == run {
		delete(s.active, run.Key)
	}
}

// Active returns the active run for a trigger key, or nil.
func (s *Supervisor) Active(key string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[key]
}

// ActiveCount returns the number of in-flight runs.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
