package types

import (
	"context"
	"strings"
	"time"
)

// EventKind is the kind of repository event that can start a pipeline.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// KnownEventKinds lists the event kinds the engine understands.
var KnownEventKinds = []EventKind{EventPush, EventPullRequest}

// Event is an incoming repository event, produced by a source-control host
// (or synthesized from local git state / an event stream).
type Event struct {
	Kind         EventKind `json:"kind"`
	Ref          string    `json:"ref"`
	ChangedPaths []string  `json:"changed_paths,omitempty"`
}

// IsTag reports whether the event ref points at a tag.
func (e Event) IsTag() bool {
	return strings.HasPrefix(e.Ref, "refs/tags/")
}

// NormalizedRef strips the refs/heads/ or refs/tags/ prefix so that trigger
// patterns match against the short name ("main", "v1.2.0").
func (e Event) NormalizedRef() string {
	ref := strings.TrimPrefix(e.Ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "refs/tags/")
	return ref
}

// TriggerRule decides whether an event starts a pipeline. Patterns use glob
// syntax ("v*", "feature/**"). Rules are immutable once loaded.
type TriggerRule struct {
	Events      []EventKind `yaml:"events"`
	Branches    []string    `yaml:"branches,omitempty"`
	Tags        []string    `yaml:"tags,omitempty"`
	PathsIgnore []string    `yaml:"paths-ignore,omitempty"`
}

// HasRefFilter reports whether the rule restricts the event ref at all.
func (r TriggerRule) HasRefFilter() bool {
	return len(r.Branches) > 0 || len(r.Tags) > 0
}

// Definition is a loaded pipeline: a named, triggerable, ordered sequence of
// jobs. Never mutated at run time.
type Definition struct {
	Name             string
	Source           string // file the definition was loaded from
	Provider         string // github, gitlab
	ConcurrencyGroup string
	Triggers         []TriggerRule
	Jobs             []Job
}

// Job is an ordered sequence of steps executed in one provisioned
// environment. Declaration order of Jobs and Steps is significant.
type Job struct {
	Name   string
	RunsOn string
	Env    map[string]string
	Steps  []Step
}

// Step is one unit of work: either a literal command (Run) or a named
// external action with parameters (Uses/With).
type Step struct {
	Name       string
	Run        string
	Uses       string
	With       map[string]string
	Env        map[string]string
	Shell      string
	WorkingDir string
}

// Label returns a printable name for the step.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	if i := strings.IndexByte(s.Run, '\n'); i >= 0 {
		return s.Run[:i]
	}
	return s.Run
}

// Status is the lifecycle state of a run, job or step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCancelled Status = "cancelled"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// StepResult records the outcome of one started step. Steps that were never
// started (after a failure or cancellation) have no result at all.
type StepResult struct {
	Step     Step
	Status   Status
	Err      error
	Duration time.Duration
}

// JobResult records the outcome of one job: its terminal status and the
// ordered results of the steps that started.
type JobResult struct {
	Name   string
	Status Status
	Steps  []StepResult
}

// Invoker is the step invocation boundary. Implementations run steps in a
// provisioned environment (local shell, container) and signal success or
// failure; everything a step does is opaque to the engine beyond that.
type Invoker interface {
	// Setup provisions the job environment before the first step runs.
	Setup(ctx context.Context, job *Job, workdir string) error
	// InvokeStep runs a single step and blocks until it finishes.
	InvokeStep(ctx context.Context, job *Job, step *Step, workdir string) error
	// Cleanup releases whatever Setup provisioned.
	Cleanup() error
	// Name identifies the backend for logs and headers.
	Name() string
}

// Parser turns a pipeline file into a Definition.
type Parser interface {
	Parse(path string) (*Definition, error)
}
