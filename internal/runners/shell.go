package runners

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zenibako/pipevent/internal/config"
	"github.com/zenibako/pipevent/pkg/types"
)

// ShellInvoker executes steps as host shell commands. Each step runs in its
// own process group so cancellation can terminate the whole tree: SIGTERM
// first, SIGKILL after the grace period.
type ShellInvoker struct {
	config      *config.RunnerConfig
	formatter   *OutputFormatter
	environment map[string]string
	steps       int
	total       int
	mu          sync.Mutex
}

// NewShellInvoker creates a shell invoker with the given configuration.
func NewShellInvoker(cfg *config.RunnerConfig) *ShellInvoker {
	if cfg == nil {
		cfg = config.DefaultRunnerConfig()
	}
	return &ShellInvoker{
		config:      cfg,
		formatter:   NewOutputFormatter(cfg.Verbose, cfg.Quiet),
		environment: make(map[string]string),
	}
}

func (r *ShellInvoker) Name() string { return "shell (native)" }

// Setup resolves the workdir, prints the job header and records the
// standard CI environment for all steps of the job.
func (r *ShellInvoker) Setup(ctx context.Context, job *types.Job, workdir string) error {
	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return fmt.Errorf("invalid workdir: %w", err)
	}
	if _, err := os.Stat(absWorkdir); os.IsNotExist(err) {
		return fmt.Errorf("workdir does not exist: %s", absWorkdir)
	}

	r.formatter.PrintJobHeader(job.Name, absWorkdir, r.Name())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = len(job.Steps)
	r.environment["CI"] = "true"
	r.environment["PIPEVENT"] = "true"
	r.environment["JOB_NAME"] = job.Name
	r.environment["WORKSPACE"] = absWorkdir
	return nil
}

// InvokeStep runs a single step: a literal command through the shell, or a
// best-effort local equivalent of a named external action.
func (r *ShellInvoker) InvokeStep(ctx context.Context, job *types.Job, step *types.Step, workdir string) error {
	r.mu.Lock()
	r.steps++
	current := r.steps
	r.mu.Unlock()

	r.formatter.PrintStepHeader(step.Label(), current, r.total)

	if step.Uses != "" {
		return r.invokeAction(ctx, step, workdir)
	}
	if step.Run == "" {
		return nil
	}

	if r.config.DryRun {
		r.formatter.PrintCommand(step.Run, 2)
		return nil
	}

	cmd := r.prepareCommand(ctx, step)
	if step.WorkingDir != "" {
		cmd.Dir = filepath.Join(workdir, step.WorkingDir)
	} else {
		cmd.Dir = workdir
	}
	cmd.Env = r.buildStepEnvironment(job.Env, step.Env)

	if r.config.Verbose {
		r.formatter.PrintCommand(step.Run, 2)
	}

	start := time.Now()
	err := r.runStreaming(cmd)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			r.formatter.PrintStepStatus(types.StatusCancelled, elapsed, err)
			return fmt.Errorf("step killed by cancellation: %w", ctx.Err())
		}
		r.formatter.PrintStepStatus(types.StatusFailed, elapsed, err)
		return err
	}

	r.formatter.PrintStepStatus(types.StatusSucceeded, elapsed, nil)
	return nil
}

// prepareCommand builds the exec.Cmd for a step with process-group
// termination semantics.
func (r *ShellInvoker) prepareCommand(ctx context.Context, step *types.Step) *exec.Cmd {
	shell := step.Shell
	if shell == "" {
		shell = defaultShell()
	}

	var cmd *exec.Cmd
	switch shell {
	case "bash":
		cmd = exec.CommandContext(ctx, "bash", "-eo", "pipefail", "-c", step.Run)
	case "sh":
		cmd = exec.CommandContext(ctx, "sh", "-e", "-c", step.Run)
	case "python", "python3":
		cmd = exec.CommandContext(ctx, "python3", "-c", step.Run)
	case "node":
		cmd = exec.CommandContext(ctx, "node", "-e", step.Run)
	default:
		cmd = exec.CommandContext(ctx, shell, "-c", step.Run)
	}

	grace := r.config.GracePeriod
	if grace == 0 {
		grace = 5 * time.Second
	}

	// Whole process group, so children of the step die with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	return cmd
}

// runStreaming starts the command and streams stdout/stderr line by line.
func (r *ShellInvoker) runStreaming(cmd *exec.Cmd) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.streamOutput(stdout, &wg)
	go r.streamOutput(stderr, &wg)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func (r *ShellInvoker) streamOutput(reader io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		r.formatter.PrintOutput(scanner.Text(), 2)
	}
}

// invokeAction handles `uses:` steps with local equivalents where one
// exists. Unknown actions are skipped with a warning rather than failing
// the job: the local runner cannot fetch arbitrary remote actions.
func (r *ShellInvoker) invokeAction(ctx context.Context, step *types.Step, workdir string) error {
	ref := step.Uses
	action, version := ref, "latest"
	if i := strings.LastIndexByte(ref, '@'); i >= 0 {
		action, version = ref[:i], ref[i+1:]
	}

	switch action {
	case "actions/checkout":
		return r.actionCheckout(ctx, workdir)
	case "actions/setup-go", "actions/setup-node", "actions/setup-python", "actions-rs/toolchain":
		return r.actionSetup(ctx, action, step, version)
	default:
		r.formatter.PrintWarning(fmt.Sprintf("unsupported action: %s@%s (skipping)", action, version))
		if r.config.Verbose {
			for k, v := range step.With {
				r.formatter.PrintKeyValue(k, v, 2)
			}
		}
		return nil
	}
}

func (r *ShellInvoker) actionCheckout(ctx context.Context, workdir string) error {
	if r.config.DryRun {
		r.formatter.PrintCommand("git fetch --all --tags", 2)
		return nil
	}

	probe := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	probe.Dir = workdir
	if err := probe.Run(); err != nil {
		r.formatter.PrintInfo("not in a git repository, skipping checkout")
		return nil
	}

	fetch := exec.CommandContext(ctx, "git", "fetch", "--all", "--tags")
	fetch.Dir = workdir
	if err := fetch.Run(); err != nil {
		return fmt.Errorf("git fetch failed: %w", err)
	}
	r.formatter.PrintInfo("repository updated")
	return nil
}

func (r *ShellInvoker) actionSetup(ctx context.Context, action string, step *types.Step, version string) error {
	tool := strings.TrimPrefix(action, "actions/setup-")
	if action == "actions-rs/toolchain" {
		tool = "cargo"
	}

	toolVersion := step.With[tool+"-version"]
	if toolVersion == "" {
		toolVersion = version
	}
	r.formatter.PrintInfo(fmt.Sprintf("checking %s %s", tool, toolVersion))

	if r.config.DryRun {
		return nil
	}

	check := exec.CommandContext(ctx, tool, "--version")
	if tool == "go" {
		check = exec.CommandContext(ctx, "go", "version")
	}
	output, err := check.Output()
	if err != nil {
		r.formatter.PrintWarning(fmt.Sprintf("%s is not installed, install it manually", tool))
		return nil
	}
	r.formatter.PrintInfo(strings.TrimSpace(string(output)))
	return nil
}

func (r *ShellInvoker) buildStepEnvironment(jobEnv, stepEnv map[string]string) []string {
	env := os.Environ()
	r.mu.Lock()
	for k, v := range r.environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	r.mu.Unlock()
	for k, v := range r.config.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range jobEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range stepEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Cleanup has nothing to release for the shell backend.
func (r *ShellInvoker) Cleanup() error { return nil }

func defaultShell() string {
	for _, shell := range []string{"bash", "sh"} {
		if _, err := exec.LookPath(shell); err == nil {
			return shell
		}
	}
	return "sh"
}
