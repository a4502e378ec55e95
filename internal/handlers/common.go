// Package handlers implements the CLI commands.
package handlers

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/internal/config"
	"github.com/zenibako/pipevent/internal/engine"
	"github.com/zenibako/pipevent/internal/logging"
	"github.com/zenibako/pipevent/internal/parsers"
	"github.com/zenibako/pipevent/internal/runners"
	"github.com/zenibako/pipevent/pkg/types"
)

// Exit codes reported to the event source. Cancellation is not a failure;
// it gets its own code so callers can tell a superseded run from a broken
// one.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitCancelled = 2
)

// workflowPatterns are tried in order when no pipeline file is given.
var workflowPatterns = []string{
	".github/workflows/*.yml",
	".github/workflows/*.yaml",
	".gitlab-ci.yml",
	".gitlab-ci.yaml",
}

// loadDefinitions parses every pipeline file into an immutable Definition
// and validates it. Malformed definitions are configuration errors: fatal,
// reported before any run starts.
func loadDefinitions(c *cli.Context) ([]*types.Definition, error) {
	files, err := findWorkflowFiles(c)
	if err != nil {
		return nil, err
	}

	var defs []*types.Definition
	for _, file := range files {
		parser := detectParser(file)
		def, err := parser.Parse(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		if problems := validateDefinition(def, false); len(problems) > 0 {
			return nil, fmt.Errorf("invalid pipeline %s: %s", file, strings.Join(problems, "; "))
		}
		defs = append(defs, def)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("no pipeline definitions found. Use -f to specify a file")
	}
	return defs, nil
}

func findWorkflowFiles(c *cli.Context) ([]string, error) {
	if file := c.String("file"); file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("pipeline file %s: %w", file, err)
		}
		return []string{file}, nil
	}

	for _, pattern := range workflowPatterns {
		matches, _ := filepath.Glob(pattern)
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, nil
}

// detectParser picks the parser from the file path.
func detectParser(path string) types.Parser {
	base := filepath.Base(path)
	switch {
	case strings.Contains(base, "gitlab"):
		return &parsers.GitlabParser{}
	default:
		return &parsers.GithubParser{}
	}
}

// getWorkdir resolves and verifies the working directory.
func getWorkdir(c *cli.Context) (string, error) {
	workdir := c.String("workdir")
	if workdir == "" || workdir == "." {
		var err error
		workdir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	absWorkdir, err := filepath.Abs(workdir)
	if err != nil {
		return "", fmt.Errorf("invalid workdir: %w", err)
	}
	if _, err := os.Stat(absWorkdir); os.IsNotExist(err) {
		return "", fmt.Errorf("workdir does not exist: %s", absWorkdir)
	}
	return absWorkdir, nil
}

// newLogger builds the root logger from global flags.
func newLogger(c *cli.Context) zerolog.Logger {
	return logging.New(c.Bool("debug"), c.Bool("quiet"))
}

// buildController assembles the engine from flags and the optional config
// file. Flags win over the file; the file wins over defaults.
func buildController(c *cli.Context, defs []*types.Definition, log zerolog.Logger) (*engine.Controller, error) {
	fileCfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	workdir, err := getWorkdir(c)
	if err != nil {
		return nil, err
	}

	runnerCfg := config.DefaultRunnerConfig()
	runnerCfg.DryRun = c.Bool("dry-run")
	runnerCfg.Verbose = c.Bool("debug")
	runnerCfg.Quiet = c.Bool("quiet")
	runnerCfg.PullImages = c.Bool("pull")
	env, err := parseEnvironmentVars(c)
	if err != nil {
		return nil, err
	}
	for k, v := range fileCfg.Environment {
		runnerCfg.Environment[k] = v
	}
	for k, v := range env {
		runnerCfg.Environment[k] = v
	}

	runner := fileCfg.Defaults.Runner
	if c.Bool("docker") {
		runner = "docker"
	}

	maxParallel := fileCfg.Defaults.MaxParallel
	if c.IsSet("max-parallel") {
		maxParallel = c.Int("max-parallel")
	}
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	timeoutMin := fileCfg.Defaults.TimeoutMin
	if c.IsSet("timeout") {
		timeoutMin = c.Int("timeout")
	}

	cancelOnFailure := fileCfg.Defaults.CancelOnFailure
	if c.Bool("cancel-on-failure") {
		cancelOnFailure = true
	}

	return &engine.Controller{
		Supervisor:      engine.NewSupervisor(log),
		Pipelines:       defs,
		NewInvoker:      invokerFactory(runner, runnerCfg),
		Workdir:         workdir,
		MaxParallel:     maxParallel,
		CancelOnFailure: cancelOnFailure,
		Timeout:         time.Duration(timeoutMin) * time.Minute,
		Log:             log,
	}, nil
}

// invokerFactory returns a factory creating one invoker per job: jobs are
// independent units and must not share container state.
func invokerFactory(runner string, cfg *config.RunnerConfig) engine.InvokerFactory {
	return func(job *types.Job) (types.Invoker, error) {
		if runner == "docker" {
			return runners.NewDockerInvoker(cfg)
		}
		return runners.NewShellInvoker(cfg), nil
	}
}

// parseEnvironmentVars merges --env flags with an optional --env-file.
func parseEnvironmentVars(c *cli.Context) (map[string]string, error) {
	env := make(map[string]string)

	if envFile := c.String("env-file"); envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}

	for _, e := range c.StringSlice("env") {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --env value %q, want KEY=VALUE", e)
		}
		env[parts[0]] = parts[1]
	}
	return env, nil
}

// eventFromContext builds the repository event from flags, falling back to
// the local git state for the ref.
func eventFromContext(c *cli.Context, workdir string) (types.Event, error) {
	ev := types.Event{
		Kind:         types.EventKind(c.String("event")),
		Ref:          c.String("ref"),
		ChangedPaths: c.StringSlice("changed"),
	}

	if ev.Ref == "" {
		branch := gitOutput(workdir, "rev-parse", "--abbrev-ref", "HEAD")
		if branch == "" {
			return ev, fmt.Errorf("could not detect the current branch; pass --ref")
		}
		ev.Ref = "refs/heads/" + branch
	} else if !strings.HasPrefix(ev.Ref, "refs/") {
		ev.Ref = "refs/heads/" + ev.Ref
	}

	if len(ev.ChangedPaths) == 0 {
		if diff := gitOutput(workdir, "diff", "--name-only", "HEAD~1..HEAD"); diff != "" {
			ev.ChangedPaths = strings.Split(diff, "\n")
		}
	}

	if !knownEventKind(ev.Kind) {
		return ev, fmt.Errorf("unknown event kind %q (want push or pull_request)", ev.Kind)
	}
	return ev, nil
}

func gitOutput(workdir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = workdir
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// exitCodeFor maps a terminal run status to the process exit code.
func exitCodeFor(status types.Status) int {
	switch status {
	case types.StatusSucceeded:
		return ExitSucceeded
	case types.StatusCancelled:
		return ExitCancelled
	default:
		return ExitFailed
	}
}
