package runners

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/zenibako/pipevent/internal/config"
	"github.com/zenibako/pipevent/pkg/types"
)

// ContainerLabel marks containers created by pipevent so `pipevent clean`
// can find them.
const ContainerLabel = "pipevent"

// DockerInvoker provisions one container per job and executes each step as
// an exec inside it, so later steps observe the filesystem state left by
// earlier ones.
type DockerInvoker struct {
	client      *client.Client
	config      *config.RunnerConfig
	formatter   *OutputFormatter
	containerID string
	imageName   string
	steps       int
	total       int
	mu          sync.Mutex
}

// NewDockerInvoker creates a Docker invoker and verifies the daemon is
// reachable.
func NewDockerInvoker(cfg *config.RunnerConfig) (*DockerInvoker, error) {
	if cfg == nil {
		cfg = config.DefaultRunnerConfig()
	}

	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		if strings.Contains(err.Error(), "permission denied") {
			return nil, fmt.Errorf("Docker daemon permission denied. Try: sudo usermod -aG docker $USER")
		}
		if strings.Contains(err.Error(), "cannot connect") {
			return nil, fmt.Errorf("Docker daemon is not running. Start Docker and try again")
		}
		return nil, fmt.Errorf("Docker daemon is not accessible: %w", err)
	}

	return &DockerInvoker{
		client:    cli,
		config:    cfg,
		formatter: NewOutputFormatter(cfg.Verbose, cfg.Quiet),
	}, nil
}

func (r *DockerInvoker) Name() string {
	if r.imageName != "" {
		return fmt.Sprintf("docker (%s)", r.imageName)
	}
	return "docker"
}

// Setup pulls the job image if needed and starts a long-lived container
// with the workdir bind-mounted at /workspace.
func (r *DockerInvoker) Setup(ctx context.Context, job *types.Job, workdir string) error {
	r.imageName = imageFor(job)
	r.total = len(job.Steps)

	r.formatter.PrintJobHeader(job.Name, workdir, r.Name())

	if r.config.DryRun {
		return nil
	}

	if r.config.PullImages || !r.imageExists(ctx, r.imageName) {
		r.formatter.PrintInfo(fmt.Sprintf("pulling image %s", r.imageName))
		if err := r.pullImage(ctx, r.imageName); err != nil {
			return err
		}
	}

	containerName := fmt.Sprintf("pipevent-%s-%d",
		strings.ReplaceAll(strings.ToLower(job.Name), " ", "-"),
		time.Now().Unix())

	resp, err := r.client.ContainerCreate(ctx,
		&container.Config{
			Image:      r.imageName,
			Cmd:        []string{"/bin/sh", "-c", "while true; do sleep 3600; done"},
			WorkingDir: "/workspace",
			Env:        r.jobEnvironment(job),
			Labels:     map[string]string{ContainerLabel: "true"},
			Tty:        false,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: workdir,
				Target: "/workspace",
			}},
			AutoRemove: false,
			Resources: container.Resources{
				Memory:     2 * 1024 * 1024 * 1024,
				MemorySwap: 2 * 1024 * 1024 * 1024,
				CPUShares:  1024,
			},
		},
		nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	r.mu.Lock()
	r.containerID = resp.ID
	r.mu.Unlock()

	r.formatter.PrintDebug(fmt.Sprintf("container started: %s", resp.ID[:12]))
	return nil
}

// InvokeStep runs one step as an exec inside the job container.
func (r *DockerInvoker) InvokeStep(ctx context.Context, job *types.Job, step *types.Step, workdir string) error {
	r.mu.Lock()
	r.steps++
	current := r.steps
	containerID := r.containerID
	r.mu.Unlock()

	r.formatter.PrintStepHeader(step.Label(), current, r.total)

	if step.Uses != "" {
		// Remote actions have no container equivalent here.
		r.formatter.PrintWarning(fmt.Sprintf("skipping action %s (not supported in Docker runner)", step.Uses))
		return nil
	}
	if step.Run == "" {
		return nil
	}

	if r.config.DryRun {
		r.formatter.PrintCommand(step.Run, 2)
		return nil
	}

	script := step.Run
	if step.WorkingDir != "" {
		script = fmt.Sprintf("cd %s && %s", step.WorkingDir, script)
	}

	var env []string
	for k, v := range step.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	execResp, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-ec", script},
		Env:          env,
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	if _, err := stdcopy.StdCopy(os.Stdout, os.Stderr, attach.Reader); err != nil && err != io.EOF {
		if ctx.Err() != nil {
			return fmt.Errorf("step killed by cancellation: %w", ctx.Err())
		}
		return fmt.Errorf("error streaming step output: %w", err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return fmt.Errorf("failed to inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("step exited with status %d", inspect.ExitCode)
	}
	return nil
}

// Cleanup stops and removes the job container.
func (r *DockerInvoker) Cleanup() error {
	r.mu.Lock()
	containerID := r.containerID
	r.containerID = ""
	r.mu.Unlock()

	if containerID == "" {
		return nil
	}

	ctx := context.Background()
	_ = r.client.ContainerStop(ctx, containerID, container.StopOptions{})
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID[:12], err)
	}
	r.formatter.PrintDebug(fmt.Sprintf("removed container %s", containerID[:12]))
	return nil
}

func (r *DockerInvoker) imageExists(ctx context.Context, imageName string) bool {
	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return true
			}
		}
	}
	return false
}

func (r *DockerInvoker) pullImage(ctx context.Context, imageName string) error {
	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (r *DockerInvoker) jobEnvironment(job *types.Job) []string {
	env := []string{
		"CI=true",
		"PIPEVENT=true",
		fmt.Sprintf("JOB_NAME=%s", job.Name),
	}
	for k, v := range job.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range r.config.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// imageFor maps a runs-on platform descriptor to a Docker image.
func imageFor(job *types.Job) string {
	runsOn := strings.ToLower(job.RunsOn)

	known := map[string]string{
		"ubuntu-24.04":  "ubuntu:24.04",
		"ubuntu-22.04":  "ubuntu:22.04",
		"ubuntu-20.04":  "ubuntu:20.04",
		"ubuntu-latest": "ubuntu:latest",
		"debian-12":     "debian:12",
		"alpine-3.19":   "alpine:3.19",
		"node-22":       "node:22",
		"python-3.12":   "python:3.12-slim",
		"golang-1.23":   "golang:1.23-alpine",
	}
	if img, ok := known[runsOn]; ok {
		return img
	}

	switch {
	case strings.Contains(runsOn, "ubuntu"):
		return "ubuntu:22.04"
	case strings.Contains(runsOn, "debian"):
		return "debian:latest"
	case strings.Contains(runsOn, "alpine"):
		return "alpine:latest"
	case strings.Contains(runsOn, "node"):
		return "node:lts-slim"
	case strings.Contains(runsOn, "python"):
		return "python:3-slim"
	case strings.Contains(runsOn, "golang"), strings.Contains(runsOn, "go"):
		return "golang:alpine"
	default:
		return "ubuntu:22.04"
	}
}
