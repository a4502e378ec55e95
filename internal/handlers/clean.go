package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/internal/config"
	"github.com/zenibako/pipevent/internal/runners"
)

// CmdClean handles the clean command. It removes containers left behind
// by interrupted docker runs and, optionally, the local cache.
func CmdClean(c *cli.Context) error {
	cache := c.Bool("cache") || c.Bool("all")
	force := c.Bool("force")

	fmt.Println("Cleaning up resources...")

	if err := cleanContainers(c.Context, force); err != nil {
		fmt.Printf("  Warning: container cleanup failed: %v\n", err)
	}

	if cache {
		dir := config.CacheDir()
		fmt.Printf("  Removing cache %s...\n", dir)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clean cache: %w", err)
		}
	}

	fmt.Println("✓ Cleanup completed")
	return nil
}

// cleanContainers removes every container carrying the pipevent label.
func cleanContainers(ctx context.Context, force bool) error {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer docker.Close()

	args := filters.NewArgs()
	args.Add("label", runners.ContainerLabel+"=true")

	containers, err := docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		fmt.Println("  No containers to clean")
		return nil
	}

	for _, ctr := range containers {
		fmt.Printf("  Removing container %s...\n", ctr.ID[:12])
		if err := docker.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{
			Force: force || ctr.State == "running",
		}); err != nil {
			fmt.Printf("  Warning: failed to remove %s: %v\n", ctr.ID[:12], err)
		}
	}
	return nil
}
