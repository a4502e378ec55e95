package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/internal/handlers"
)

// Version information (set by build flags)
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:                 "pipevent",
		Usage:                "Event-driven CI pipeline engine",
		Version:              formatVersion(),
		EnableBashCompletion: true,
		Flags:                globalFlags(),
		Commands:             commands(),
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{"PIPEVENT_DEBUG"},
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress output",
			EnvVars: []string{"PIPEVENT_QUIET"},
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file path",
			EnvVars: []string{"PIPEVENT_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "workdir",
			Aliases: []string{"w"},
			Usage:   "Working directory",
			EnvVars: []string{"PIPEVENT_WORKDIR"},
			Value:   ".",
		},
	}
}

// runFlags are shared by run and watch; both dispatch events through the
// same engine.
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Pipeline file path",
			EnvVars: []string{"PIPEVENT_FILE"},
		},
		&cli.BoolFlag{
			Name:    "docker",
			Aliases: []string{"d"},
			Usage:   "Run steps in Docker containers",
			EnvVars: []string{"PIPEVENT_DOCKER"},
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"n"},
			Usage:   "Show what would be executed without running",
		},
		&cli.IntFlag{
			Name:    "max-parallel",
			Usage:   "Maximum parallel jobs per run",
			EnvVars: []string{"PIPEVENT_MAX_PARALLEL"},
			Value:   runtime.NumCPU(),
		},
		&cli.BoolFlag{
			Name:    "cancel-on-failure",
			Usage:   "Cancel sibling jobs when one fails",
			EnvVars: []string{"PIPEVENT_CANCEL_ON_FAILURE"},
		},
		&cli.IntFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "Run timeout in minutes (0 = none)",
			EnvVars: []string{"PIPEVENT_TIMEOUT"},
		},
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Set environment variables (KEY=VALUE)",
		},
		&cli.StringFlag{
			Name:    "env-file",
			Usage:   "Environment file path",
			EnvVars: []string{"PIPEVENT_ENV_FILE"},
		},
		&cli.BoolFlag{
			Name:    "pull",
			Usage:   "Pull docker images before running",
			EnvVars: []string{"PIPEVENT_PULL"},
			Value:   true,
		},
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:    "run",
			Aliases: []string{"r"},
			Usage:   "Dispatch a single event against the pipelines",
			Action:  handlers.CmdRun,
			Flags: append(runFlags(),
				&cli.StringFlag{
					Name:  "event",
					Usage: "Event kind (push, pull_request)",
					Value: "push",
				},
				&cli.StringFlag{
					Name:  "ref",
					Usage: "Git ref the event is for (defaults to the current branch)",
				},
				&cli.StringSliceFlag{
					Name:  "changed",
					Usage: "Changed file paths (defaults to the last commit's diff)",
				},
			),
		},
		{
			Name:   "watch",
			Usage:  "Dispatch a stream of events read as JSON lines",
			Action: handlers.CmdWatch,
			Flags: append(runFlags(),
				&cli.StringFlag{
					Name:  "events",
					Usage: "Event stream file (defaults to stdin)",
				},
			),
		},
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "List pipelines, triggers and jobs",
			Action:  handlers.CmdList,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "file",
					Aliases: []string{"f"},
					Usage:   "Pipeline file path",
				},
				&cli.StringFlag{
					Name:  "format",
					Usage: "Output format (tree, json)",
					Value: "tree",
				},
			},
		},
		{
			Name:    "validate",
			Aliases: []string{"check"},
			Usage:   "Validate pipeline syntax",
			Action:  handlers.CmdValidate,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "file",
					Aliases: []string{"f"},
					Usage:   "Pipeline file path",
				},
				&cli.BoolFlag{
					Name:  "strict",
					Usage: "Enable strict validation",
				},
			},
		},
		{
			Name:   "init",
			Usage:  "Initialize a new pipeline",
			Action: handlers.CmdInit,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "provider",
					Aliases: []string{"p"},
					Usage:   "CI provider (github, gitlab)",
					Value:   "github",
				},
				&cli.StringFlag{
					Name:    "output",
					Aliases: []string{"o"},
					Usage:   "Output file path",
				},
				&cli.BoolFlag{
					Name:  "force",
					Usage: "Overwrite existing file",
				},
			},
		},
		{
			Name:   "clean",
			Usage:  "Clean up containers and cache",
			Action: handlers.CmdClean,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "all",
					Aliases: []string{"a"},
					Usage:   "Clean all resources",
				},
				&cli.BoolFlag{
					Name:  "cache",
					Usage: "Clean cache too",
				},
				&cli.BoolFlag{
					Name:    "force",
					Aliases: []string{"f"},
					Usage:   "Force container removal",
				},
			},
		},
		{
			Name:  "config",
			Usage: "Manage configuration",
			Subcommands: []*cli.Command{
				{
					Name:   "show",
					Usage:  "Show current configuration",
					Action: handlers.CmdConfigShow,
				},
				{
					Name:   "init",
					Usage:  "Initialize configuration file",
					Action: handlers.CmdConfigInit,
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:    "output",
							Aliases: []string{"o"},
							Usage:   "Output file path",
							Value:   ".pipevent.yml",
						},
						&cli.BoolFlag{
							Name:  "force",
							Usage: "Overwrite existing file",
						},
					},
				},
			},
		},
	}
}

func formatVersion() string {
	v := Version
	if Commit != "unknown" && len(Commit) > 7 {
		v += fmt.Sprintf(" (%s)", Commit[:7])
	}
	return v
}
