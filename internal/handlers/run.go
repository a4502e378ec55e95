package handlers

import (
	"fmt"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/internal/runners"
	"github.com/zenibako/pipevent/pkg/types"
)

// CmdRun handles the run command: it builds one repository event, matches
// it against the loaded pipelines and executes every matching run.
func CmdRun(c *cli.Context) error {
	log := newLogger(c)

	defs, err := loadDefinitions(c)
	if err != nil {
		return err
	}

	ctrl, err := buildController(c, defs, log)
	if err != nil {
		return err
	}

	ev, err := eventFromContext(c, ctrl.Workdir)
	if err != nil {
		return err
	}

	log.Info().
		Str("event", string(ev.Kind)).
		Str("ref", ev.Ref).
		Int("pipelines", len(defs)).
		Msg("dispatching event")

	start := time.Now()
	runs, err := ctrl.Handle(c.Context, ev)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		// Not an error: the event simply matched no pipeline.
		fmt.Printf("No pipeline matched %s on %s\n", ev.Kind, ev.Ref)
		return nil
	}

	formatter := runners.NewOutputFormatter(c.Bool("debug"), c.Bool("quiet"))
	worst := types.StatusSucceeded
	for _, run := range runs {
		status := run.Status()
		formatter.PrintRunSummary(run.Pipeline.Name, status, run.JobResults(), time.Since(start))
		if rank(status) > rank(worst) {
			worst = status
		}
	}

	if code := exitCodeFor(worst); code != ExitSucceeded {
		return cli.Exit(fmt.Sprintf("pipeline %s", worst), code)
	}
	return nil
}

// rank orders terminal statuses by severity for the exit code: failure
// outranks cancellation outranks success.
func rank(status types.Status) int {
	switch status {
	case types.StatusFailed:
		return 2
	case types.StatusCancelled:
		return 1
	default:
		return 0
	}
}
