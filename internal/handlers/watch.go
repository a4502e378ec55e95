package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/internal/engine"
	"github.com/zenibako/pipevent/pkg/types"
)

// CmdWatch consumes a stream of repository events (one JSON object per
// line) and dispatches each through the controller. Runs are registered in
// stream order and executed concurrently, so a newer event for a trigger
// key supersedes and cancels the in-flight run for that key, exactly as a
// hosted CI would.
func CmdWatch(c *cli.Context) error {
	log := newLogger(c)

	defs, err := loadDefinitions(c)
	if err != nil {
		return err
	}

	ctrl, err := buildController(c, defs, log)
	if err != nil {
		return err
	}

	source, closer, err := eventSource(c)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	log.Info().Int("pipelines", len(defs)).Msg("watching for events")

	type outcome struct {
		ev   types.Event
		runs []*engine.Run
	}
	outcomes := make(chan outcome)

	var wg sync.WaitGroup
	lineNum := 0
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var scanErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		for scanner.Scan() {
			lineNum++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var ev types.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				log.Error().Err(err).Int("line", lineNum).Msg("skipping malformed event")
				continue
			}

			// Registration must follow stream order so the newer
			// event supersedes the older run, never the reverse.
			// Only execution is concurrent.
			runs := ctrl.Accept(ev)
			if len(runs) == 0 {
				outcomes <- outcome{ev: ev}
				continue
			}

			wg.Add(1)
			go func(ev types.Event, runs []*engine.Run) {
				defer wg.Done()
				for _, run := range runs {
					ctrl.Execute(c.Context, run)
				}
				outcomes <- outcome{ev: ev, runs: runs}
			}(ev, runs)
		}
		scanErr = scanner.Err()
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	succeeded, failed, cancelled, unmatched := 0, 0, 0, 0
	for out := range outcomes {
		if len(out.runs) == 0 {
			unmatched++
			continue
		}
		for _, run := range out.runs {
			switch run.Status() {
			case types.StatusSucceeded:
				succeeded++
			case types.StatusFailed:
				failed++
			case types.StatusCancelled:
				cancelled++
			}
			log.Info().
				Str("pipeline", run.Pipeline.Name).
				Str("key", run.Key).
				Str("status", string(run.Status())).
				Msg("run completed")
		}
	}

	if scanErr != nil {
		return fmt.Errorf("event stream error: %w", scanErr)
	}

	fmt.Printf("Events processed: %d succeeded, %d failed, %d cancelled, %d unmatched\n",
		succeeded, failed, cancelled, unmatched)

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d run(s) failed", failed), ExitFailed)
	}
	return nil
}

// eventSource opens the NDJSON event stream: a file via --events, or
// stdin.
func eventSource(c *cli.Context) (io.Reader, io.Closer, error) {
	if path := c.String("events"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open event stream: %w", err)
		}
		return f, f, nil
	}
	return os.Stdin, nil, nil
}
