package handlers

import (
	"fmt"

	"github.com/fatih/color"
	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/internal/trigger"
	"github.com/zenibako/pipevent/pkg/types"
)

// CmdValidate handles the validate command. It parses every discovered
// pipeline file and reports structural problems without running anything.
func CmdValidate(c *cli.Context) error {
	files, err := findWorkflowFiles(c)
	if err != nil {
		return err
	}

	strict := c.Bool("strict")
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()

	failures := 0
	for _, file := range files {
		parser := detectParser(file)
		def, err := parser.Parse(file)
		if err != nil {
			fmt.Printf("%s %s: %v\n", bad("✗"), file, err)
			failures++
			continue
		}

		problems := validateDefinition(def, strict)
		if len(problems) > 0 {
			fmt.Printf("%s %s\n", bad("✗"), file)
			for _, p := range problems {
				fmt.Printf("    %s\n", p)
			}
			failures++
			continue
		}

		fmt.Printf("%s %s (%s, %d jobs)\n", ok("✓"), file, def.Provider, len(def.Jobs))
	}

	if failures > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files invalid", failures, len(files)), ExitFailed)
	}
	return nil
}

// validateDefinition checks a parsed definition for problems that would
// make it unrunnable. Strict mode adds checks that are warnings in
// practice but worth failing on in CI.
func validateDefinition(def *types.Definition, strict bool) []string {
	var problems []string

	if def.Name == "" {
		problems = append(problems, "pipeline has no name")
	}
	if len(def.Jobs) == 0 {
		problems = append(problems, "pipeline defines no jobs")
	}

	for _, job := range def.Jobs {
		if job.Name == "" {
			problems = append(problems, "job has no name")
		}
		if len(job.Steps) == 0 {
			problems = append(problems, fmt.Sprintf("job %q has no steps", job.Name))
		}
		if strict && job.RunsOn == "" {
			problems = append(problems, fmt.Sprintf("job %q does not declare runs-on", job.Name))
		}
		for _, step := range job.Steps {
			if step.Run == "" && step.Uses == "" {
				problems = append(problems, fmt.Sprintf("job %q step %q has neither run nor uses", job.Name, step.Label()))
			}
		}
	}

	for i, rule := range def.Triggers {
		for _, kind := range rule.Events {
			if !knownEventKind(kind) {
				problems = append(problems, fmt.Sprintf("trigger %d: unknown event kind %q", i, kind))
			}
		}
		for _, pat := range append(append(rule.Branches, rule.Tags...), rule.PathsIgnore...) {
			if !trigger.ValidPattern(pat) {
				problems = append(problems, fmt.Sprintf("trigger %d: malformed pattern %q", i, pat))
			}
		}
	}

	return problems
}

func knownEventKind(kind types.EventKind) bool {
	for _, k := range types.KnownEventKinds {
		if kind == k {
			return true
		}
	}
	return false
}
