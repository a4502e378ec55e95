package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/zenibako/pipevent/pkg/types"
)

// Tree drawing characters.
const (
	treeBranch = "├──"
	treePipe   = "│  "
	treeEnd    = "└──"
	treeSpace  = "   "
)

// CmdList handles the list command.
func CmdList(c *cli.Context) error {
	defs, err := loadDefinitions(c)
	if err != nil {
		return err
	}

	if c.String("format") == "json" {
		return listJSON(defs)
	}

	for _, def := range defs {
		fmt.Printf("\nPipeline: %s\n", def.Name)
		fmt.Printf("Source: %s (%s)\n", def.Source, def.Provider)
		if def.ConcurrencyGroup != "" {
			fmt.Printf("Concurrency group: %s\n", def.ConcurrencyGroup)
		}

		if len(def.Triggers) > 0 {
			fmt.Printf("\nTriggers:\n")
			for i, rule := range def.Triggers {
				connector := treeBranch
				if i == len(def.Triggers)-1 {
					connector = treeEnd
				}
				fmt.Printf("%s %s\n", connector, describeRule(rule))
			}
		}

		fmt.Printf("\nJobs:\n")
		for i, job := range def.Jobs {
			last := i == len(def.Jobs)-1
			connector, indent := treeBranch, treePipe
			if last {
				connector, indent = treeEnd, treeSpace
			}
			fmt.Printf("%s %s (%s, %d steps)\n", connector, job.Name, job.RunsOn, len(job.Steps))

			for j, step := range job.Steps {
				stepConnector := treeBranch
				if j == len(job.Steps)-1 {
					stepConnector = treeEnd
				}
				fmt.Printf("%s %s %s\n", indent, stepConnector, step.Label())
			}
		}
	}
	fmt.Println()
	return nil
}

func listJSON(defs []*types.Definition) error {
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// describeRule renders a trigger rule in one line.
func describeRule(rule types.TriggerRule) string {
	var kinds []string
	for _, kind := range rule.Events {
		kinds = append(kinds, string(kind))
	}
	desc := strings.Join(kinds, ", ")

	if len(rule.Branches) > 0 {
		desc += fmt.Sprintf(" branches=%s", strings.Join(rule.Branches, ","))
	}
	if len(rule.Tags) > 0 {
		desc += fmt.Sprintf(" tags=%s", strings.Join(rule.Tags, ","))
	}
	if len(rule.PathsIgnore) > 0 {
		desc += fmt.Sprintf(" paths-ignore=%s", strings.Join(rule.PathsIgnore, ","))
	}
	return desc
}
