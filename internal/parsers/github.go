// Package parsers loads declarative pipeline files into the neutral
// Definition model. Parsing happens once at load time; definitions are
// never mutated afterwards.
package parsers

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/zenibako/pipevent/pkg/types"
)

// GithubParser parses GitHub-Actions-style workflow files.
type GithubParser struct{}

type ghJob struct {
	Name   string            `yaml:"name"`
	RunsOn string            `yaml:"runs-on"`
	Env    map[string]string `yaml:"env"`
	Steps  []ghStep          `yaml:"steps"`
}

type ghStep struct {
	Name       string            `yaml:"name"`
	Run        string            `yaml:"run"`
	Uses       string            `yaml:"uses"`
	With       map[string]any    `yaml:"with"`
	Env        map[string]string `yaml:"env"`
	Shell      string            `yaml:"shell"`
	WorkingDir string            `yaml:"working-directory"`
}

type ghFilter struct {
	Branches    []string `yaml:"branches"`
	Tags        []string `yaml:"tags"`
	PathsIgnore []string `yaml:"paths-ignore"`
}

// Parse reads a workflow file and returns its Definition. Job declaration
// order is preserved, which is why jobs are walked as a yaml.Node rather
// than decoded into a Go map.
func (p *GithubParser) Parse(path string) (*types.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Name        string    `yaml:"name"`
		On          yaml.Node `yaml:"on"`
		Concurrency yaml.Node `yaml:"concurrency"`
		Jobs        yaml.Node `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}

	def := &types.Definition{
		Name:     doc.Name,
		Source:   path,
		Provider: "github",
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(strings.TrimSuffix(pathBase(path), ".yml"), ".yaml")
	}

	def.Triggers, err = parseTriggers(&doc.On)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	def.ConcurrencyGroup, err = parseConcurrency(&doc.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	def.Jobs, err = parseJobs(&doc.Jobs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

// parseTriggers handles the three `on:` forms: a single event name, a list
// of event names, and a mapping of event name to branch/tag/path filters.
func parseTriggers(node *yaml.Node) ([]types.TriggerRule, error) {
	if node.IsZero() {
		return nil, nil
	}

	switch node.Kind {
	case yaml.ScalarNode:
		return []types.TriggerRule{{Events: []types.EventKind{types.EventKind(node.Value)}}}, nil

	case yaml.SequenceNode:
		var kinds []string
		if err := node.Decode(&kinds); err != nil {
			return nil, fmt.Errorf("invalid trigger list: %w", err)
		}
		var rules []types.TriggerRule
		for _, kind := range kinds {
			rules = append(rules, types.TriggerRule{Events: []types.EventKind{types.EventKind(kind)}})
		}
		return rules, nil

	case yaml.MappingNode:
		var rules []types.TriggerRule
		for i := 0; i+1 < len(node.Content); i += 2 {
			kind := node.Content[i].Value
			rule := types.TriggerRule{Events: []types.EventKind{types.EventKind(kind)}}

			filterNode := node.Content[i+1]
			if filterNode.Kind == yaml.MappingNode {
				var filter ghFilter
				if err := filterNode.Decode(&filter); err != nil {
					return nil, fmt.Errorf("invalid %s trigger filters: %w", kind, err)
				}
				rule.Branches = filter.Branches
				rule.Tags = filter.Tags
				rule.PathsIgnore = filter.PathsIgnore
			}
			rules = append(rules, rule)
		}
		return rules, nil
	}

	return nil, fmt.Errorf("unsupported `on:` form")
}

// parseConcurrency accepts either a bare group name or a mapping with a
// group key. cancel-in-progress is implied: pipevent always cancels a
// superseded run for the same key.
func parseConcurrency(node *yaml.Node) (string, error) {
	if node.IsZero() {
		return "", nil
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.MappingNode:
		var c struct {
			Group string `yaml:"group"`
		}
		if err := node.Decode(&c); err != nil {
			return "", fmt.Errorf("invalid concurrency block: %w", err)
		}
		return c.Group, nil
	}
	return "", fmt.Errorf("unsupported concurrency form")
}

func parseJobs(node *yaml.Node) ([]types.Job, error) {
	if node.IsZero() {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("jobs must be a mapping")
	}

	var jobs []types.Job
	for i := 0; i+1 < len(node.Content); i += 2 {
		jobID := node.Content[i].Value

		var gj ghJob
		if err := node.Content[i+1].Decode(&gj); err != nil {
			return nil, fmt.Errorf("invalid job %s: %w", jobID, err)
		}

		job := types.Job{
			Name:   gj.Name,
			RunsOn: gj.RunsOn,
			Env:    gj.Env,
		}
		if job.Name == "" {
			job.Name = jobID
		}

		for _, gs := range gj.Steps {
			job.Steps = append(job.Steps, types.Step{
				Name:       gs.Name,
				Run:        gs.Run,
				Uses:       gs.Uses,
				With:       stringifyWith(gs.With),
				Env:        gs.Env,
				Shell:      gs.Shell,
				WorkingDir: gs.WorkingDir,
			})
		}

		jobs = append(jobs, job)
	}
	return jobs, nil
}

// stringifyWith flattens action parameters to strings; GitHub allows bare
// ints and bools in `with:` blocks.
func stringifyWith(with map[string]any) map[string]string {
	if len(with) == 0 {
		return nil
	}
	out := make(map[string]string, len(with))
	for k, v := range with {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func pathBase(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
