package parsers

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/zenibako/pipevent/pkg/types"
)

// GitlabParser parses .gitlab-ci.yml files into the neutral model. Each
// top-level job becomes a single-job pipeline job; `only`/`except` ref
// filters map onto trigger rules.
type GitlabParser struct{}

// reserved top-level keys that are not jobs.
var gitlabReserved = map[string]bool{
	"stages":        true,
	"variables":     true,
	"image":         true,
	"services":      true,
	"cache":         true,
	"include":       true,
	"default":       true,
	"workflow":      true,
	"before_script": true,
	"after_script":  true,
}

type glJob struct {
	Stage     string            `yaml:"stage"`
	Image     string            `yaml:"image"`
	Script    multiline         `yaml:"script"`
	Variables map[string]string `yaml:"variables"`
	Only      refFilter         `yaml:"only"`
	Except    refFilter         `yaml:"except"`
}

// multiline accepts both a single string and a list of lines.
type multiline []string

func (m *multiline) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*m = []string{node.Value}
		return nil
	}
	var lines []string
	if err := node.Decode(&lines); err != nil {
		return err
	}
	*m = lines
	return nil
}

// refFilter accepts the list form of only/except ("branches", "tags" or
// ref names/patterns). The rules: form is not supported.
type refFilter []string

func (r *refFilter) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("only the list form of only/except is supported")
	}
	var refs []string
	if err := node.Decode(&refs); err != nil {
		return err
	}
	*r = refs
	return nil
}

// Parse reads a GitLab CI file. Stage order drives job order: jobs of
// earlier stages come first, preserving file order within a stage.
func (p *GitlabParser) Parse(path string) (*types.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected a top-level mapping", path)
	}
	doc := root.Content[0]

	def := &types.Definition{
		Name:     strings.TrimSuffix(pathBase(path), ".yml"),
		Source:   path,
		Provider: "gitlab",
	}

	var stages []string
	type namedJob struct {
		name string
		job  glJob
	}
	var jobs []namedJob

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		value := doc.Content[i+1]

		if key == "stages" {
			if err := value.Decode(&stages); err != nil {
				return nil, fmt.Errorf("%s: invalid stages: %w", path, err)
			}
			continue
		}
		if gitlabReserved[key] || strings.HasPrefix(key, ".") {
			continue
		}

		var gj glJob
		if err := value.Decode(&gj); err != nil {
			return nil, fmt.Errorf("%s: invalid job %s: %w", path, key, err)
		}
		jobs = append(jobs, namedJob{name: key, job: gj})
	}

	// Stable sort by stage order; jobs without a stage keep file order at
	// the end of their implicit "test" stage position.
	stageIndex := func(stage string) int {
		for i, s := range stages {
			if s == stage {
				return i
			}
		}
		return len(stages)
	}
	ordered := make([]namedJob, 0, len(jobs))
	for rank := 0; rank <= len(stages); rank++ {
		for _, nj := range jobs {
			if stageIndex(nj.job.Stage) == rank {
				ordered = append(ordered, nj)
			}
		}
	}

	for _, nj := range ordered {
		job := types.Job{
			Name:   nj.name,
			RunsOn: nj.job.Image,
			Env:    nj.job.Variables,
		}
		for _, line := range nj.job.Script {
			job.Steps = append(job.Steps, types.Step{Run: line})
		}
		def.Jobs = append(def.Jobs, job)

		def.Triggers = mergeTriggers(def.Triggers, triggerFromOnly(nj.job.Only))
	}

	if len(def.Triggers) == 0 {
		// GitLab's default: every push runs the pipeline.
		def.Triggers = []types.TriggerRule{{
			Events: []types.EventKind{types.EventPush},
		}}
	}

	return def, nil
}

// triggerFromOnly maps only: entries to a trigger rule. "branches" and
// "tags" select the whole ref class; anything else is a ref pattern.
func triggerFromOnly(only refFilter) *types.TriggerRule {
	if len(only) == 0 {
		return nil
	}
	rule := types.TriggerRule{Events: []types.EventKind{types.EventPush}}
	for _, ref := range only {
		switch ref {
		case "branches":
			rule.Branches = append(rule.Branches, "**")
		case "tags":
			rule.Tags = append(rule.Tags, "**")
		case "merge_requests":
			rule.Events = append(rule.Events, types.EventPullRequest)
		default:
			rule.Branches = append(rule.Branches, ref)
		}
	}
	return &rule
}

func mergeTriggers(rules []types.TriggerRule, rule *types.TriggerRule) []types.TriggerRule {
	if rule == nil {
		return rules
	}
	for _, existing := range rules {
		if fmt.Sprint(existing) == fmt.Sprint(*rule) {
			return rules
		}
	}
	return append(rules, *rule)
}
