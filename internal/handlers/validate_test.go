package handlers

import (
	"strings"
	"testing"

	"github.com/zenibako/pipevent/pkg/types"
)

func TestValidateDefinition(t *testing.T) {
	valid := func() *types.Definition {
		return &types.Definition{
			Name: "ci",
			Triggers: []types.TriggerRule{{
				Events:   []types.EventKind{types.EventPush},
				Branches: []string{"main"},
			}},
			Jobs: []types.Job{{
				Name:   "build",
				RunsOn: "ubuntu-latest",
				Steps:  []types.Step{{Name: "compile", Run: "make"}},
			}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(def *types.Definition)
		strict  bool
		problem string // substring of an expected problem, "" for valid
	}{
		{"valid", func(*types.Definition) {}, false, ""},
		{"valid strict", func(*types.Definition) {}, true, ""},
		{"missing name", func(d *types.Definition) { d.Name = "" }, false, "no name"},
		{"no jobs", func(d *types.Definition) { d.Jobs = nil }, false, "no jobs"},
		{"job without steps", func(d *types.Definition) { d.Jobs[0].Steps = nil }, false, "no steps"},
		{"step without run or uses", func(d *types.Definition) { d.Jobs[0].Steps[0].Run = "" }, false, "neither run nor uses"},
		{"unknown event kind", func(d *types.Definition) {
			d.Triggers[0].Events = []types.EventKind{"deployment"}
		}, false, "unknown event kind"},
		{"malformed branch pattern", func(d *types.Definition) {
			d.Triggers[0].Branches = []string{"v["}
		}, false, "malformed pattern"},
		{"malformed paths-ignore pattern", func(d *types.Definition) {
			d.Triggers[0].PathsIgnore = []string{"docs/["}
		}, false, "malformed pattern"},
		{"strict requires runs-on", func(d *types.Definition) { d.Jobs[0].RunsOn = "" }, true, "runs-on"},
		{"lax allows missing runs-on", func(d *types.Definition) { d.Jobs[0].RunsOn = "" }, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(def)
			problems := validateDefinition(def, tt.strict)

			if tt.problem == "" {
				if len(problems) != 0 {
					t.Fatalf("unexpected problems: %v", problems)
				}
				return
			}
			for _, p := range problems {
				if strings.Contains(p, tt.problem) {
					return
				}
			}
			t.Errorf("problems = %v, want one containing %q", problems, tt.problem)
		})
	}
}
