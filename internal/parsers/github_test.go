package parsers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zenibako/pipevent/pkg/types"
)

const ciWorkflow = `name: CI
on:
  push:
    branches: [main]
    paths-ignore:
      - 'README.md'
      - 'docs/**'
  pull_request:
    branches: [main]
concurrency: ci-main
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - name: Install toolchain
        uses: actions/setup-go@v5
        with:
          go-version: 1.22
      - name: Build
        run: make build
  test:
    runs-on: ubuntu-latest
    env:
      CGO_ENABLED: "0"
    steps:
      - name: Unit tests
        run: make test
        working-directory: ./src
`

const releaseWorkflow = `name: Release
on:
  push:
    tags:
      - 'v*'
jobs:
  publish:
    runs-on: ubuntu-latest
    steps:
      - run: make release
`

func writeWorkflow(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGithubParseTriggers(t *testing.T) {
	p := &GithubParser{}
	def, err := p.Parse(writeWorkflow(t, "ci.yml", ciWorkflow))
	if err != nil {
		t.Fatal(err)
	}

	if def.Name != "CI" || def.Provider != "github" {
		t.Errorf("name/provider = %s/%s, want CI/github", def.Name, def.Provider)
	}
	if def.ConcurrencyGroup != "ci-main" {
		t.Errorf("concurrency group = %q, want ci-main", def.ConcurrencyGroup)
	}
	if len(def.Triggers) != 2 {
		t.Fatalf("got %d trigger rules, want 2", len(def.Triggers))
	}

	push := def.Triggers[0]
	if len(push.Events) != 1 || push.Events[0] != types.EventPush {
		t.Errorf("first rule events = %v, want [push]", push.Events)
	}
	if len(push.Branches) != 1 || push.Branches[0] != "main" {
		t.Errorf("push branches = %v, want [main]", push.Branches)
	}
	if len(push.PathsIgnore) != 2 {
		t.Errorf("push paths-ignore = %v, want 2 patterns", push.PathsIgnore)
	}

	pr := def.Triggers[1]
	if len(pr.Events) != 1 || pr.Events[0] != types.EventPullRequest {
		t.Errorf("second rule events = %v, want [pull_request]", pr.Events)
	}
}

func TestGithubParseJobsPreserveOrder(t *testing.T) {
	p := &GithubParser{}
	def, err := p.Parse(writeWorkflow(t, "ci.yml", ciWorkflow))
	if err != nil {
		t.Fatal(err)
	}

	if len(def.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(def.Jobs))
	}
	if def.Jobs[0].Name != "build" || def.Jobs[1].Name != "test" {
		t.Fatalf("job order = [%s %s], want [build test]", def.Jobs[0].Name, def.Jobs[1].Name)
	}

	build := def.Jobs[0]
	if len(build.Steps) != 3 {
		t.Fatalf("build has %d steps, want 3", len(build.Steps))
	}
	if build.Steps[0].Uses != "actions/checkout@v4" {
		t.Errorf("step 0 uses = %q", build.Steps[0].Uses)
	}
	if got := build.Steps[1].With["go-version"]; got != "1.22" {
		t.Errorf("with[go-version] = %q, want 1.22 (stringified)", got)
	}
	if build.Steps[2].Run != "make build" {
		t.Errorf("step 2 run = %q", build.Steps[2].Run)
	}

	test := def.Jobs[1]
	if test.Env["CGO_ENABLED"] != "0" {
		t.Errorf("test env = %v", test.Env)
	}
	if test.Steps[0].WorkingDir != "./src" {
		t.Errorf("working-directory = %q", test.Steps[0].WorkingDir)
	}
}

func TestGithubParseTagTrigger(t *testing.T) {
	p := &GithubParser{}
	def, err := p.Parse(writeWorkflow(t, "release.yml", releaseWorkflow))
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Triggers) != 1 {
		t.Fatalf("got %d trigger rules, want 1", len(def.Triggers))
	}
	rule := def.Triggers[0]
	if len(rule.Tags) != 1 || rule.Tags[0] != "v*" {
		t.Errorf("tags = %v, want [v*]", rule.Tags)
	}
	if len(rule.Branches) != 0 {
		t.Errorf("branches = %v, want none", rule.Branches)
	}
}

func TestGithubParseScalarAndListOn(t *testing.T) {
	p := &GithubParser{}

	def, err := p.Parse(writeWorkflow(t, "a.yml", "on: push\njobs:\n  j:\n    runs-on: ubuntu-latest\n    steps:\n      - run: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Triggers) != 1 || def.Triggers[0].Events[0] != types.EventPush {
		t.Errorf("scalar on: parsed as %+v", def.Triggers)
	}
	if def.Name != "a" {
		t.Errorf("unnamed workflow should fall back to file name, got %q", def.Name)
	}

	def, err = p.Parse(writeWorkflow(t, "b.yml", "on: [push, pull_request]\njobs:\n  j:\n    runs-on: ubuntu-latest\n    steps:\n      - run: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Triggers) != 2 {
		t.Errorf("list on: parsed as %+v", def.Triggers)
	}
}

func TestGitlabParseStagesAndTriggers(t *testing.T) {
	content := `stages:
  - build
  - test
unit:
  stage: test
  image: golang:1.23-alpine
  script:
    - go vet ./...
    - go test ./...
  only:
    - main
compile:
  stage: build
  script: go build ./...
`
	p := &GitlabParser{}
	def, err := p.Parse(writeWorkflow(t, ".gitlab-ci.yml", content))
	if err != nil {
		t.Fatal(err)
	}

	if len(def.Jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(def.Jobs))
	}
	if def.Jobs[0].Name != "compile" || def.Jobs[1].Name != "unit" {
		t.Errorf("stage ordering broken: [%s %s], want [compile unit]", def.Jobs[0].Name, def.Jobs[1].Name)
	}
	if len(def.Jobs[1].Steps) != 2 {
		t.Errorf("unit has %d steps, want 2", len(def.Jobs[1].Steps))
	}
	if def.Jobs[1].RunsOn != "golang:1.23-alpine" {
		t.Errorf("unit image = %q", def.Jobs[1].RunsOn)
	}

	found := false
	for _, rule := range def.Triggers {
		for _, b := range rule.Branches {
			if b == "main" {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("only: [main] not mapped to a branch trigger, got %+v", def.Triggers)
	}
}
