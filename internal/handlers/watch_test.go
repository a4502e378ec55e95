package handlers

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

const watchWorkflow = `name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: compile
        run: make build
`

// The stream carries a matching event, a malformed line, an unmatched
// event and a second matching event for the same trigger key. Dry-run
// steps cannot fail, so the command must consume the whole stream and
// report success whichever run got superseded.
func TestCmdWatchConsumesStream(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIPEVENT_CONFIG_DIR", dir)

	workflow := filepath.Join(dir, "ci.yml")
	if err := os.WriteFile(workflow, []byte(watchWorkflow), 0o644); err != nil {
		t.Fatal(err)
	}

	stream := `{"kind":"push","ref":"refs/heads/main"}
not json
{"kind":"push","ref":"refs/heads/develop"}
{"kind":"push","ref":"refs/heads/main"}
`
	events := filepath.Join(dir, "events.ndjson")
	if err := os.WriteFile(events, []byte(stream), 0o644); err != nil {
		t.Fatal(err)
	}

	c := testContext(t, func(set *flag.FlagSet) {
		set.String("file", workflow, "")
		set.String("events", events, "")
		set.Bool("dry-run", true, "")
		set.Bool("quiet", true, "")
		set.String("workdir", dir, "")
	})

	if err := CmdWatch(c); err != nil {
		t.Fatalf("CmdWatch returned %v, want nil", err)
	}
}

func TestCmdWatchMissingStreamFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIPEVENT_CONFIG_DIR", dir)

	workflow := filepath.Join(dir, "ci.yml")
	if err := os.WriteFile(workflow, []byte(watchWorkflow), 0o644); err != nil {
		t.Fatal(err)
	}

	c := testContext(t, func(set *flag.FlagSet) {
		set.String("file", workflow, "")
		set.String("events", filepath.Join(dir, "missing.ndjson"), "")
		set.Bool("quiet", true, "")
		set.String("workdir", dir, "")
	})

	if err := CmdWatch(c); err == nil {
		t.Error("missing event stream file must be an error")
	}
}
