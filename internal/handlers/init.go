package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v2"
)

// CmdInit handles the init command. It writes a starter pipeline file
// for the chosen provider.
func CmdInit(c *cli.Context) error {
	provider := c.String("provider")
	output := c.String("output")
	force := c.Bool("force")

	if output == "" {
		switch provider {
		case "gitlab":
			output = ".gitlab-ci.yml"
		default:
			output = ".github/workflows/ci.yml"
		}
	}

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("file %s already exists. Use --force to overwrite", output)
	}

	dir := filepath.Dir(output)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	content := pipelineTemplate(provider)
	if err := os.WriteFile(output, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", output, err)
	}

	fmt.Printf("✓ Created %s pipeline: %s\n", provider, output)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Review and customize the pipeline\n")
	fmt.Printf("  2. Run it locally: pipevent run -f %s\n", output)
	return nil
}

func pipelineTemplate(provider string) string {
	if provider == "gitlab" {
		return `# Generated by pipevent init
stages:
  - build
  - test

build:
  stage: build
  image: golang:1.24
  script:
    - go build ./...

test:
  stage: test
  image: golang:1.24
  script:
    - go test ./...
  only:
    - main
    - merge_requests
`
	}

	return `# Generated by pipevent init
name: ci

on:
  push:
    branches: [main]
    tags: ["v*"]
    paths-ignore:
      - "README.md"
      - "docs/**"
  pull_request:
    branches: [main]

concurrency:
  group: ci

jobs:
  build:
    runs-on: ubuntu-latest
    steps:
      - name: Build
        run: go build ./...

  test:
    runs-on: ubuntu-latest
    steps:
      - name: Test
        run: go test ./...
`
}
