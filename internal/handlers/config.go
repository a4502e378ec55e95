package handlers

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"
	yaml "gopkg.in/yaml.v3"

	"github.com/zenibako/pipevent/internal/config"
)

// CmdConfigShow handles the config show command.
func CmdConfigShow(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		path = config.FindConfigFile()
	}

	if path == "" {
		fmt.Println("No configuration file found")
		fmt.Println("\nTo create one, run:")
		fmt.Println("  pipevent config init")
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fmt.Printf("Configuration from: %s\n", path)
	fmt.Println(strings.Repeat("=", 60))

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// CmdConfigInit handles the config init command.
func CmdConfigInit(c *cli.Context) error {
	path := c.String("output")
	if path == "" {
		path = ".pipevent.yml"
	}

	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("configuration file %s already exists. Use --force to overwrite", path)
	}

	cfg := config.File{
		Defaults: config.Engine{
			Runner:      "shell",
			MaxParallel: 4,
		},
		Environment: map[string]string{
			"CI": "true",
		},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	content := "# pipevent configuration file\n\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("✓ Created configuration file: %s\n", path)
	return nil
}
