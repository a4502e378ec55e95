// Package runners provides the step invocation backends: a shell invoker
// that executes commands on the host and a Docker invoker that provisions a
// container per job.
package runners

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/zenibako/pipevent/pkg/types"
)

var (
	okColor     = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed, color.Bold)
	cancelColor = color.New(color.FgYellow)
	dimColor    = color.New(color.Faint)
)

// OutputFormatter provides consistent output formatting for all runners.
type OutputFormatter struct {
	Verbose bool
	Quiet   bool
	Width   int
}

// NewOutputFormatter creates a new output formatter.
func NewOutputFormatter(verbose, quiet bool) *OutputFormatter {
	return &OutputFormatter{
		Verbose: verbose,
		Quiet:   quiet,
		Width:   80,
	}
}

// PrintJobHeader prints the job execution header.
func (f *OutputFormatter) PrintJobHeader(jobName, workdir, runner string) {
	if f.Quiet {
		return
	}
	fmt.Println()
	fmt.Println(f.Line('='))
	fmt.Printf(" Job: %s\n", jobName)
	fmt.Println(f.Line('-'))
	fmt.Printf(" Working Directory: %s\n", workdir)
	fmt.Printf(" Runner: %s\n", runner)
	fmt.Println(f.Line('='))
}

// PrintStepHeader prints a step header with progress.
func (f *OutputFormatter) PrintStepHeader(stepName string, current, total int) {
	if f.Quiet {
		return
	}
	fmt.Println()
	fmt.Printf("[%d/%d] %s\n", current, total, stepName)
	fmt.Println(f.Line('-'))
}

// PrintStepStatus prints the terminal state of a step.
func (f *OutputFormatter) PrintStepStatus(status types.Status, d time.Duration, err error) {
	if f.Quiet {
		return
	}
	switch status {
	case types.StatusSucceeded:
		okColor.Printf("Step completed in %s\n", f.FormatDuration(d))
	case types.StatusFailed:
		failColor.Printf("Step FAILED after %s: %v\n", f.FormatDuration(d), err)
	case types.StatusCancelled:
		cancelColor.Println("Step cancelled")
	}
}

// PrintRunSummary prints the aggregated result of a pipeline run.
func (f *OutputFormatter) PrintRunSummary(pipeline string, status types.Status, results []types.JobResult, d time.Duration) {
	if f.Quiet {
		return
	}
	fmt.Println()
	fmt.Println(f.Line('='))
	fmt.Printf(" Pipeline: %s\n", pipeline)
	fmt.Println(f.Line('-'))

	for _, job := range results {
		fmt.Printf(" %-30s %s\n", job.Name, f.colorStatus(job.Status))
		for _, step := range job.Steps {
			fmt.Printf("   %-28s %s  %s\n",
				f.TruncateText(step.Step.Label(), 28),
				f.colorStatus(step.Status),
				dimColor.Sprint(f.FormatDuration(step.Duration)))
		}
	}

	fmt.Println(f.Line('-'))
	fmt.Printf(" Status: %s  (%s)\n", f.colorStatus(status), f.FormatDuration(d))
	fmt.Println(f.Line('='))
}

func (f *OutputFormatter) colorStatus(status types.Status) string {
	switch status {
	case types.StatusSucceeded:
		return okColor.Sprint(status)
	case types.StatusFailed:
		return failColor.Sprint(status)
	case types.StatusCancelled:
		return cancelColor.Sprint(status)
	default:
		return string(status)
	}
}

// PrintOutput prints command output with indentation.
func (f *OutputFormatter) PrintOutput(line string, indent int) {
	if f.Quiet {
		return
	}
	fmt.Printf("%s%s\n", strings.Repeat(" ", indent), line)
}

// PrintInfo prints an informational message.
func (f *OutputFormatter) PrintInfo(message string) {
	if f.Quiet {
		return
	}
	fmt.Printf("INFO: %s\n", message)
}

// PrintWarning prints a warning message.
func (f *OutputFormatter) PrintWarning(message string) {
	if f.Quiet {
		return
	}
	cancelColor.Printf("WARNING: %s\n", message)
}

// PrintDebug prints a debug message if verbose mode is enabled.
func (f *OutputFormatter) PrintDebug(message string) {
	if f.Verbose && !f.Quiet {
		dimColor.Printf("DEBUG: %s\n", message)
	}
}

// PrintCommand prints a command that will be or was executed.
func (f *OutputFormatter) PrintCommand(cmd string, indent int) {
	if f.Quiet {
		return
	}
	prefix := strings.Repeat(" ", indent)
	for i, line := range strings.Split(cmd, "\n") {
		if i == 0 {
			fmt.Printf("%s$ %s\n", prefix, line)
		} else {
			fmt.Printf("%s  %s\n", prefix, line)
		}
	}
}

// PrintKeyValue prints a key-value pair.
func (f *OutputFormatter) PrintKeyValue(key, value string, indent int) {
	if f.Quiet {
		return
	}
	fmt.Printf("%s%s: %s\n", strings.Repeat(" ", indent), key, value)
}

// Line generates a separator line.
func (f *OutputFormatter) Line(char rune) string {
	return strings.Repeat(string(char), f.Width)
}

// FormatDuration formats a duration in a human-readable way.
func (f *OutputFormatter) FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateText truncates text to fit within the specified width.
func (f *OutputFormatter) TruncateText(text string, width int) string {
	if len(text) <= width {
		return text
	}
	if width <= 3 {
		return text[:width]
	}
	return text[:width-3] + "..."
}
