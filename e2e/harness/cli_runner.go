package harness

import (
	"bytes"
	"context"
	"time"

	"github.com/artpar/cookielens/internal/cli"
)

// CLIResult holds CLI execution results.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// CLIRunner executes CLI commands against the harness data directory.
type CLIRunner struct {
	harness *E2EHarness
}

// Run executes a CLI command with the given arguments.
func (r *CLIRunner) Run(args ...string) (*CLIResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.harness.timeout)
	defer cancel()

	start := time.Now()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cmd := cli.NewRootCommand("test")
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--data-dir", r.harness.DataDir(), "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(ctx)

	result := &CLIResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		result.ExitCode = 1
	}

	return result, err
}

// Analyze replays capture files into the persistent tab store.
func (r *CLIRunner) Analyze(paths ...string) (*CLIResult, error) {
	return r.Run(append([]string{"analyze"}, paths...)...)
}

// AnalyzeJSON replays capture files and prints the report as JSON.
func (r *CLIRunner) AnalyzeJSON(paths ...string) (*CLIResult, error) {
	return r.Run(append([]string{"analyze", "-o", "json"}, paths...)...)
}

// Crawl visits urls in a headless browser and prints the report as JSON.
func (r *CLIRunner) Crawl(urls ...string) (*CLIResult, error) {
	return r.Run(append([]string{"crawl", "--headless", "-o", "json"}, urls...)...)
}
