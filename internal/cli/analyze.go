package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/artpar/cookielens/internal/importer"
	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/runner"
)

// AnalyzeOptions holds options for the analyze command.
type AnalyzeOptions struct {
	Output    string
	Input     string
	Copy      bool
	Save      bool
	Ephemeral bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(global *GlobalOptions) *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Collate cookies from HAR files or DevTools event logs",
		Long: `Replay saved captures through the cookie pipeline and print a report.

Supported inputs are HAR 1.2 archives and JSONL DevTools event logs (as
written by "cookielens watch --record"). The format is detected from the
file unless --input is set. When more than one file is given, tab ids are
prefixed with the file name.

Examples:
  # Report on a HAR export
  cookielens analyze session.har

  # Compare two captures without touching the tab store
  cookielens analyze --ephemeral before.jsonl after.jsonl

  # Save the report and copy it as JSON
  cookielens analyze -o json --save --copy session.har`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, global, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "Output format: table, json, yaml")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "auto", "Input format: auto, har, cdp")
	cmd.Flags().BoolVar(&opts.Copy, "copy", false, "Copy the report to the clipboard")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Save the report to the report archive")
	cmd.Flags().BoolVar(&opts.Ephemeral, "ephemeral", false, "Use an in-memory tab store instead of the data directory")

	return cmd
}

func runAnalyze(cmd *cobra.Command, global *GlobalOptions, paths []string, opts *AnalyzeOptions) error {
	format, err := report.ParseFormat(opts.Output)
	if err != nil {
		return err
	}
	inputFormat, err := parseInputFormat(opts.Input)
	if err != nil {
		return err
	}

	e, err := global.load()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runnerOpts := []runner.Option{
		runner.WithFormat(inputFormat),
		runner.WithQuota(e.cfg.QuotaBytes),
		runner.WithLogger(e.logger),
	}

	store, err := e.openStore(opts.Ephemeral, nil)
	if err != nil {
		return err
	}
	defer store.Close()
	runnerOpts = append(runnerOpts, runner.WithStore(store))

	errOut := cmd.ErrOrStderr()
	runnerOpts = append(runnerOpts, runner.WithProgressCallback(func(current, total int, result *runner.RunResult) {
		if global.Verbose {
			status := "✓"
			if result.Error != nil {
				status = "✗"
			}
			fmt.Fprintf(errOut, "%s %s (%s, %d events, %s)\n",
				status, result.Path, result.Format, result.Events, formatDuration(result.Duration))
			for _, w := range result.Warnings {
				fmt.Fprintf(errOut, "    warning: %s\n", w)
			}
		} else if total > 1 {
			fmt.Fprintf(errOut, "\rAnalyzing: %d/%d", current, total)
			if current == total {
				fmt.Fprintln(errOut)
			}
		}
	}))

	summary, err := runner.NewRunner(paths, runnerOpts...).Run(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, summary.Report, format); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := io.Copy(out, &buf); err != nil {
		return err
	}

	if opts.Copy {
		if err := clipboard.WriteAll(buf.String()); err != nil {
			return fmt.Errorf("failed to copy report: %w", err)
		}
		fmt.Fprintln(errOut, "Report copied to clipboard")
	}

	if opts.Save {
		reports, err := e.openReports()
		if err != nil {
			return err
		}
		if err := reports.Save(ctx, summary.Report); err != nil {
			return err
		}
		fmt.Fprintf(errOut, "Report saved: %s\n", summary.Report.ID)
	}

	return outputRunFailures(errOut, summary)
}

func outputRunFailures(w io.Writer, summary *runner.RunSummary) error {
	if summary.IsSuccess() {
		return nil
	}
	for _, r := range summary.Results {
		if r.Error != nil {
			fmt.Fprintf(w, "✗ %s: %v\n", r.Path, r.Error)
		}
	}
	return fmt.Errorf("%d of %d files failed", summary.Failed, summary.TotalFiles)
}

func parseInputFormat(s string) (importer.Format, error) {
	switch f := importer.Format(s); f {
	case "", importer.FormatAuto:
		return importer.FormatAuto, nil
	case importer.FormatHAR, importer.FormatCDPLog:
		return f, nil
	default:
		return "", fmt.Errorf("unknown input format %q (want auto, har or cdp)", s)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
