package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/cookielens/internal/browser"
	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/tabs"
)

// CrawlOptions holds options for the crawl command.
type CrawlOptions struct {
	BrowserOptions
	Output      string
	Concurrency int
	Save        bool
}

// NewCrawlCommand creates the crawl command.
func NewCrawlCommand(global *GlobalOptions) *cobra.Command {
	opts := &CrawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl URL...",
		Short: "Visit URLs in a browser and report their cookies",
		Long: `Open each URL in its own tab, collect cookies until the page has loaded
or the navigation timeout passes, and print a report over the visited tabs.

Pages that cannot be reached are reported and skipped; the crawl only stops
early when interrupted.

Examples:
  cookielens crawl https://example.com https://example.org
  cookielens crawl --concurrency 8 -o json --save $(cat urls.txt)`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, global, args, opts)
		},
	}

	opts.addFlags(cmd, true)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "table", "Output format: table, json, yaml")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Tabs open at once (default from config)")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Save the report to the report archive")

	return cmd
}

func runCrawl(cmd *cobra.Command, global *GlobalOptions, urls []string, opts *CrawlOptions) error {
	format, err := report.ParseFormat(opts.Output)
	if err != nil {
		return err
	}

	e, err := global.load()
	if err != nil {
		return err
	}
	defer e.close()
	opts.apply(cmd, e)
	if opts.Concurrency > 0 {
		e.cfg.Browser.Concurrency = opts.Concurrency
	}

	p, err := newPipeline(e, &opts.BrowserOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture := browser.New(e.cfg.Browser, p.sink, browser.WithLogger(e.logger))
	if err := capture.Start(ctx); err != nil {
		return err
	}
	defer capture.Close()

	results, err := capture.Crawl(ctx, urls)
	if err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	visited := outputVisits(errOut, results, global.Verbose)

	entries, err := p.store.List(ctx)
	if err != nil {
		return err
	}
	r := report.New(urls, visitedEntries(entries, visited))
	if usage, err := p.store.Usage(ctx); err == nil {
		r.Usage = &usage
	}

	if err := report.Write(cmd.OutOrStdout(), r, format); err != nil {
		return err
	}

	if opts.Save {
		reports, err := e.openReports()
		if err != nil {
			return err
		}
		if err := reports.Save(ctx, r); err != nil {
			return err
		}
		fmt.Fprintf(errOut, "Report saved: %s\n", r.ID)
	}

	if failed := len(urls) - len(visited); failed > 0 {
		return fmt.Errorf("%d of %d URLs failed", failed, len(urls))
	}
	return nil
}

// outputVisits prints one line per failed or partial visit (every visit when
// verbose) and returns the tab ids that were captured.
func outputVisits(w io.Writer, results []browser.VisitResult, verbose bool) []string {
	visited := make([]string, 0, len(results))
	for _, r := range results {
		status := "✓"
		detail := fmt.Sprintf("%d", r.Status)
		switch {
		case r.Error != "":
			status, detail = "✗", r.Error
		case r.Skipped:
			status, detail = "✗", "skipped"
		case r.TimedOut:
			status, detail = "~", "timed out, partial capture"
		}
		if r.TabID != "" && r.Error == "" && !r.Skipped {
			visited = append(visited, r.TabID)
		}
		if verbose || status != "✓" {
			fmt.Fprintf(w, "%s %s (%s)\n", status, r.URL, detail)
		}
	}
	return visited
}

func visitedEntries(entries map[string]tabs.Entry, ids []string) map[string]tabs.Entry {
	out := make(map[string]tabs.Entry, len(ids))
	for _, id := range ids {
		if e, ok := entries[id]; ok {
			out[id] = e
		}
	}
	return out
}
