package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/storage/filesystem"
)

// NewReportsCommand creates the reports command group over the report
// archive.
func NewReportsCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Browse saved reports",
	}

	cmd.AddCommand(newReportsListCommand(global))
	cmd.AddCommand(newReportsShowCommand(global))
	cmd.AddCommand(newReportsRemoveCommand(global))

	return cmd
}

func withReports(global *GlobalOptions, fn func(ctx context.Context, reports *filesystem.ReportStore) error) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	defer e.close()

	reports, err := e.openReports()
	if err != nil {
		return err
	}
	return fn(context.Background(), reports)
}

func newReportsListCommand(global *GlobalOptions) *cobra.Command {
	var (
		query  string
		output string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved reports, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}
			return withReports(global, func(ctx context.Context, reports *filesystem.ReportStore) error {
				var metas []filesystem.ReportMeta
				if query != "" {
					metas, err = reports.Search(ctx, query)
				} else {
					metas, err = reports.List(ctx)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				switch format {
				case report.FormatJSON:
					return report.WriteJSON(out, metas)
				case report.FormatYAML:
					return report.WriteYAML(out, metas)
				}
				if len(metas) == 0 {
					fmt.Fprintln(out, "No saved reports")
					return nil
				}
				fmt.Fprintln(out, reportsTable(metas))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Only reports whose sources, tab ids or URLs contain this text")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func newReportsShowCommand(global *GlobalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show REPORT_ID",
		Short: "Print a saved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}
			return withReports(global, func(ctx context.Context, reports *filesystem.ReportStore) error {
				r, err := reports.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return report.Write(cmd.OutOrStdout(), r, format)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func newReportsRemoveCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm REPORT_ID...",
		Aliases: []string{"remove"},
		Short:   "Delete saved reports",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReports(global, func(ctx context.Context, reports *filesystem.ReportStore) error {
				for _, id := range args {
					if err := reports.Delete(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", id)
				}
				return nil
			})
		},
	}
}

func reportsTable(metas []filesystem.ReportMeta) string {
	rows := make([][]string, 0, len(metas))
	for _, m := range metas {
		rows = append(rows, []string{
			m.ID,
			m.CreatedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(m.Sources, ", "),
			strconv.Itoa(m.Tabs),
			strconv.Itoa(m.Cookies),
			strconv.Itoa(m.Blocked),
		})
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("ID", "CREATED", "SOURCES", "TABS", "COOKIES", "BLOCKED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		String()
}
