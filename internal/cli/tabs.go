package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/tabs"
)

// NewTabsCommand creates the tabs command group over the persistent tab
// store.
func NewTabsCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "Inspect and manage the collected tabs",
	}

	cmd.AddCommand(newTabsListCommand(global))
	cmd.AddCommand(newTabsShowCommand(global))
	cmd.AddCommand(newTabsRemoveCommand(global))
	cmd.AddCommand(newTabsClearCommand(global))

	return cmd
}

// withStore runs fn against the persistent tab store.
func withStore(global *GlobalOptions, fn func(ctx context.Context, store *tabs.Store) error) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.openStore(false, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(context.Background(), store)
}

func newTabsListCommand(global *GlobalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List collected tabs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}
			return withStore(global, func(ctx context.Context, store *tabs.Store) error {
				entries, err := store.List(ctx)
				if err != nil {
					return err
				}
				usage, err := store.Usage(ctx)
				if err != nil {
					return err
				}
				summaries := report.SummarizeAll(entries)
				for i := range summaries {
					summaries[i].Cookies = nil
				}

				out := cmd.OutOrStdout()
				switch format {
				case report.FormatJSON:
					return report.WriteJSON(out, map[string]any{"tabs": summaries, "usage": usage})
				case report.FormatYAML:
					return report.WriteYAML(out, map[string]any{"tabs": summaries, "usage": usage})
				}
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No tabs collected")
					return nil
				}
				fmt.Fprintln(out, report.TabsTable(summaries))
				fmt.Fprintf(out, "\nstorage: %d of %d bytes, %d tabs\n", usage.BytesInUse, usage.Quota, usage.Tabs)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func newTabsShowCommand(global *GlobalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show TAB_ID",
		Short: "Show the cookies of one tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}
			return withStore(global, func(ctx context.Context, store *tabs.Store) error {
				entry, err := store.Get(ctx, args[0])
				if errors.Is(err, tabs.ErrNotFound) {
					return fmt.Errorf("tab not found: %s", args[0])
				}
				if err != nil {
					return err
				}
				s := report.Summarize(args[0], entry)

				out := cmd.OutOrStdout()
				switch format {
				case report.FormatJSON:
					return report.WriteJSON(out, s)
				case report.FormatYAML:
					return report.WriteYAML(out, s)
				}
				fmt.Fprintln(out, report.TabsTable([]report.TabSummary{s}))
				if len(s.Cookies) > 0 {
					fmt.Fprintln(out, report.CookiesTable(s))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json, yaml")
	return cmd
}

func newTabsRemoveCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm TAB_ID...",
		Aliases: []string{"remove"},
		Short:   "Remove tabs and their cookies",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(global, func(ctx context.Context, store *tabs.Store) error {
				for _, id := range args {
					if err := store.Remove(ctx, id); err != nil {
						return fmt.Errorf("failed to remove tab %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed tab %s\n", id)
				}
				return nil
			})
		},
	}
}

func newTabsClearCommand(global *GlobalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every collected tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to clear the tab store without --force")
			}
			return withStore(global, func(ctx context.Context, store *tabs.Store) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tab store cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Clear without confirmation")
	return cmd
}
