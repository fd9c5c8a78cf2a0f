package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/cookielens/internal/mcp"
	"github.com/artpar/cookielens/internal/metrics"
)

// NewMCPCommand creates the mcp subcommand for starting the MCP server.
func NewMCPCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI assistant integration",
		Long: `Start the Model Context Protocol (MCP) server so assistants can query
collected cookies.

The MCP server communicates over stdio and provides tools for:
- Listing tabs and their cookies, filtered by party, status or domain
- Summarizing and removing tabs
- Analyzing HAR files and DevTools event logs
- Browsing saved reports

Configure in your assistant's MCP settings:
  {
    "mcpServers": {
      "cookielens": {
        "command": "cookielens",
        "args": ["mcp"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServer(global)
		},
	}

	return cmd
}

func runMCPServer(global *GlobalOptions) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	defer e.close()

	server, err := mcp.NewServer(mcp.ServerConfig{
		DataDir:    e.dataDir,
		QuotaBytes: e.cfg.QuotaBytes,
		Logger:     e.logger,
		Metrics:    metrics.New(),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, os.Stdin, os.Stdout)
}
