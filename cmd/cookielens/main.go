package main

import (
	"fmt"
	"os"

	"github.com/artpar/cookielens/internal/cli"
	"github.com/artpar/cookielens/internal/mcp"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	mcp.Version = version

	cmd := cli.NewRootCommand(fmt.Sprintf("%s (commit %s, built %s)", version, commit, date))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
