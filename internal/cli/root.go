package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/config"
	"github.com/artpar/cookielens/internal/logging"
	"github.com/artpar/cookielens/internal/metrics"
	"github.com/artpar/cookielens/internal/storage/filesystem"
	"github.com/artpar/cookielens/internal/storage/sqlite"
	"github.com/artpar/cookielens/internal/tabs"
)

// GlobalOptions holds flags shared by every subcommand.
type GlobalOptions struct {
	ConfigPath string
	DataDir    string
	LogLevel   string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   "cookielens",
		Short: "cookielens - collate the cookies a browser tab sends and receives",
		Long: `cookielens records every cookie a browser tab sends or receives, classifies
it as first or third party, and tracks whether the browser blocked it.

Cookies can be collected from a live browser (watch, crawl) or from saved
captures: HAR files and DevTools event logs (analyze).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "Data directory (default: ~/.config/cookielens)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Show detailed output")

	cmd.AddCommand(NewAnalyzeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCrawlCommand(opts))
	cmd.AddCommand(NewTabsCommand(opts))
	cmd.AddCommand(NewReportsCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))

	return cmd
}

// env is the loaded configuration for one command invocation.
type env struct {
	cfg     *config.Config
	dataDir string
	logger  *zap.Logger
}

// load resolves configuration and builds the logger. Flags override the
// config file and environment.
func (o *GlobalOptions) load() (*env, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.Development = cfg.Log.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &env{cfg: cfg, dataDir: dataDir, logger: logger}, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}

// openStore opens the persistent tab store under the data directory, or an
// in-memory one when ephemeral is set.
func (e *env) openStore(ephemeral bool, m *metrics.Metrics) (*tabs.Store, error) {
	var (
		backend *sqlite.Backend
		err     error
	)
	if ephemeral {
		backend, err = sqlite.NewInMemory(e.cfg.QuotaBytes)
	} else {
		if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		backend, err = sqlite.New(filepath.Join(e.dataDir, "tabs.db"), e.cfg.QuotaBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open tab store: %w", err)
	}

	opts := []tabs.Option{tabs.WithLogger(e.logger)}
	if m != nil {
		opts = append(opts, tabs.WithMetrics(m))
	}
	return tabs.NewStore(backend, opts...), nil
}

func (e *env) openReports() (*filesystem.ReportStore, error) {
	store, err := filesystem.NewReportStore(filepath.Join(e.dataDir, "reports"))
	if err != nil {
		return nil, fmt.Errorf("failed to open report archive: %w", err)
	}
	return store, nil
}
