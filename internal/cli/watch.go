package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/app"
	"github.com/artpar/cookielens/internal/broadcast"
	"github.com/artpar/cookielens/internal/browser"
	"github.com/artpar/cookielens/internal/collector"
	"github.com/artpar/cookielens/internal/metrics"
	"github.com/artpar/cookielens/internal/server"
	"github.com/artpar/cookielens/internal/tabs"
)

// BrowserOptions holds the browser flags shared by watch and crawl.
type BrowserOptions struct {
	ControlURL string
	Headless   bool
	Ephemeral  bool
	Record     string
}

func (o *BrowserOptions) addFlags(cmd *cobra.Command, headless bool) {
	cmd.Flags().StringVar(&o.ControlURL, "control-url", "", "DevTools websocket URL of a running browser (default: launch one)")
	cmd.Flags().BoolVar(&o.Headless, "headless", headless, "Launch the browser headless")
	cmd.Flags().BoolVar(&o.Ephemeral, "ephemeral", false, "Use an in-memory tab store instead of the data directory")
	cmd.Flags().StringVar(&o.Record, "record", "", "Append captured events to a JSONL log")
}

// apply copies flags that were set onto the loaded configuration.
func (o *BrowserOptions) apply(cmd *cobra.Command, e *env) {
	if o.ControlURL != "" {
		e.cfg.Browser.ControlURL = o.ControlURL
	}
	if cmd.Flags().Changed("headless") {
		e.cfg.Browser.Headless = o.Headless
	}
}

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	BrowserOptions
	ListenAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(global *GlobalOptions) *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Collect cookies from a live browser",
		Long: `Attach to a browser and collect the cookies of every tab as you browse.

Collected state is served while watching:
  /ws          websocket feed of NEW_COOKIE_DATA and BADGE messages
               (?tab=ID to follow one tab)
  /api/tabs    JSON view of the tab store
  /metrics     Prometheus metrics

Examples:
  # Launch a browser and watch it
  cookielens watch

  # Attach to a running Chrome started with --remote-debugging-port=9222
  cookielens watch --control-url ws://127.0.0.1:9222/devtools/browser/<id>

  # Record the session for later analysis
  cookielens watch --record session.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, global, opts)
		},
	}

	opts.addFlags(cmd, false)
	cmd.Flags().StringVarP(&opts.ListenAddr, "listen", "l", "", "Address for the websocket and metrics server (default 127.0.0.1:7878)")

	return cmd
}

// pipeline is a tab store with the collector wired to an event bus.
type pipeline struct {
	app     *app.App
	store   *tabs.Store
	hub     *broadcast.Hub
	metrics *metrics.Metrics
	sink    browser.Sink
	closers []io.Closer
}

// newPipeline opens the store and wires the collector, publishing to a
// broadcast hub and the log.
func newPipeline(e *env, opts *BrowserOptions) (*pipeline, error) {
	m := metrics.New()
	store, err := e.openStore(opts.Ephemeral, m)
	if err != nil {
		return nil, err
	}
	p := &pipeline{store: store, metrics: m, closers: []io.Closer{store}}

	var svc *collector.Service
	p.hub = broadcast.NewHub(
		broadcast.WithLogger(e.logger),
		broadcast.WithMetrics(m),
		broadcast.WithSnapshot(func(ctx context.Context, tabID string) ([]broadcast.Message, error) {
			return svc.Snapshot(ctx, tabID)
		}),
	)
	svc = collector.New(store,
		collector.WithLogger(e.logger),
		collector.WithMetrics(m),
		collector.WithPublisher(collector.Publishers{p.hub, collector.LogPublisher{Logger: e.logger}}),
	)

	p.app = app.New(app.WithConfig(e.cfg), app.WithLogger(e.logger), app.WithMetrics(m))
	svc.Register(p.app.Bus())
	p.sink = p.app

	if opts.Record != "" {
		f, err := os.OpenFile(opts.Record, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		p.closers = append(p.closers, f)
		p.sink = browser.NewRecorder(f, p.app)
	}

	return p, nil
}

// Close releases the store and event log.
func (p *pipeline) Close() error {
	p.hub.Close()
	var firstErr error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func runWatch(cmd *cobra.Command, global *GlobalOptions, opts *WatchOptions) error {
	e, err := global.load()
	if err != nil {
		return err
	}
	defer e.close()
	// a launched browser is only useful to watch when it is visible
	e.cfg.Browser.Headless = false
	opts.apply(cmd, e)

	p, err := newPipeline(e, &opts.BrowserOptions)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenAddr := opts.ListenAddr
	if listenAddr == "" {
		listenAddr = e.cfg.Server.ListenAddr
	}
	srv := server.New(p.store,
		server.WithListenAddr(listenAddr),
		server.WithHub(p.hub),
		server.WithMetrics(p.metrics),
		server.WithLogger(e.logger),
	)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer srv.Stop()

	capture := browser.New(e.cfg.Browser, p.sink, browser.WithLogger(e.logger))
	if err := capture.Start(ctx); err != nil {
		return err
	}
	defer capture.Close()

	out := cmd.OutOrStdout()
	addr := srv.ListenAddr()
	fmt.Fprintf(out, "Watching browser, serving on http://%s\n", addr)
	fmt.Fprintf(out, "  Live feed:  ws://%s/ws\n", addr)
	fmt.Fprintf(out, "  Tabs:       http://%s/api/tabs\n", addr)
	fmt.Fprintf(out, "  Metrics:    http://%s/metrics\n", addr)
	if opts.Record != "" {
		fmt.Fprintf(out, "  Recording:  %s\n", opts.Record)
	}
	fmt.Fprintf(out, "\nPress Ctrl+C to stop...\n")

	if err := capture.Watch(ctx); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	fmt.Fprintf(out, "\nShutting down...\n")
	if usage, err := p.store.Usage(context.Background()); err == nil {
		fmt.Fprintf(out, "Collected %d tabs, %d of %d bytes in use\n", usage.Tabs, usage.BytesInUse, usage.Quota)
	} else {
		e.logger.Warn("Failed to read store usage", zap.Error(err))
	}
	return nil
}
