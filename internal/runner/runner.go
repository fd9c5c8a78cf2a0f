// Package runner replays recorded capture files through the collector and
// summarizes the resulting tab store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/app"
	"github.com/artpar/cookielens/internal/collector"
	"github.com/artpar/cookielens/internal/config"
	"github.com/artpar/cookielens/internal/importer"
	"github.com/artpar/cookielens/internal/metrics"
	"github.com/artpar/cookielens/internal/report"
	"github.com/artpar/cookielens/internal/storage/sqlite"
	"github.com/artpar/cookielens/internal/tabs"
)

// ErrNoSources is returned when Run is called without any files.
var ErrNoSources = errors.New("no capture files given")

// RunResult is the outcome of replaying one file.
type RunResult struct {
	Path      string          `json:"path"`
	Format    importer.Format `json:"format,omitempty"`
	Tabs      []string        `json:"tabs,omitempty"`
	Events    int             `json:"events"`
	Handled   int             `json:"handled"`
	Unhandled int             `json:"unhandled"`
	Failed    int             `json:"failed"`
	Warnings  []string        `json:"warnings,omitempty"`
	Duration  time.Duration   `json:"duration"`
	Error     error           `json:"-"`
}

// RunSummary is the outcome of a whole run.
type RunSummary struct {
	TotalFiles    int            `json:"total_files"`
	Imported      int            `json:"imported"`
	Failed        int            `json:"failed"`
	Results       []RunResult    `json:"results"`
	Report        *report.Report `json:"report,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	TotalDuration time.Duration  `json:"total_duration"`
}

// ProgressCallback is called after each file is replayed.
type ProgressCallback func(current int, total int, result *RunResult)

// Runner replays capture files into a tab store.
type Runner struct {
	paths      []string
	format     importer.Format
	registry   *importer.Registry
	store      *tabs.Store
	quota      int64
	logger     *zap.Logger
	metrics    *metrics.Metrics
	onProgress ProgressCallback
}

// Option configures the Runner.
type Option func(*Runner)

// WithFormat forces an import format instead of detecting it.
func WithFormat(f importer.Format) Option {
	return func(r *Runner) {
		r.format = f
	}
}

// WithRegistry sets the importer registry.
func WithRegistry(reg *importer.Registry) Option {
	return func(r *Runner) {
		if reg != nil {
			r.registry = reg
		}
	}
}

// WithStore replays into store instead of a fresh in-memory one. The caller
// keeps ownership of store.
func WithStore(store *tabs.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithQuota sets the quota of the in-memory store.
func WithQuota(bytes int64) Option {
	return func(r *Runner) {
		r.quota = bytes
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithProgressCallback sets a callback for progress updates.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(r *Runner) {
		r.onProgress = cb
	}
}

// NewRunner creates a runner over paths.
func NewRunner(paths []string, opts ...Option) *Runner {
	r := &Runner{
		paths:    paths,
		format:   importer.FormatAuto,
		registry: importer.NewDefaultRegistry(),
		quota:    config.DefaultQuotaBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run replays every file in order into one store and reports on it. With
// more than one file each file's tabs are prefixed with its base name so
// tabs from different captures stay apart. A file that fails to import is
// recorded in its RunResult; only setup failures and cancellation return an
// error.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	if len(r.paths) == 0 {
		return nil, ErrNoSources
	}

	store := r.store
	if store == nil {
		backend, err := sqlite.NewInMemory(r.quota)
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory store: %w", err)
		}
		store = tabs.NewStore(backend, tabs.WithLogger(r.logger), tabs.WithMetrics(r.metrics))
		defer store.Close()
	}

	a := app.New(app.WithLogger(r.logger), app.WithMetrics(r.metrics))
	collector.New(store,
		collector.WithLogger(r.logger),
		collector.WithMetrics(r.metrics)).Register(a.Bus())

	summary := &RunSummary{
		TotalFiles: len(r.paths),
		StartTime:  time.Now(),
		Results:    make([]RunResult, 0, len(r.paths)),
	}

	for i, path := range r.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := r.replayFile(ctx, a, path)
		if result.Error != nil && errors.Is(result.Error, context.Canceled) {
			return nil, result.Error
		}
		summary.Results = append(summary.Results, result)
		if result.Error == nil {
			summary.Imported++
		} else {
			summary.Failed++
			r.logger.Warn("Import failed", zap.String("path", path), zap.Error(result.Error))
		}

		if r.onProgress != nil {
			r.onProgress(i+1, len(r.paths), &result)
		}
	}

	entries, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read tab store: %w", err)
	}
	summary.Report = report.New(r.paths, importedTabs(entries, summary.Results))
	if usage, err := store.Usage(ctx); err == nil {
		summary.Report.Usage = &usage
	}

	summary.EndTime = time.Now()
	summary.TotalDuration = summary.EndTime.Sub(summary.StartTime)
	return summary, nil
}

func (r *Runner) replayFile(ctx context.Context, a *app.App, path string) RunResult {
	result := RunResult{Path: path}
	startTime := time.Now()

	imported, err := r.registry.ImportFile(ctx, r.format, path)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(startTime)
		return result
	}
	if len(r.paths) > 1 {
		imported.PrefixTabs(filepath.Base(path))
	}

	result.Format = imported.SourceFormat
	result.Tabs = imported.Tabs
	result.Events = len(imported.Events)
	result.Warnings = imported.Warnings

	replayed, err := a.Replay(ctx, imported.Events)
	result.Handled = replayed.Handled
	result.Unhandled = replayed.Unhandled
	result.Failed = replayed.Failed
	if err != nil {
		result.Error = err
	}

	r.logger.Debug("Replayed capture",
		zap.String("path", path),
		zap.String("format", string(result.Format)),
		zap.Int("events", result.Events),
		zap.Int("failed", result.Failed))

	result.Duration = time.Since(startTime)
	return result
}

// importedTabs keeps the entries for tabs the run replayed. A shared store
// may hold tabs from earlier runs.
func importedTabs(entries map[string]tabs.Entry, results []RunResult) map[string]tabs.Entry {
	out := make(map[string]tabs.Entry)
	for _, res := range results {
		for _, id := range res.Tabs {
			if e, ok := entries[id]; ok {
				out[id] = e
			}
		}
	}
	return out
}

// IsSuccess returns true if the file was imported and replayed.
func (r *RunResult) IsSuccess() bool {
	return r.Error == nil
}

// IsSuccess returns true if every file was imported.
func (s *RunSummary) IsSuccess() bool {
	return s.Failed == 0
}
