// Package app is the composition container: it owns configuration, the
// logger, metrics, and the event bus that browser events are dispatched on.
package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/cdp"
	"github.com/artpar/cookielens/internal/config"
	"github.com/artpar/cookielens/internal/metrics"
)

// App is the main application container with dependency injection.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	bus     *Bus
}

// Option is a function that configures the App.
type Option func(*App)

// New creates a new App with the given options.
func New(opts ...Option) *App {
	app := &App{
		config: config.Default(),
		logger: zap.NewNop(),
		bus:    NewBus(),
	}

	for _, opt := range opts {
		opt(app)
	}

	return app
}

// WithConfig sets the application configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) {
		if cfg != nil {
			a.config = cfg
		}
	}
}

// WithLogger sets the application logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) {
		a.metrics = m
	}
}

// WithBus replaces the event bus.
func WithBus(b *Bus) Option {
	return func(a *App) {
		if b != nil {
			a.bus = b
		}
	}
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Metrics returns the metrics collector, which may be nil.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Bus returns the event bus.
func (a *App) Bus() *Bus {
	return a.bus
}

// Register registers a handler on the bus.
func (a *App) Register(method string, h Handler) {
	a.bus.Register(method, h)
}

// Dispatch routes one event to its handlers, recording the outcome.
func (a *App) Dispatch(ctx context.Context, ev cdp.Event) error {
	err := a.bus.Dispatch(ctx, ev.TabID, ev)
	switch {
	case err == nil:
		a.metrics.RecordEvent(ev.Method, "ok")
	case errors.Is(err, ErrNoHandler):
		a.metrics.RecordEvent(ev.Method, "unhandled")
		a.logger.Debug("Ignoring event without handler", zap.String("method", ev.Method))
	default:
		a.metrics.RecordEvent(ev.Method, "error")
	}
	return err
}

// ReplayResult counts the outcome of a replay.
type ReplayResult struct {
	Handled   int `json:"handled"`
	Unhandled int `json:"unhandled"`
	Failed    int `json:"failed"`
}

// Replay dispatches events in order. Failures are logged and do not stop the
// replay; only context cancellation does.
func (a *App) Replay(ctx context.Context, events []cdp.Event) (ReplayResult, error) {
	var res ReplayResult
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := a.Dispatch(ctx, ev)
		switch {
		case err == nil:
			res.Handled++
		case errors.Is(err, ErrNoHandler):
			res.Unhandled++
		default:
			res.Failed++
			a.logger.Warn("Dropped event",
				zap.String("method", ev.Method),
				zap.String("tab", ev.TabID),
				zap.Error(err))
		}
	}
	return res, nil
}
