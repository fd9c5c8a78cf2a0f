package collector

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/broadcast"
)

// Publisher delivers badge and cookie-data messages to whoever displays them.
type Publisher interface {
	Publish(ctx context.Context, msg broadcast.Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg broadcast.Message) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msg broadcast.Message) error {
	return f(ctx, msg)
}

// Publishers fans a message out to every publisher.
type Publishers []Publisher

// Publish delivers msg to all publishers and joins their errors.
func (ps Publishers) Publish(ctx context.Context, msg broadcast.Message) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes messages to a logger.
type LogPublisher struct {
	Logger *zap.Logger
}

// Publish logs msg at debug level. Badge counts are logged at info.
func (p LogPublisher) Publish(_ context.Context, msg broadcast.Message) error {
	if p.Logger == nil {
		return nil
	}
	switch msg.Type {
	case broadcast.TypeBadge:
		p.Logger.Info("Badge updated", zap.String("tab", msg.TabID), zap.String("count", msg.Payload))
	default:
		p.Logger.Debug("Cookie data published",
			zap.String("tab", msg.TabID),
			zap.String("type", msg.Type),
			zap.Int("bytes", len(msg.Payload)))
	}
	return nil
}
