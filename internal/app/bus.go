package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/cookielens/internal/cdp"
)

// ErrNoHandler is returned when an event's method has no registered handler.
var ErrNoHandler = errors.New("no handler registered")

// Handler handles one kind of browser event for a tab.
type Handler interface {
	Handle(ctx context.Context, tabID string, ev cdp.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tabID string, ev cdp.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, tabID string, ev cdp.Event) error {
	return f(ctx, tabID, ev)
}

// Bus routes events to the handlers registered for their method.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Register adds a handler for method. Handlers run in registration order.
func (b *Bus) Register(method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = append(b.handlers[method], h)
}

// Handlers returns the handlers registered for method.
func (b *Bus) Handlers(method string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Handler(nil), b.handlers[method]...)
}

// Methods returns every method with at least one handler, sorted.
func (b *Bus) Methods() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	methods := make([]string, 0, len(b.handlers))
	for m := range b.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Dispatch runs the handlers for ev.Method. The first failing handler stops
// the chain.
func (b *Bus) Dispatch(ctx context.Context, tabID string, ev cdp.Event) error {
	handlers := b.Handlers(ev.Method)
	if len(handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandler, ev.Method)
	}
	for _, h := range handlers {
		if err := h.Handle(ctx, tabID, ev); err != nil {
			return fmt.Errorf("%s: %w", ev.Method, err)
		}
	}
	return nil
}
