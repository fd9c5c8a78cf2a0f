package browser

import (
	"context"
	"io"
	"sync"

	"github.com/artpar/cookielens/internal/cdp"
)

// Sink receives captured events.
type Sink interface {
	Dispatch(ctx context.Context, ev cdp.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev cdp.Event) error

// Dispatch implements Sink.
func (f SinkFunc) Dispatch(ctx context.Context, ev cdp.Event) error {
	return f(ctx, ev)
}

// Recorder appends every event to a JSONL log before passing it on. The log
// can be replayed later with the event-log importer.
type Recorder struct {
	mu   sync.Mutex
	w    io.Writer
	next Sink
}

// NewRecorder creates a Recorder writing to w and forwarding to next. next may
// be nil.
func NewRecorder(w io.Writer, next Sink) *Recorder {
	return &Recorder{w: w, next: next}
}

// Dispatch implements Sink. A write failure is returned without forwarding.
func (r *Recorder) Dispatch(ctx context.Context, ev cdp.Event) error {
	r.mu.Lock()
	err := cdp.WriteLog(r.w, []cdp.Event{ev})
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if r.next == nil {
		return nil
	}
	return r.next.Dispatch(ctx, ev)
}
