package progress

import (
	"context"
	"fmt"
)

// Sink receives batches of events from the Hub. Consume is called from the
// hub goroutine only, once per flushed batch, and should respect ctx.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is what workers report progress through.
type Emitter interface {
	Emit(evt Event)
}

// Named lets a sink label itself in hub warnings.
type Named interface {
	Name() string
}

// SinkFunc adapts a function into a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close is a no-op.
func (SinkFunc) Close(context.Context) error { return nil }

func sinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
