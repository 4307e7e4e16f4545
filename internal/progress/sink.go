package progress

import "context"

// Sink consumes batches of events. Consume is called from a single goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts individual events without blocking.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Discard is an Emitter that drops everything.
var Discard Emitter = EmitterFunc(func(Event) {})
