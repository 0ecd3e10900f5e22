package progress

import (
	"context"
	"log/slog"
	"time"
)

// Event is one progress update emitted during an analysis run. Percent is
// monotonic across the whole run: each pipeline stage owns a fixed
// sub-range, so stage duration differences never move the bar backwards.
type Event struct {
	RunID     string    `json:"runId,omitempty"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives progress events. How events reach a client (server-sent
// events, polling, ...) is up to the implementation; the engine only emits.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// Nop returns a sink that discards events.
func Nop() Sink {
	return SinkFunc(func(context.Context, Event) {})
}

// Slog returns a sink that logs events at debug level.
func Slog(log *slog.Logger) Sink {
	return SinkFunc(func(_ context.Context, e Event) {
		log.Debug("progress",
			"runId", e.RunID, "stage", e.Stage, "percent", e.Percent, "message", e.Message)
	})
}

// Multi fans one event out to several sinks.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range sinks {
			s.Emit(ctx, e)
		}
	})
}

// Collector is a sink that records every event, for tests asserting on
// emitted progress instead of parsing log output.
type Collector struct {
	Events []Event
}

// Emit implements Sink.
func (c *Collector) Emit(_ context.Context, event Event) {
	c.Events = append(c.Events, event)
}
