package context

import (
	"context"

	llm "github.com/randalmurphal/llmkit/claude"

	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/notify"
	"github.com/randalmurphal/medflow/progress"
	"github.com/randalmurphal/medflow/recording"
)

// =============================================================================
// Context Injection Helpers
// =============================================================================
// These helpers allow medflow services to be injected into context.Context
// for use by pipeline stages and processing nodes.

// serviceContextKey is a private type for context keys to avoid collisions
type serviceContextKey string

// Context keys for medflow services
const (
	llmServiceKey      serviceContextKey = "medflow.llm"
	registryServiceKey serviceContextKey = "medflow.registry"
	recorderServiceKey serviceContextKey = "medflow.recorder"
	storeServiceKey    serviceContextKey = "medflow.recordings"
	progressServiceKey serviceContextKey = "medflow.progress"
	notifierServiceKey serviceContextKey = "medflow.notifier"
)

// WithLLM adds an LLM client to the context.
// This uses flowgraph's llm.Client interface.
func WithLLM(ctx context.Context, client llm.Client) context.Context {
	return context.WithValue(ctx, llmServiceKey, client)
}

// LLM extracts the LLM client from context.
func LLM(ctx context.Context) llm.Client {
	if client, ok := ctx.Value(llmServiceKey).(llm.Client); ok {
		return client
	}
	return nil
}

// WithRegistry adds a per-run processing-node registry to the context. The
// dispatch stage prefers it over the pipeline's configured registry, so one
// run can be scoped to a subset of nodes. There is no ambient global.
func WithRegistry(ctx context.Context, reg *node.Registry) context.Context {
	return context.WithValue(ctx, registryServiceKey, reg)
}

// Registry extracts the node registry from context
func Registry(ctx context.Context) *node.Registry {
	if reg, ok := ctx.Value(registryServiceKey).(*node.Registry); ok {
		return reg
	}
	return nil
}

// WithRecorder adds a live recorder to the context
func WithRecorder(ctx context.Context, rec *recording.Recorder) context.Context {
	return context.WithValue(ctx, recorderServiceKey, rec)
}

// Recorder extracts the live recorder from context
func Recorder(ctx context.Context) *recording.Recorder {
	if rec, ok := ctx.Value(recorderServiceKey).(*recording.Recorder); ok {
		return rec
	}
	return nil
}

// WithRecordingStore adds a recording store to the context. A pipeline
// without its own store records runs to this one.
func WithRecordingStore(ctx context.Context, store *recording.FileStore) context.Context {
	return context.WithValue(ctx, storeServiceKey, store)
}

// RecordingStore extracts the recording store from context
func RecordingStore(ctx context.Context) *recording.FileStore {
	if store, ok := ctx.Value(storeServiceKey).(*recording.FileStore); ok {
		return store
	}
	return nil
}

// WithProgress adds a progress sink to the context
func WithProgress(ctx context.Context, sink progress.Sink) context.Context {
	return context.WithValue(ctx, progressServiceKey, sink)
}

// Progress extracts the progress sink from context.
// Returns a no-op sink if none is set, so emitters never need a nil check.
func Progress(ctx context.Context) progress.Sink {
	if sink, ok := ctx.Value(progressServiceKey).(progress.Sink); ok {
		return sink
	}
	return progress.Nop()
}

// WithNotifier adds a per-run notifier to the context, overriding the
// pipeline's configured notifier for this run.
func WithNotifier(ctx context.Context, n notify.Notifier) context.Context {
	return context.WithValue(ctx, notifierServiceKey, n)
}

// Notifier extracts the run notifier from context
func Notifier(ctx context.Context) notify.Notifier {
	if n, ok := ctx.Value(notifierServiceKey).(notify.Notifier); ok {
		return n
	}
	return nil
}
