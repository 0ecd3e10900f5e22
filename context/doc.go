// Package context provides dependency injection for medflow services
// through context.Context.
//
// Helpers:
//   - WithLLM/LLM: LLM client injection (flowgraph llm.Client)
//   - WithRegistry/Registry: processing-node registry
//   - WithRecorder/Recorder: live run recorder
//   - WithRecordingStore/RecordingStore: recording persistence
//   - WithProgress/Progress: progress event sink
//   - WithNotifier/Notifier: run-completion notifier
//
// Import with an alias to avoid shadowing the standard library:
//
//	medcontext "github.com/randalmurphal/medflow/context"
package context
