// Package notify sends notifications about analysis-run lifecycle events.
//
// Notifier implementations:
//   - WebhookNotifier: generic HTTP webhook
//   - LogNotifier: slog-based logging notifier
//   - MultiNotifier: fan-out to multiple notifiers
//   - NopNotifier: discards everything
//
// The engine emits run_started, run_completed, run_failed,
// document_rejected and quality_gate events; how a consumer forwards them
// to users is outside this module.
package notify
