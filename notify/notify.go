package notify

import (
	"context"
	"time"
)

// =============================================================================
// Notification Types
// =============================================================================

// EventType represents the type of analysis-run event.
type EventType string

// Event type constants.
const (
	EventRunStarted       EventType = "run_started"
	EventRunCompleted     EventType = "run_completed"
	EventRunFailed        EventType = "run_failed"
	EventDocumentRejected EventType = "document_rejected"
	EventQualityGate      EventType = "quality_gate"
)

// Severity constants for notifications.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Event describes an analysis-run event for notification.
type Event struct {
	Type       EventType      `json:"type"`
	RunID      string         `json:"run_id"`
	DocumentID string         `json:"document_id,omitempty"`
	Message    string         `json:"message"`
	Severity   string         `json:"severity"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// Notifier Interface
// =============================================================================

// Notifier sends notifications about analysis-run events.
type Notifier interface {
	// Notify sends a notification. Implementations should be non-blocking
	// and handle errors gracefully (log, don't crash).
	Notify(ctx context.Context, event Event) error
}
