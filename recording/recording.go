package recording

import (
	"errors"
	"time"
)

// Recording errors
var (
	ErrRecordingNotFound = errors.New("recording not found")
	ErrRecordingExists   = errors.New("recording already exists")
	ErrRecordingSealed   = errors.New("recording already sealed")
	ErrReplayActive      = errors.New("recording has an active live session")
	ErrReplayExhausted   = errors.New("replay has no more steps")
)

// Status indicates the state of a recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// TokenUsage totals provider token consumption for a run.
type TokenUsage struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// StepRecord captures one executed node or pipeline stage. Immutable once
// appended. OutputDiff is the partial state update the step produced, which
// is all a replay needs to reconstruct state without re-invoking anything.
type StepRecord struct {
	NodeName    string         `json:"nodeName"`
	TimestampMs int64          `json:"timestampMs"`
	DurationMs  int64          `json:"durationMs"`
	Success     bool           `json:"success"`
	OutputDiff  map[string]any `json:"outputDiff,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
}

// NewStepRecord builds a step record from an execution outcome.
func NewStepRecord(nodeName string, startedAt time.Time, duration time.Duration, outputDiff map[string]any, errs ...error) StepRecord {
	rec := StepRecord{
		NodeName:    nodeName,
		TimestampMs: startedAt.UnixMilli(),
		DurationMs:  duration.Milliseconds(),
		Success:     true,
		OutputDiff:  outputDiff,
	}
	for _, err := range errs {
		if err != nil {
			rec.Errors = append(rec.Errors, err.Error())
			rec.Success = false
		}
	}
	return rec
}

// Recording is the durable log of a single run: ordered step records plus
// the final aggregated result. Created at pipeline start, sealed at pipeline
// end; a recording is never reused across runs.
type Recording struct {
	RecordingID     string         `json:"recordingId"`
	Phase           string         `json:"phase"`
	Input           map[string]any `json:"input,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	EndedAt         time.Time      `json:"endedAt,omitempty"`
	Status          Status         `json:"status"`
	Steps           []StepRecord   `json:"steps"`
	FinalResult     map[string]any `json:"finalResult,omitempty"`
	TotalTokenUsage TokenUsage     `json:"totalTokenUsage"`
}
