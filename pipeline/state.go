package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/randalmurphal/medflow/crossval"
	"github.com/randalmurphal/medflow/dispatch"
	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/state"
)

// Pipeline stage names. Stage transitions are recorded and reported in
// progress events under these names.
const (
	StageInputValidation     = "input_validation"
	StageDocumentTypeRouting = "document_type_routing"
	StageProviderSelection   = "provider_selection"
	StageFeatureDetection    = "feature_detection"
	StageDispatch            = "dispatch"
	StageResultsAggregation  = "results_aggregation"
	StageCrossValidation     = "cross_validation"
	StageMedicalTerms        = "medical_terms_generation"
	StageExternalValidation  = "external_validation"
	StageQualityGate         = "quality_gate"
	StageError               = "error"
)

// =============================================================================
// RunState - Full Analysis Run State
// =============================================================================

// RunState is the complete state for one document analysis run, threaded
// through the pipeline graph. The channel state inside it is only ever
// written by the dispatcher and the stage nodes, never by processing nodes
// directly.
type RunState struct {
	// Identification
	RunID      string `json:"runId"`
	DocumentID string `json:"documentId"`

	// Input
	Document document.Document `json:"document"`

	// Stage outputs
	DocumentType string                     `json:"documentType,omitempty"`
	Provider     string                     `json:"provider,omitempty"`
	Model        string                     `json:"model,omitempty"`
	Detection    *document.DetectionResult  `json:"detection,omitempty"`
	Summary      *dispatch.Summary          `json:"summary,omitempty"`
	Refinements  *crossval.Refinements      `json:"refinements,omitempty"`
	MedicalTerms []string                   `json:"medicalTerms,omitempty"`

	// Quality gate
	Accepted      bool    `json:"accepted"`
	CoverageScore float64 `json:"coverageScore"`

	// Channel state (not part of the JSON surface; its values are exposed
	// through FinalResult)
	Channels *state.State `json:"-"`

	// Execution tracking
	Stage     string    `json:"stage,omitempty"`
	StartTime time.Time `json:"startTime"`
	Error     string    `json:"error,omitempty"`

	// dispatchResult carries per-node outcomes between the dispatch and
	// aggregation stages.
	dispatchResult *dispatch.Result
}

// NewRunState creates the state for a fresh analysis run.
func NewRunState(doc document.Document) RunState {
	return RunState{
		RunID:      generateRunID(),
		DocumentID: doc.ID,
		Document:   doc,
		Channels:   state.New(state.DefaultSchema()),
		StartTime:  time.Now(),
	}
}

// WithRunID sets a custom run ID
func (s RunState) WithRunID(runID string) RunState {
	s.RunID = runID
	return s
}

// SetError sets the error state
func (s *RunState) SetError(err error) {
	if err != nil {
		s.Error = err.Error()
	}
}

// HasError returns true if state has an error
func (s RunState) HasError() bool {
	return s.Error != ""
}

// TokensIn returns total input tokens consumed so far.
func (s RunState) TokensIn() int {
	return s.Channels.Sum(state.ChannelTokensIn)
}

// TokensOut returns total output tokens generated so far.
func (s RunState) TokensOut() int {
	return s.Channels.Sum(state.ChannelTokensOut)
}

// FinalResult flattens the run into the JSON-serializable result object
// recorded at pipeline end and handed to downstream consumers.
func (s RunState) FinalResult() map[string]any {
	result := map[string]any{
		"runId":         s.RunID,
		"documentId":    s.DocumentID,
		"documentType":  s.DocumentType,
		"stage":         s.Stage,
		"accepted":      s.Accepted,
		"coverageScore": s.CoverageScore,
	}
	if s.Error != "" {
		result["error"] = s.Error
	}
	if s.Detection != nil {
		result["detection"] = *s.Detection
	}
	if s.Summary != nil {
		result["summary"] = *s.Summary
	}
	if s.Refinements != nil {
		result["refinements"] = *s.Refinements
	}
	if len(s.MedicalTerms) > 0 {
		result["medicalTerms"] = s.MedicalTerms
	}
	if s.Channels != nil {
		result["channels"] = s.Channels.Values()
	}
	return result
}

// Summary line for logs.
func (s RunState) String() string {
	status := "pending"
	switch {
	case s.Error != "":
		status = "failed"
	case s.Accepted:
		status = "accepted"
	case s.Summary != nil:
		status = "aggregated"
	case s.Detection != nil:
		status = "detected"
	}
	return fmt.Sprintf("Run %s [%s]: doc %s (tokens: %d in, %d out)",
		s.RunID, status, s.DocumentID, s.TokensIn(), s.TokensOut())
}

// generateRunID creates a unique run ID
func generateRunID() string {
	timestamp := time.Now().Format("2006-01-02")
	return fmt.Sprintf("%s-analyze-%s", timestamp, randomSuffix(4))
}

// randomSuffix generates a random hex suffix
func randomSuffix(bytes int) string {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based suffix on entropy failure
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
