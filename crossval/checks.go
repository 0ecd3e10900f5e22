package crossval

import (
	"fmt"

	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/state"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Issue describes one inconsistency found between related sections.
type Issue struct {
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Flags    []string `json:"flags,omitempty"` // implicated feature flags
}

// ValidationResult is the outcome of one schema-dependency check.
type ValidationResult struct {
	Check       string   `json:"check"`
	IsValid     bool     `json:"isValid"`
	Confidence  float64  `json:"confidence"`
	Issues      []Issue  `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Insights collects all check results with the derived consistency score.
type Insights struct {
	Results            []ValidationResult `json:"results,omitempty"`
	OverallConsistency float64            `json:"overallConsistency"`
}

// Check is one independent consistency check between logically related
// sections of the merged state.
type Check func(st *state.State) ValidationResult

// validate runs every check and computes overall consistency as the
// fraction of checks that passed.
func (a *Aggregator) validate(st *state.State) Insights {
	insights := Insights{OverallConsistency: 1}
	if len(a.checks) == 0 || st == nil {
		return insights
	}

	valid := 0
	for _, check := range a.checks {
		result := check(st)
		if result.IsValid {
			valid++
		}
		insights.Results = append(insights.Results, result)
	}
	insights.OverallConsistency = float64(valid) / float64(len(a.checks))
	return insights
}

// DefaultChecks returns the consistency checks between the standard report
// sections.
func DefaultChecks() []Check {
	return []Check{
		CheckDiagnosisBodyParts,
		CheckPrescriptionsHaveDiagnoses,
		CheckSignalsHaveValues,
	}
}

// CheckDiagnosisBodyParts verifies that body parts referenced by diagnoses
// are consistent with the imaging metadata when imaging is present.
func CheckDiagnosisBodyParts(st *state.State) ValidationResult {
	result := ValidationResult{Check: "diagnosis-body-parts", IsValid: true, Confidence: 0.9}

	imaging := st.Object(state.ChannelImaging)
	if len(imaging) == 0 {
		return result
	}
	imaged := make(map[string]bool)
	if parts, ok := imaging["bodyParts"].([]any); ok {
		for _, p := range parts {
			if s, ok := p.(string); ok {
				imaged[s] = true
			}
		}
	}
	if len(imaged) == 0 {
		return result
	}

	for _, entry := range st.List(state.ChannelDiagnoses) {
		diag, ok := entry.(document.Diagnosis)
		if !ok {
			continue
		}
		for _, part := range diag.BodyParts {
			if !imaged[part] {
				result.IsValid = false
				result.Confidence = 0.6
				result.Issues = append(result.Issues, Issue{
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("diagnosis %q references body part %q absent from imaging metadata", diag.Name, part),
					Flags:    []string{document.FlagHasDiagnoses, document.FlagHasImaging},
				})
				result.Suggestions = append(result.Suggestions,
					fmt.Sprintf("verify body part %q against the imaging section", part))
			}
		}
	}
	return result
}

// CheckPrescriptionsHaveDiagnoses flags prescription sections with no
// diagnosis context anywhere in the report.
func CheckPrescriptionsHaveDiagnoses(st *state.State) ValidationResult {
	result := ValidationResult{Check: "prescriptions-have-diagnoses", IsValid: true, Confidence: 0.8}

	report := st.Object(state.ChannelReport)
	prescriptions, _ := report["prescriptions"].([]any)
	if len(prescriptions) == 0 {
		return result
	}

	if st.Len(state.ChannelDiagnoses) == 0 {
		result.IsValid = false
		result.Confidence = 0.5
		result.Issues = append(result.Issues, Issue{
			Severity: SeverityWarning,
			Message:  "prescriptions present without any diagnosis",
			Flags:    []string{document.FlagHasPrescriptions},
		})
		result.Suggestions = append(result.Suggestions,
			"check whether a diagnosis section was missed by detection")
	}
	return result
}

// CheckSignalsHaveValues verifies extracted signals carry a value; a signal
// without one indicates a hallucinated or truncated extraction and is
// treated as critical.
func CheckSignalsHaveValues(st *state.State) ValidationResult {
	result := ValidationResult{Check: "signals-have-values", IsValid: true, Confidence: 0.9}

	for _, entry := range st.List(state.ChannelSignals) {
		sig, ok := entry.(document.Signal)
		if !ok {
			continue
		}
		if sig.Name == "" || sig.Value == "" {
			result.IsValid = false
			result.Confidence = 0.4
			result.Issues = append(result.Issues, Issue{
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("signal %q has no value", sig.Name),
				Flags:    []string{document.FlagHasSignals},
			})
		}
	}
	return result
}
