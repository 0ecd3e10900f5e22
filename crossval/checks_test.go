package crossval

import (
	"testing"

	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/state"
)

func newState(t *testing.T, updates ...state.Update) *state.State {
	t.Helper()
	st := state.New(state.DefaultSchema())
	for _, u := range updates {
		if err := st.Apply(u); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	return st
}

func TestCheckDiagnosisBodyParts_Consistent(t *testing.T) {
	st := newState(t,
		state.Update{state.ChannelImaging: map[string]any{"bodyParts": []any{"knee"}}},
		state.Update{state.ChannelDiagnoses: document.Diagnosis{Name: "Osteoarthritis", BodyParts: []string{"knee"}}},
	)

	result := CheckDiagnosisBodyParts(st)
	if !result.IsValid {
		t.Errorf("IsValid = false, issues = %v", result.Issues)
	}
}

func TestCheckDiagnosisBodyParts_Mismatch(t *testing.T) {
	st := newState(t,
		state.Update{state.ChannelImaging: map[string]any{"bodyParts": []any{"knee"}}},
		state.Update{state.ChannelDiagnoses: document.Diagnosis{Name: "Sinusitis", BodyParts: []string{"sinus"}}},
	)

	result := CheckDiagnosisBodyParts(st)
	if result.IsValid {
		t.Fatal("IsValid = true, want mismatch")
	}
	if len(result.Issues) != 1 || result.Issues[0].Severity != SeverityWarning {
		t.Errorf("Issues = %v, want one warning", result.Issues)
	}
	if len(result.Suggestions) == 0 {
		t.Error("expected a suggestion for the mismatch")
	}
}

func TestCheckDiagnosisBodyParts_NoImaging(t *testing.T) {
	st := newState(t,
		state.Update{state.ChannelDiagnoses: document.Diagnosis{Name: "X", BodyParts: []string{"knee"}}},
	)

	if result := CheckDiagnosisBodyParts(st); !result.IsValid {
		t.Errorf("IsValid = false without imaging, issues = %v", result.Issues)
	}
}

func TestCheckPrescriptionsHaveDiagnoses(t *testing.T) {
	st := newState(t,
		state.Update{state.ChannelReport: map[string]any{"prescriptions": []any{
			document.Prescription{Medication: "Metformin"},
		}}},
	)

	result := CheckPrescriptionsHaveDiagnoses(st)
	if result.IsValid {
		t.Fatal("IsValid = true, want warning for prescriptions without diagnoses")
	}
	if result.Issues[0].Severity != SeverityWarning {
		t.Errorf("severity = %q, want warning", result.Issues[0].Severity)
	}

	// Adding a diagnosis resolves it.
	if err := st.Apply(state.Update{state.ChannelDiagnoses: document.Diagnosis{Name: "Diabetes"}}); err != nil {
		t.Fatal(err)
	}
	if result := CheckPrescriptionsHaveDiagnoses(st); !result.IsValid {
		t.Errorf("IsValid = false after diagnosis added, issues = %v", result.Issues)
	}
}

func TestCheckSignalsHaveValues_Critical(t *testing.T) {
	st := newState(t,
		state.Update{state.ChannelSignals: []any{
			document.Signal{Name: "HbA1c", Value: "7.2"},
			document.Signal{Name: "Glucose", Value: ""},
		}},
	)

	result := CheckSignalsHaveValues(st)
	if result.IsValid {
		t.Fatal("IsValid = true, want critical issue")
	}
	if result.Issues[0].Severity != SeverityCritical {
		t.Errorf("severity = %q, want critical", result.Issues[0].Severity)
	}
}

func TestValidate_OverallConsistency(t *testing.T) {
	st := newState(t)
	pass := func(_ *state.State) ValidationResult { return ValidationResult{Check: "p", IsValid: true} }
	fail := func(_ *state.State) ValidationResult { return ValidationResult{Check: "f", IsValid: false} }

	insights := New(pass, pass, fail, fail).validate(st)
	if insights.OverallConsistency != 0.5 {
		t.Errorf("OverallConsistency = %v, want 0.5", insights.OverallConsistency)
	}
	if len(insights.Results) != 4 {
		t.Errorf("Results = %d, want 4", len(insights.Results))
	}
}
