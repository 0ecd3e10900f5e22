package pipeline

import (
	"context"
	"fmt"
	"strings"

	llm "github.com/randalmurphal/llmkit/claude"

	medcontext "github.com/randalmurphal/medflow/context"
	"github.com/randalmurphal/medflow/crossval"
	"github.com/randalmurphal/medflow/document"
	medErrors "github.com/randalmurphal/medflow/errors"
	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/state"
)

// Default processing node names.
const (
	NodeSignalProcessing    = "signal-processing"
	NodeImagingAnalysis     = "imaging-analysis"
	NodeDiagnosesExtraction = "diagnoses-extraction"
	NodeMedicationReview    = "medication-review"
	NodeImmunizationHistory = "immunization-history"
	NodeAllergyScreen       = "allergy-screen"
	NodeDiagnosisCoding     = "diagnosis-coding"
	NodeReportComposition   = "report-composition"
)

// DefaultRegistry builds the standard set of specialized processing nodes.
// Extraction nodes share priority 10 and run concurrently; composition nodes
// run at priority 20 and observe the merged extraction output.
func DefaultRegistry() (*node.Registry, error) {
	return node.NewRegistry(
		node.Definition{
			Name:        NodeSignalProcessing,
			Description: "Extracts vitals and lab values",
			Triggers:    []string{document.FlagHasSignals},
			Priority:    10,
			Func:        extractSignals,
		},
		node.Definition{
			Name:        NodeImagingAnalysis,
			Description: "Extracts imaging modality, body parts and findings",
			Triggers:    []string{document.FlagHasImaging},
			Priority:    10,
			Func:        analyzeImaging,
		},
		node.Definition{
			Name:        NodeDiagnosesExtraction,
			Description: "Extracts named conditions",
			Triggers:    []string{document.FlagHasDiagnoses},
			Priority:    10,
			Func:        extractDiagnoses,
		},
		node.Definition{
			Name:        NodeMedicationReview,
			Description: "Extracts prescriptions with dosage",
			Triggers:    []string{document.FlagHasPrescriptions},
			Priority:    10,
			Func:        reviewMedication,
		},
		node.Definition{
			Name:        NodeImmunizationHistory,
			Description: "Extracts vaccination history",
			Triggers:    []string{document.FlagHasImmunizations},
			Priority:    10,
			Func:        extractImmunizations,
		},
		node.Definition{
			Name:        NodeAllergyScreen,
			Description: "Extracts allergies and intolerances",
			Triggers:    []string{document.FlagHasAllergies},
			Priority:    10,
			Func:        screenAllergies,
		},
		node.Definition{
			Name:         NodeDiagnosisCoding,
			Description:  "Assigns ICD-10 codes to extracted diagnoses",
			Triggers:     []string{document.FlagHasDiagnoses},
			Priority:     20,
			Dependencies: []string{NodeDiagnosesExtraction},
			Func:         codeDiagnoses,
		},
		node.Definition{
			Name:        NodeReportComposition,
			Description: "Composes the patient-facing report summary",
			Triggers:    []string{document.FlagIsMedical},
			Priority:    20,
			Func:        composeReport,
		},
	)
}

// =============================================================================
// Extraction Nodes (priority 10)
// =============================================================================

func extractSignals(ctx context.Context, snap *state.State) (state.Update, error) {
	var out struct {
		Signals    []document.Signal `json:"signals"`
		Confidence float64           `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, formatExtractionPrompt(snap,
		"all measured vitals and laboratory values",
		`{"signals": [{"name": "...", "value": "...", "unit": "...", "refRange": "...", "date": "..."}], "confidence": 0.0-1.0}`), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	entries := make([]any, 0, len(out.Signals))
	for _, s := range out.Signals {
		entries = append(entries, s)
	}

	return state.Update{
		state.ChannelSignals:   entries,
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeSignalProcessing,
			Flag:       document.FlagHasSignals,
			Value:      len(out.Signals) > 0,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

func analyzeImaging(ctx context.Context, snap *state.State) (state.Update, error) {
	var out struct {
		Modality   string   `json:"modality"`
		BodyParts  []string `json:"bodyParts"`
		Findings   []string `json:"findings"`
		Confidence float64  `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, formatExtractionPrompt(snap,
		"imaging metadata: modality, examined body parts and findings",
		`{"modality": "...", "bodyParts": ["..."], "findings": ["..."], "confidence": 0.0-1.0}`), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	imaging := map[string]any{
		"modality":  out.Modality,
		"bodyParts": toAnySlice(out.BodyParts),
		"findings":  toAnySlice(out.Findings),
	}

	return state.Update{
		state.ChannelImaging:   imaging,
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeImagingAnalysis,
			Flag:       document.FlagHasImaging,
			Value:      out.Modality != "" || len(out.BodyParts) > 0,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

func extractDiagnoses(ctx context.Context, snap *state.State) (state.Update, error) {
	var out struct {
		Diagnoses  []document.Diagnosis `json:"diagnoses"`
		Confidence float64              `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, formatExtractionPrompt(snap,
		"all named conditions and diagnoses",
		`{"diagnoses": [{"name": "...", "code": "ICD-10 if stated", "status": "...", "bodyParts": ["..."]}], "confidence": 0.0-1.0}`), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	entries := make([]any, 0, len(out.Diagnoses))
	for _, d := range out.Diagnoses {
		entries = append(entries, d)
	}

	return state.Update{
		state.ChannelDiagnoses: entries,
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeDiagnosesExtraction,
			Flag:       document.FlagHasDiagnoses,
			Value:      len(out.Diagnoses) > 0,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

func reviewMedication(ctx context.Context, snap *state.State) (state.Update, error) {
	var out struct {
		Prescriptions []document.Prescription `json:"prescriptions"`
		Confidence    float64                 `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, formatExtractionPrompt(snap,
		"all prescribed medications with dosage and frequency",
		`{"prescriptions": [{"medication": "...", "dosage": "...", "frequency": "..."}], "confidence": 0.0-1.0}`), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	return state.Update{
		state.ChannelReport:    map[string]any{"prescriptions": toAnySlice(out.Prescriptions)},
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeMedicationReview,
			Flag:       document.FlagHasPrescriptions,
			Value:      len(out.Prescriptions) > 0,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

func extractImmunizations(ctx context.Context, snap *state.State) (state.Update, error) {
	var out struct {
		Immunizations []document.Immunization `json:"immunizations"`
		Confidence    float64                 `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, formatExtractionPrompt(snap,
		"the vaccination history",
		`{"immunizations": [{"vaccine": "...", "date": "..."}], "confidence": 0.0-1.0}`), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	return state.Update{
		state.ChannelReport:    map[string]any{"immunizations": toAnySlice(out.Immunizations)},
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeImmunizationHistory,
			Flag:       document.FlagHasImmunizations,
			Value:      len(out.Immunizations) > 0,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

func screenAllergies(ctx context.Context, snap *state.State) (state.Update, error) {
	var out struct {
		Allergies  []document.Allergy `json:"allergies"`
		Confidence float64            `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, formatExtractionPrompt(snap,
		"all allergies and intolerances",
		`{"allergies": [{"substance": "...", "reaction": "...", "severity": "..."}], "confidence": 0.0-1.0}`), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	return state.Update{
		state.ChannelReport:    map[string]any{"allergies": toAnySlice(out.Allergies)},
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeAllergyScreen,
			Flag:       document.FlagHasAllergies,
			Value:      len(out.Allergies) > 0,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

// =============================================================================
// Composition Nodes (priority 20)
// =============================================================================

// codeDiagnoses assigns ICD-10 codes to the diagnoses extracted in the
// earlier group. It observes the merged diagnoses channel through its
// snapshot.
func codeDiagnoses(ctx context.Context, snap *state.State) (state.Update, error) {
	var names []string
	for _, entry := range snap.List(state.ChannelDiagnoses) {
		if d, ok := entry.(document.Diagnosis); ok && d.Code == "" {
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return state.Update{}, nil
	}

	var b strings.Builder
	b.WriteString("Assign the most specific ICD-10 code to each diagnosis:\n\n")
	for _, n := range names {
		b.WriteString(fmt.Sprintf("- %s\n", n))
	}
	b.WriteString("\nRespond with a JSON object:\n```json\n")
	b.WriteString(`{"codes": {"diagnosis name": "ICD-10 code"}}`)
	b.WriteString("\n```\n")

	var out struct {
		Codes map[string]string `json:"codes"`
	}
	in, outTok, err := completeJSON(ctx, b.String(), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	codes := make(map[string]any, len(out.Codes))
	for name, code := range out.Codes {
		codes[name] = code
	}

	return state.Update{
		state.ChannelReport:    map[string]any{"diagnosisCodes": codes},
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
	}, nil
}

// composeReport writes the patient-facing summary from everything the
// extraction group produced.
func composeReport(ctx context.Context, snap *state.State) (state.Update, error) {
	var b strings.Builder
	b.WriteString("Compose a short patient-facing summary of this medical document.\n\n")
	b.WriteString("## Document\n\n```\n")
	b.WriteString(snap.String(state.ChannelDocument))
	b.WriteString("\n```\n\n")
	if n := snap.Len(state.ChannelSignals); n > 0 {
		b.WriteString(fmt.Sprintf("%d measured values were extracted.\n", n))
	}
	if n := snap.Len(state.ChannelDiagnoses); n > 0 {
		b.WriteString(fmt.Sprintf("%d diagnoses were extracted.\n", n))
	}
	b.WriteString("\nRespond with a JSON object:\n```json\n")
	b.WriteString(`{"title": "...", "summary": "...", "confidence": 0.0-1.0}`)
	b.WriteString("\n```\n")

	var out struct {
		Title      string  `json:"title"`
		Summary    string  `json:"summary"`
		Confidence float64 `json:"confidence"`
	}
	in, outTok, err := completeJSON(ctx, b.String(), &out)
	if err != nil {
		return tokenUsage(in, outTok), err
	}

	return state.Update{
		state.ChannelReport: map[string]any{
			"title":   out.Title,
			"summary": out.Summary,
		},
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: outTok,
		state.ChannelRefinements: crossval.Vote{
			Node:       NodeReportComposition,
			Flag:       document.FlagIsMedical,
			Value:      true,
			Confidence: voteConfidence(out.Confidence),
		},
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

const extractionSystemPrompt = "You are a medical information extraction " +
	"engine. Extract only what the document states; never invent values. " +
	"Answer only with the requested JSON object, no prose."

// completeJSON runs one provider call and parses the fenced JSON reply.
// A parse failure is reported as malformed output, which the dispatcher
// degrades to a node error without aborting siblings.
func completeJSON(ctx context.Context, prompt string, v any) (int, int, error) {
	client := medcontext.LLM(ctx)
	if client == nil {
		return 0, 0, fmt.Errorf("llm.Client not found in context")
	}

	result, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return 0, 0, err
	}

	if err := parseJSONBlock(result.Content, v); err != nil {
		return result.Usage.InputTokens, result.Usage.OutputTokens,
			fmt.Errorf("%w: %v", medErrors.ErrMalformedOutput, err)
	}
	return result.Usage.InputTokens, result.Usage.OutputTokens, nil
}

// formatExtractionPrompt creates a section extraction prompt
func formatExtractionPrompt(snap *state.State, what, schema string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Extract %s from this medical document.\n\n", what))
	b.WriteString("## Document\n\n```\n")
	b.WriteString(snap.String(state.ChannelDocument))
	b.WriteString("\n```\n\n")
	if lang := snap.String(state.ChannelLanguage); lang != "" && lang != "en" {
		b.WriteString(fmt.Sprintf("The document language is %q; keep values verbatim.\n\n", lang))
	}
	b.WriteString("Respond with a JSON object:\n```json\n")
	b.WriteString(schema)
	b.WriteString("\n```\n")
	return b.String()
}

// tokenUsage carries provider usage out of a failed call so degraded runs
// still account their spend. Nil when nothing was consumed.
func tokenUsage(in, out int) state.Update {
	if in == 0 && out == 0 {
		return nil
	}
	return state.Update{
		state.ChannelTokensIn:  in,
		state.ChannelTokensOut: out,
	}
}

// voteConfidence clamps a model-reported confidence into a usable vote
// weight. A missing confidence gets a conservative default rather than zero,
// which would silently erase the vote.
func voteConfidence(c float64) float64 {
	if c <= 0 {
		return 0.6
	}
	if c > 1 {
		return 1
	}
	return c
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
