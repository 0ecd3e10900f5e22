package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	llm "github.com/randalmurphal/llmkit/claude"

	"github.com/randalmurphal/medflow/config"
	medcontext "github.com/randalmurphal/medflow/context"
	"github.com/randalmurphal/medflow/crossval"
	"github.com/randalmurphal/medflow/document"
	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/notify"
	"github.com/randalmurphal/medflow/recording"
	"github.com/randalmurphal/medflow/state"
	"github.com/randalmurphal/medflow/testutil"
)

func newPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(config.Default(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestStageSpans_MonotonicAndComplete(t *testing.T) {
	order := []string{
		StageInputValidation, StageDocumentTypeRouting, StageProviderSelection,
		StageFeatureDetection, StageDispatch, StageResultsAggregation,
		StageCrossValidation, StageMedicalTerms, StageExternalValidation,
		StageQualityGate,
	}

	prevEnd := 0
	for _, stage := range order {
		span, ok := stageSpan[stage]
		if !ok {
			t.Fatalf("stage %q has no progress span", stage)
		}
		if span[0] != prevEnd {
			t.Errorf("stage %q starts at %d, want %d", stage, span[0], prevEnd)
		}
		if span[1] <= span[0] {
			t.Errorf("stage %q span %v is not increasing", stage, span)
		}
		prevEnd = span[1]
	}
	if prevEnd != 100 {
		t.Errorf("final stage ends at %d, want 100", prevEnd)
	}
}

func TestDetectionRouter(t *testing.T) {
	p := newPipeline(t)

	cases := []struct {
		name      string
		detection *document.DetectionResult
		want      string
	}{
		{"nil detection", nil, StageError},
		{"medical low confidence", &document.DetectionResult{
			Flags: document.Flags{document.FlagIsMedical: true}, Confidence: 0.2,
		}, StageDispatch},
		{"non-medical high confidence", &document.DetectionResult{
			Flags: document.Flags{}, Confidence: 0.9,
		}, StageDispatch},
		{"non-medical at threshold", &document.DetectionResult{
			Flags: document.Flags{}, Confidence: 0.5,
		}, StageError},
		{"non-medical below threshold", &document.DetectionResult{
			Flags: document.Flags{}, Confidence: 0.3,
		}, StageError},
	}
	for _, tc := range cases {
		st := RunState{Detection: tc.detection}
		if got := p.detectionRouter(nil, st); got != tc.want {
			t.Errorf("%s: router = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestValidationRouter(t *testing.T) {
	cfg := config.Default()
	cfg.SkipExternalValidation = true
	p, _ := New(cfg)
	if got := p.validationRouter(nil, RunState{}); got != StageQualityGate {
		t.Errorf("router with skip = %q, want quality gate", got)
	}

	cfg.SkipExternalValidation = false
	p, _ = New(cfg)
	if got := p.validationRouter(nil, RunState{}); got != StageExternalValidation {
		t.Errorf("router without skip = %q, want external validation", got)
	}
}

func TestClassifyDocumentType(t *testing.T) {
	cases := []struct {
		doc  document.Document
		want string
	}{
		{document.New("knee.pdf", testutil.ImagingReport), "imaging_report"},
		{document.New("labs.pdf", testutil.LabReport), "lab_report"},
		{document.New("letter.pdf", testutil.NonMedicalLetter), "general"},
		{document.New("vax.pdf", "Vaccination record: MMR 2020-01-01"), "immunization_record"},
	}
	for _, tc := range cases {
		if got := classifyDocumentType(tc.doc); got != tc.want {
			t.Errorf("classifyDocumentType(%s) = %q, want %q", tc.doc.Filename, got, tc.want)
		}
	}
}

func TestParseJSONBlock(t *testing.T) {
	var out struct {
		Terms []string `json:"terms"`
	}

	fenced := "Here you go:\n```json\n{\"terms\": [\"a\", \"b\"]}\n```\nanything after"
	if err := parseJSONBlock(fenced, &out); err != nil {
		t.Fatalf("parseJSONBlock(fenced) error = %v", err)
	}
	if len(out.Terms) != 2 {
		t.Errorf("Terms = %v, want 2 entries", out.Terms)
	}

	bare := `{"terms": ["x"]}`
	if err := parseJSONBlock(bare, &out); err != nil {
		t.Fatalf("parseJSONBlock(bare) error = %v", err)
	}

	if err := parseJSONBlock("no json here", &out); err == nil {
		t.Error("parseJSONBlock(prose) = nil, want error")
	}
}

func TestDefaultRegistry_Wiring(t *testing.T) {
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry() error = %v", err)
	}

	// Extraction nodes share a priority tier; composition runs after.
	extraction := []string{
		NodeSignalProcessing, NodeImagingAnalysis, NodeDiagnosesExtraction,
		NodeMedicationReview, NodeImmunizationHistory, NodeAllergyScreen,
	}
	for _, name := range extraction {
		def, ok := reg.Lookup(name)
		if !ok {
			t.Errorf("node %q not registered", name)
			continue
		}
		if def.Priority != 10 {
			t.Errorf("%s priority = %d, want 10", name, def.Priority)
		}
	}
	for _, name := range []string{NodeDiagnosisCoding, NodeReportComposition} {
		def, ok := reg.Lookup(name)
		if !ok {
			t.Errorf("node %q not registered", name)
			continue
		}
		if def.Priority != 20 {
			t.Errorf("%s priority = %d, want 20", name, def.Priority)
		}
	}

	coding, _ := reg.Lookup(NodeDiagnosisCoding)
	if len(coding.Dependencies) != 1 || coding.Dependencies[0] != NodeDiagnosesExtraction {
		t.Errorf("diagnosis-coding dependencies = %v", coding.Dependencies)
	}
}

func TestExtractSignals_EmitsVoteAndEntries(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses(testutil.SignalsReply(0.9,
		map[string]any{"name": "HbA1c", "value": "7.2", "unit": "%"},
		map[string]any{"name": "Glucose", "value": "142", "unit": "mg/dL"},
	))
	ctx := medcontext.WithLLM(context.Background(), mock)

	snap := state.New(state.DefaultSchema())
	if err := snap.Apply(state.Update{state.ChannelDocument: testutil.LabReport}); err != nil {
		t.Fatal(err)
	}

	update, err := extractSignals(ctx, snap)
	if err != nil {
		t.Fatalf("extractSignals() error = %v", err)
	}

	entries, ok := update[state.ChannelSignals].([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("signals update = %v, want 2 entries", update[state.ChannelSignals])
	}
	sig, ok := entries[0].(document.Signal)
	if !ok || sig.Name != "HbA1c" {
		t.Errorf("entry = %+v", entries[0])
	}

	vote, ok := update[state.ChannelRefinements].(crossval.Vote)
	if !ok {
		t.Fatalf("refinements update = %T, want crossval.Vote", update[state.ChannelRefinements])
	}
	if vote.Flag != document.FlagHasSignals || !vote.Value || vote.Confidence != 0.9 {
		t.Errorf("vote = %+v", vote)
	}
}

func TestExtractSignals_MalformedOutput(t *testing.T) {
	mock := llm.NewMockClient("I could not find any structured data, sorry.")
	ctx := medcontext.WithLLM(context.Background(), mock)

	snap := state.New(state.DefaultSchema())
	_, err := extractSignals(ctx, snap)
	if err == nil {
		t.Fatal("extractSignals() = nil error for prose output")
	}
	if !strings.Contains(err.Error(), "malformed") {
		t.Errorf("error = %v, want malformed output classification", err)
	}
}

func TestCodeDiagnoses_NoUncodedDiagnosesSkipsCall(t *testing.T) {
	mock := llm.NewMockClient("should not be called")
	ctx := medcontext.WithLLM(context.Background(), mock)

	snap := state.New(state.DefaultSchema())
	if err := snap.Apply(state.Update{state.ChannelDiagnoses: document.Diagnosis{Name: "X", Code: "E11.9"}}); err != nil {
		t.Fatal(err)
	}

	update, err := codeDiagnoses(ctx, snap)
	if err != nil {
		t.Fatalf("codeDiagnoses() error = %v", err)
	}
	if len(update) != 0 {
		t.Errorf("update = %v, want empty", update)
	}
	if mock.CallCount() != 0 {
		t.Errorf("CallCount() = %d, want 0", mock.CallCount())
	}
}

func TestNew_NotifierFromConfig(t *testing.T) {
	p := newPipeline(t)
	if _, ok := p.notifier.(notify.NopNotifier); !ok {
		t.Errorf("notifier without webhook = %T, want NopNotifier", p.notifier)
	}

	cfg := config.Default()
	cfg.WebhookURL = "https://hooks.example.test/runs"
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.notifier.(*notify.MultiNotifier); !ok {
		t.Errorf("notifier with webhook = %T, want MultiNotifier", p.notifier)
	}

	// An injected notifier wins over the configured webhook.
	p, err = New(cfg, WithNotifier(notify.NopNotifier{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := p.notifier.(notify.NopNotifier); !ok {
		t.Errorf("injected notifier = %T, want NopNotifier", p.notifier)
	}
}

func TestNewRecorded_OpensConfiguredStore(t *testing.T) {
	cfg := config.Default()
	cfg.RecordingsDir = filepath.Join(t.TempDir(), "recordings")
	cfg.RetentionDays = 10

	p, lifecycle, err := NewRecorded(cfg)
	if err != nil {
		t.Fatalf("NewRecorded() error = %v", err)
	}
	if p.store == nil {
		t.Fatal("pipeline has no store")
	}
	if lifecycle == nil {
		t.Fatal("lifecycle manager is nil")
	}
	if ids, err := p.store.List(); err != nil || len(ids) != 0 {
		t.Errorf("fresh store List() = %v, %v", ids, err)
	}
}

type capturingNotifier struct {
	events []notify.Event
}

func (c *capturingNotifier) Notify(_ context.Context, event notify.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestRun_ContextInjectedServices(t *testing.T) {
	// A run context can carry its own store, notifier and registry; the
	// pipeline uses them without any option wiring.
	store, err := recording.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg, err := node.NewRegistry(node.Definition{
		Name:        "summary-only",
		Description: "Composes the report summary",
		Triggers:    []string{document.FlagIsMedical},
		Priority:    10,
		Func:        composeReport,
	})
	if err != nil {
		t.Fatal(err)
	}
	capture := &capturingNotifier{}

	mock := llm.NewMockClient("").WithResponses(
		testutil.DetectionReply(map[string]bool{
			document.FlagIsMedical:  true,
			document.FlagHasSignals: true,
		}, 0.9, "lab_report", "en"),
		testutil.ReportReply("Results", "All good.", 0.9),
		testutil.TermsReply("HbA1c"),
	)

	ctx := medcontext.WithLLM(context.Background(), mock)
	ctx = medcontext.WithRecordingStore(ctx, store)
	ctx = medcontext.WithNotifier(ctx, capture)
	ctx = medcontext.WithRegistry(ctx, reg)

	p := newPipeline(t)
	st, err := p.Run(ctx, document.New("labs.pdf", testutil.LabReport))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The scoped registry replaced the default: no signal node ran even
	// though the flag was set.
	if len(st.Summary.ProcessedNodes) != 1 || st.Summary.ProcessedNodes[0] != "summary-only" {
		t.Errorf("ProcessedNodes = %v, want [summary-only]", st.Summary.ProcessedNodes)
	}

	ids, err := store.List()
	if err != nil || len(ids) != 1 {
		t.Fatalf("store.List() = %v, %v, want one recording", ids, err)
	}
	loaded, err := store.Load(ids[0])
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Status != recording.StatusCompleted {
		t.Errorf("Status = %q, want completed", loaded.Status)
	}

	if len(capture.events) < 2 {
		t.Fatalf("events = %d, want started and completed", len(capture.events))
	}
	if capture.events[0].Type != notify.EventRunStarted {
		t.Errorf("first event = %q", capture.events[0].Type)
	}
	if last := capture.events[len(capture.events)-1]; last.Type != notify.EventRunCompleted {
		t.Errorf("last event = %q", last.Type)
	}
}

func TestTokenUsage(t *testing.T) {
	if got := tokenUsage(0, 0); got != nil {
		t.Errorf("tokenUsage(0,0) = %v, want nil", got)
	}
	update := tokenUsage(12, 3)
	if update[state.ChannelTokensIn] != 12 || update[state.ChannelTokensOut] != 3 {
		t.Errorf("tokenUsage(12,3) = %v", update)
	}
}

func TestVoteConfidence(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0.6},
		{-1, 0.6},
		{0.85, 0.85},
		{1.7, 1},
	}
	for _, tc := range cases {
		if got := voteConfidence(tc.in); got != tc.want {
			t.Errorf("voteConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRunState_FinalResult(t *testing.T) {
	doc := document.New("labs.pdf", testutil.LabReport)
	st := NewRunState(doc).WithRunID("run-1")
	st.Stage = StageQualityGate
	st.Accepted = true
	st.CoverageScore = 0.9

	result := st.FinalResult()
	if result["runId"] != "run-1" {
		t.Errorf("runId = %v", result["runId"])
	}
	if result["accepted"] != true {
		t.Errorf("accepted = %v", result["accepted"])
	}
	if _, ok := result["channels"]; !ok {
		t.Error("channels missing from final result")
	}
	if _, ok := result["error"]; ok {
		t.Error("error key present without an error")
	}
}

func TestNewRunState(t *testing.T) {
	doc := document.New("labs.pdf", testutil.LabReport)
	st := NewRunState(doc)

	if st.RunID == "" {
		t.Error("RunID empty")
	}
	if st.DocumentID != doc.ID {
		t.Errorf("DocumentID = %q, want %q", st.DocumentID, doc.ID)
	}
	if st.Channels == nil {
		t.Fatal("Channels nil")
	}

	other := NewRunState(doc)
	if other.RunID == st.RunID {
		t.Error("two runs share a RunID")
	}
}
