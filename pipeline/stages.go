package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph"
	llm "github.com/randalmurphal/llmkit/claude"

	medcontext "github.com/randalmurphal/medflow/context"
	"github.com/randalmurphal/medflow/crossval"
	"github.com/randalmurphal/medflow/dispatch"
	"github.com/randalmurphal/medflow/document"
	medErrors "github.com/randalmurphal/medflow/errors"
	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/notify"
	"github.com/randalmurphal/medflow/progress"
	"github.com/randalmurphal/medflow/recording"
	"github.com/randalmurphal/medflow/state"
	"github.com/randalmurphal/medflow/task"
)

// acceptCoverage is the minimum quality-gate score for an accepted run.
const acceptCoverage = 0.5

// stageSpan assigns each stage a fixed progress sub-range, so the reported
// percentage is monotonic regardless of how long individual stages take.
var stageSpan = map[string][2]int{
	StageInputValidation:     {0, 5},
	StageDocumentTypeRouting: {5, 10},
	StageProviderSelection:   {10, 15},
	StageFeatureDetection:    {15, 70},
	StageDispatch:            {70, 85},
	StageResultsAggregation:  {85, 88},
	StageCrossValidation:     {88, 92},
	StageMedicalTerms:        {92, 95},
	StageExternalValidation:  {95, 98},
	StageQualityGate:         {98, 100},
}

// emitProgress reports fractional completion within the current stage's
// sub-range.
func (p *Pipeline) emitProgress(ctx context.Context, st RunState, fraction float64, message string) {
	span, ok := stageSpan[st.Stage]
	if !ok {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	medcontext.Progress(ctx).Emit(ctx, progress.Event{
		RunID:     st.RunID,
		Stage:     st.Stage,
		Percent:   span[0] + int(fraction*float64(span[1]-span[0])),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// recordStage appends one stage-boundary step to the live recording. The diff
// is the channel update the stage applied, so replay reconstructs the same
// channel state the live run produced.
func (p *Pipeline) recordStage(ctx context.Context, stage string, started time.Time, diff state.Update, stageErr error) {
	rec := medcontext.Recorder(ctx)
	if rec == nil {
		return
	}
	var d map[string]any
	if stageErr == nil && diff != nil {
		d = map[string]any(diff)
	}
	step := recording.NewStepRecord(stage, started, time.Since(started), d, stageErr)
	if err := rec.RecordStep(step); err != nil {
		p.log.Error("failed to record stage", "stage", stage, "error", err)
	}
}

// =============================================================================
// Stage Nodes
// =============================================================================

// validateInput rejects unanalyzable documents and seeds the channel state
// with the raw content and fallback language.
func (p *Pipeline) validateInput(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageInputValidation
	started := time.Now()

	if err := st.Document.Validate(); err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageInputValidation, started, nil, err)
		return st, err
	}

	lang := st.Document.Language
	if lang == "" {
		lang = p.cfg.Language
	}
	seed := state.Update{
		state.ChannelDocument: st.Document.Content,
		state.ChannelLanguage: document.NormalizeLanguage(lang),
	}
	if err := st.Channels.Apply(seed); err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageInputValidation, started, nil, err)
		return st, err
	}

	p.recordStage(ctx, StageInputValidation, started, seed, nil)
	p.emitProgress(ctx, st, 1, "input validated")
	return st, nil
}

// routeDocumentType classifies the document into a coarse category before
// detection. This is a cheap keyword pass; the detection stage can override
// it with the model's classification.
func (p *Pipeline) routeDocumentType(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageDocumentTypeRouting
	started := time.Now()

	st.DocumentType = classifyDocumentType(st.Document)

	p.recordStage(ctx, StageDocumentTypeRouting, started, nil, nil)
	p.emitProgress(ctx, st, 1, st.DocumentType)
	return st, nil
}

// selectProvider pins the run to a provider and picks the detection model.
func (p *Pipeline) selectProvider(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageProviderSelection
	started := time.Now()

	st.Provider = p.cfg.Provider
	st.Model = p.cfg.Model
	if st.Model == "" {
		st.Model = string(task.SelectModel(task.Detect))
	}

	seed := state.Update{state.ChannelProvider: st.Provider}
	if err := st.Channels.Apply(seed); err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageProviderSelection, started, nil, err)
		return st, err
	}

	p.recordStage(ctx, StageProviderSelection, started, seed, nil)
	p.emitProgress(ctx, st, 1, fmt.Sprintf("%s/%s", st.Provider, st.Model))
	return st, nil
}

// detectFeatures runs the feature-detection model call. Its output decides
// which specialized nodes run and whether the document proceeds at all.
func (p *Pipeline) detectFeatures(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageFeatureDetection
	started := time.Now()

	client := medcontext.LLM(ctx)
	if client == nil {
		return st, fmt.Errorf("llm.Client not found in context")
	}

	prompt := formatDetectionPrompt(st.Document, st.DocumentType)
	result, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: detectionSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageFeatureDetection, started, nil, err)
		return st, err
	}

	var out struct {
		Flags        map[string]bool `json:"flags"`
		Confidence   float64         `json:"confidence"`
		DocumentType string          `json:"documentType"`
		Language     string          `json:"language"`
	}
	if parseErr := parseJSONBlock(result.Content, &out); parseErr != nil {
		err := fmt.Errorf("%w: detection output: %v", medErrors.ErrMalformedOutput, parseErr)
		st.SetError(err)
		p.recordStage(ctx, StageFeatureDetection, started, nil, err)
		return st, err
	}
	if out.Flags == nil {
		out.Flags = map[string]bool{}
	}

	st.Detection = &document.DetectionResult{
		Flags:        out.Flags,
		Confidence:   out.Confidence,
		DocumentType: out.DocumentType,
		Language:     out.Language,
		TokensIn:     result.Usage.InputTokens,
		TokensOut:    result.Usage.OutputTokens,
	}
	if out.DocumentType != "" {
		st.DocumentType = out.DocumentType
	}

	update := state.Update{
		state.ChannelTokensIn:  result.Usage.InputTokens,
		state.ChannelTokensOut: result.Usage.OutputTokens,
	}
	if out.Language != "" {
		update[state.ChannelLanguage] = document.NormalizeLanguage(out.Language)
	}
	if err := st.Channels.Apply(update); err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageFeatureDetection, started, nil, err)
		return st, err
	}

	if rec := medcontext.Recorder(ctx); rec != nil {
		rec.AddTokenUsage(result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	p.recordStage(ctx, StageFeatureDetection, started, update, nil)
	p.emitProgress(ctx, st, 1, fmt.Sprintf("detected %s (%.2f)", strings.Join(st.Detection.Flags.Set(), ", "), out.Confidence))
	return st, nil
}

// rejectDocument is the terminal stage for documents that fail the detection
// guard. The run ends here; no processing node ever executes.
func (p *Pipeline) rejectDocument(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageError
	started := time.Now()

	confidence := 0.0
	if st.Detection != nil {
		confidence = st.Detection.Confidence
	}
	err := fmt.Errorf("%w: confidence %.2f at threshold %.2f",
		medErrors.ErrNotMedicalDocument, confidence, p.cfg.DetectionThreshold)
	st.SetError(err)

	p.recordStage(ctx, StageError, started, nil, err)
	return st, err
}

// dispatchNodes fans out to the specialized processing nodes selected by the
// detection flags. Node failures degrade coverage; only cancellation aborts.
func (p *Pipeline) dispatchNodes(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageDispatch
	started := time.Now()

	registry := p.registry
	if reg := medcontext.Registry(ctx); reg != nil {
		registry = reg
	}
	selected := registry.Select(st.Detection.Flags)
	plan := node.BuildPlan(selected)

	opts := []dispatch.Option{dispatch.WithLogger(p.log)}
	rec := medcontext.Recorder(ctx)
	if rec != nil {
		opts = append(opts, dispatch.WithRecorder(rec))
	}
	dispatcher := dispatch.New(opts...)

	tokensInBefore := st.Channels.Sum(state.ChannelTokensIn)
	tokensOutBefore := st.Channels.Sum(state.ChannelTokensOut)

	onProgress := func(completed, total int, nodeName string) {
		p.emitProgress(ctx, st, float64(completed)/float64(total), nodeName)
	}
	_, result := dispatcher.Execute(ctx, plan, st.Channels, onProgress)
	st.dispatchResult = result

	if rec != nil {
		rec.AddTokenUsage(
			st.Channels.Sum(state.ChannelTokensIn)-tokensInBefore,
			st.Channels.Sum(state.ChannelTokensOut)-tokensOutBefore)
	}

	if ctx.Err() != nil {
		err := fmt.Errorf("%w: %v", medErrors.ErrRunCanceled, ctx.Err())
		st.SetError(err)
		p.recordStage(ctx, StageDispatch, started, nil, err)
		return st, err
	}

	p.recordStage(ctx, StageDispatch, started, nil, nil)
	p.emitProgress(ctx, st, 1, fmt.Sprintf("%d nodes processed", len(result.Processed())))
	return st, nil
}

// aggregateResults condenses the merged channel state and dispatch outcomes
// into the run summary.
func (p *Pipeline) aggregateResults(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageResultsAggregation
	started := time.Now()

	result := st.dispatchResult
	if result == nil {
		result = &dispatch.Result{}
	}
	summary := dispatch.Summarize(st.Channels, result)
	st.Summary = &summary

	if summary.Marker != "" {
		p.log.Info("run finished without specialized processing", "runId", st.RunID)
	}

	p.recordStage(ctx, StageResultsAggregation, started, nil, nil)
	p.emitProgress(ctx, st, 1, "results aggregated")
	return st, nil
}

// crossValidate reconciles per-flag refinement votes against the detection
// output and merges the authoritative flag set into the report.
func (p *Pipeline) crossValidate(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageCrossValidation
	started := time.Now()

	var votes []crossval.Vote
	for _, entry := range st.Channels.List(state.ChannelRefinements) {
		if v, ok := entry.(crossval.Vote); ok {
			votes = append(votes, v)
		}
	}

	ref := p.aggregator.Aggregate(*st.Detection, votes, st.Channels)
	st.Refinements = &ref

	update := state.Update{
		state.ChannelReport: map[string]any{"flags": ref.FinalFlags.Clone()},
	}
	if err := st.Channels.Apply(update); err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageCrossValidation, started, nil, err)
		return st, err
	}

	p.recordStage(ctx, StageCrossValidation, started, update, nil)
	p.emitProgress(ctx, st, 1, fmt.Sprintf("%d flags, %d conflicts resolved",
		len(ref.FinalFlags), len(ref.ResolvedConflicts)))
	return st, nil
}

// generateTerms asks a fast model for search terms covering the extracted
// content. Terms are enrichment: a provider failure here degrades the run
// instead of failing it.
func (p *Pipeline) generateTerms(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageMedicalTerms
	started := time.Now()

	if st.Summary != nil && st.Summary.Marker != "" {
		p.recordStage(ctx, StageMedicalTerms, started, nil, nil)
		p.emitProgress(ctx, st, 1, "skipped, no content")
		return st, nil
	}

	client := medcontext.LLM(ctx)
	if client == nil {
		return st, fmt.Errorf("llm.Client not found in context")
	}

	result, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: termsSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: formatTermsPrompt(st.Channels)}},
	})
	if err != nil {
		p.log.Warn("term generation failed, continuing without terms", "runId", st.RunID, "error", err)
		p.recordStage(ctx, StageMedicalTerms, started, nil, err)
		p.emitProgress(ctx, st, 1, "terms unavailable")
		return st, nil
	}

	var out struct {
		Terms []string `json:"terms"`
	}
	if parseErr := parseJSONBlock(result.Content, &out); parseErr != nil {
		p.log.Warn("term generation output unparseable", "runId", st.RunID, "error", parseErr)
	}
	st.MedicalTerms = out.Terms

	update := state.Update{
		state.ChannelTokensIn:  result.Usage.InputTokens,
		state.ChannelTokensOut: result.Usage.OutputTokens,
	}
	if err := st.Channels.Apply(update); err != nil {
		st.SetError(err)
		p.recordStage(ctx, StageMedicalTerms, started, nil, err)
		return st, err
	}
	if rec := medcontext.Recorder(ctx); rec != nil {
		rec.AddTokenUsage(result.Usage.InputTokens, result.Usage.OutputTokens)
	}

	p.recordStage(ctx, StageMedicalTerms, started, update, nil)
	p.emitProgress(ctx, st, 1, fmt.Sprintf("%d terms", len(st.MedicalTerms)))
	return st, nil
}

// externalValidation verifies the refined flags against the produced
// sections. It is the integration point for terminology-service lookups and
// is skipped entirely when configured off.
func (p *Pipeline) externalValidation(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageExternalValidation
	started := time.Now()

	if st.Refinements != nil && st.Summary != nil {
		for flag, channel := range flagSections {
			if st.Refinements.FinalFlags[flag] && st.Summary.SectionCounts[channel] == 0 {
				p.log.Warn("refined flag has no backing section",
					"runId", st.RunID, "flag", flag, "channel", channel)
			}
		}
	}

	p.recordStage(ctx, StageExternalValidation, started, nil, nil)
	p.emitProgress(ctx, st, 1, "validated")
	return st, nil
}

// flagSections maps feature flags to the channel their content lands on.
var flagSections = map[string]string{
	document.FlagHasSignals:   state.ChannelSignals,
	document.FlagHasDiagnoses: state.ChannelDiagnoses,
	document.FlagHasImaging:   state.ChannelImaging,
}

// qualityGate scores the run. Coverage blends the fraction of planned nodes
// that succeeded with the average refined flag confidence.
func (p *Pipeline) qualityGate(ctx flowgraph.Context, st RunState) (RunState, error) {
	st.Stage = StageQualityGate
	started := time.Now()

	score := 1.0
	if st.Summary != nil {
		score = st.Summary.Coverage()
	}
	if st.Refinements != nil && len(st.Refinements.ConfidenceScores) > 0 {
		var sum float64
		for _, c := range st.Refinements.ConfidenceScores {
			sum += c
		}
		score = (score + sum/float64(len(st.Refinements.ConfidenceScores))) / 2
	}

	st.CoverageScore = score
	st.Accepted = !st.HasError() && score >= acceptCoverage

	if !st.Accepted {
		p.notify(ctx, notify.Event{
			Type:       notify.EventQualityGate,
			RunID:      st.RunID,
			DocumentID: st.DocumentID,
			Message:    fmt.Sprintf("quality gate rejected run, score %.2f", score),
			Severity:   notify.SeverityWarning,
			Timestamp:  time.Now(),
		})
	}

	p.recordStage(ctx, StageQualityGate, started, nil, nil)
	p.emitProgress(ctx, st, 1, fmt.Sprintf("accepted=%t score=%.2f", st.Accepted, score))
	return st, nil
}

// =============================================================================
// Prompts and Parsing
// =============================================================================

const detectionSystemPrompt = "You are a medical document classifier. " +
	"Answer only with the requested JSON object, no prose."

const termsSystemPrompt = "You are a medical terminology assistant. " +
	"Answer only with the requested JSON object, no prose."

// formatDetectionPrompt creates the feature detection prompt
func formatDetectionPrompt(doc document.Document, documentType string) string {
	var b strings.Builder
	b.WriteString("Classify this document and detect its medical content features.\n\n")
	if documentType != "" {
		b.WriteString(fmt.Sprintf("Preliminary category: %s\n\n", documentType))
	}
	b.WriteString("## Document\n\n```\n")
	b.WriteString(doc.Content)
	b.WriteString("\n```\n\n")
	b.WriteString("Respond with a JSON object:\n")
	b.WriteString("```json\n")
	b.WriteString(`{"flags": {"isMedical": true/false, "hasSignals": true/false, "hasImaging": true/false, "hasDiagnoses": true/false, "hasPrescriptions": true/false, "hasImmunizations": true/false, "hasAllergies": true/false}, "confidence": 0.0-1.0, "documentType": "...", "language": "ISO 639-1 code"}`)
	b.WriteString("\n```\n")
	return b.String()
}

// formatTermsPrompt creates the search term generation prompt
func formatTermsPrompt(st *state.State) string {
	var b strings.Builder
	b.WriteString("Generate medical search terms for the content extracted from a document.\n\n")

	if n := st.Len(state.ChannelSignals); n > 0 {
		b.WriteString("## Signals\n\n")
		for _, entry := range st.List(state.ChannelSignals) {
			if sig, ok := entry.(document.Signal); ok {
				b.WriteString(fmt.Sprintf("- %s: %s %s\n", sig.Name, sig.Value, sig.Unit))
			}
		}
		b.WriteString("\n")
	}
	if n := st.Len(state.ChannelDiagnoses); n > 0 {
		b.WriteString("## Diagnoses\n\n")
		for _, entry := range st.List(state.ChannelDiagnoses) {
			if diag, ok := entry.(document.Diagnosis); ok {
				b.WriteString(fmt.Sprintf("- %s (%s)\n", diag.Name, diag.Code))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with a JSON object:\n")
	b.WriteString("```json\n")
	b.WriteString(`{"terms": ["term1", "term2", ...]}`)
	b.WriteString("\n```\n")
	return b.String()
}

// parseJSONBlock extracts and parses JSON from model output, tolerating code
// fences around the object.
func parseJSONBlock(output string, v any) error {
	output = strings.TrimSpace(output)

	if start := strings.Index(output, "```json"); start != -1 {
		start += 7
		if end := strings.Index(output[start:], "```"); end != -1 {
			output = strings.TrimSpace(output[start : start+end])
		}
	} else if start := strings.Index(output, "```"); start != -1 {
		start += 3
		if end := strings.Index(output[start:], "```"); end != -1 {
			output = strings.TrimSpace(output[start : start+end])
		}
	}

	return json.Unmarshal([]byte(output), v)
}

// classifyDocumentType does a cheap keyword pass over the content. The
// detection model refines this; routing only needs a coarse category.
func classifyDocumentType(doc document.Document) string {
	text := strings.ToLower(doc.Filename + " " + doc.Content)
	switch {
	case containsAny(text, "x-ray", "mri", "ct scan", "ultrasound", "radiograph"):
		return "imaging_report"
	case containsAny(text, "lab result", "laboratory", "blood test", "hba1c", "reference range"):
		return "lab_report"
	case containsAny(text, "rx", "prescription", "dispense", "refill"):
		return "prescription"
	case containsAny(text, "discharge", "admission", "hospital course"):
		return "discharge_summary"
	case containsAny(text, "vaccination", "immunization", "vaccine"):
		return "immunization_record"
	default:
		return "general"
	}
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
