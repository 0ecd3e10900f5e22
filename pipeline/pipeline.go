package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph"

	"github.com/randalmurphal/medflow/config"
	medcontext "github.com/randalmurphal/medflow/context"
	"github.com/randalmurphal/medflow/crossval"
	"github.com/randalmurphal/medflow/document"
	medErrors "github.com/randalmurphal/medflow/errors"
	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/notify"
	"github.com/randalmurphal/medflow/recording"
)

// PhaseAnalyze is the recording phase name for document analysis runs.
const PhaseAnalyze = "analyze"

// Pipeline drives one document through the full analysis graph: validation,
// routing, detection, specialized fan-out, aggregation, cross-validation and
// the quality gate. It is safe for concurrent Run calls; all per-run state
// lives in RunState.
type Pipeline struct {
	cfg        config.Config
	registry   *node.Registry
	aggregator *crossval.Aggregator
	store      *recording.FileStore
	notifier   notify.Notifier
	log        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRegistry replaces the default processing-node registry.
func WithRegistry(reg *node.Registry) Option {
	return func(p *Pipeline) { p.registry = reg }
}

// WithChecks replaces the default cross-validation consistency checks.
func WithChecks(checks ...crossval.Check) Option {
	return func(p *Pipeline) { p.aggregator = crossval.New(checks...) }
}

// WithStore enables run recording to the given store.
func WithStore(store *recording.FileStore) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithNotifier sets the run-event notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// New creates a pipeline with the default registry and checks. Run events go
// to the configured webhook when cfg.WebhookURL is set; WithNotifier
// overrides that.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:        cfg,
		aggregator: crossval.New(crossval.DefaultChecks()...),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		reg, err := DefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("build default registry: %w", err)
		}
		p.registry = reg
	}
	if p.notifier == nil {
		p.notifier = defaultNotifier(cfg, p.log)
	}
	return p, nil
}

// NewRecorded creates a pipeline that records every run to the configured
// recordings directory, plus the lifecycle manager enforcing the configured
// retention on that directory.
func NewRecorded(cfg config.Config, opts ...Option) (*Pipeline, *recording.LifecycleManager, error) {
	store, lifecycle, err := recording.OpenConfigured(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open recordings store: %w", err)
	}
	p, err := New(cfg, append(opts, WithStore(store))...)
	if err != nil {
		return nil, nil, err
	}
	return p, lifecycle, nil
}

// defaultNotifier builds the run notifier from configuration: the webhook
// when one is set, nothing otherwise.
func defaultNotifier(cfg config.Config, log *slog.Logger) notify.Notifier {
	if cfg.WebhookURL == "" {
		return notify.NopNotifier{}
	}
	return notify.NewMultiNotifier(
		notify.NewLogNotifier(log),
		notify.NewWebhookNotifier(cfg.WebhookURL, nil),
	)
}

// Run analyzes one document end to end. The returned state carries the
// aggregated result even when the run failed partway; err is non-nil only for
// fatal failures (invalid input, routing rejection, cancellation).
//
// The LLM client must be injected via medflow/context before calling. The
// same context can carry per-run overrides: a recording store (used when the
// pipeline has none), a notifier and a node registry.
func (p *Pipeline) Run(ctx context.Context, doc document.Document) (RunState, error) {
	st := NewRunState(doc)
	st.Provider = p.cfg.Provider

	store := p.store
	if store == nil {
		store = medcontext.RecordingStore(ctx)
	}

	var recorder *recording.Recorder
	if store != nil {
		rec, err := store.StartRecording(PhaseAnalyze, map[string]any{
			"documentId": doc.ID,
			"filename":   doc.Filename,
		})
		if err != nil {
			return st, fmt.Errorf("start recording: %w", err)
		}
		recorder = rec
		ctx = medcontext.WithRecorder(ctx, recorder)
	}

	p.notify(ctx, notify.Event{
		Type:       notify.EventRunStarted,
		RunID:      st.RunID,
		DocumentID: doc.ID,
		Message:    fmt.Sprintf("analysis started for %s", doc.Filename),
		Severity:   notify.SeverityInfo,
		Timestamp:  time.Now(),
	})

	final, runErr := p.execute(ctx, st)

	if recorder != nil {
		status := recording.StatusCompleted
		switch {
		case medErrors.IsCanceled(runErr):
			status = recording.StatusCanceled
		case runErr != nil:
			status = recording.StatusFailed
		}
		if err := recorder.Finish(status, final.FinalResult()); err != nil {
			p.log.Error("failed to seal recording", "runId", final.RunID, "error", err)
		}
	}

	p.notifyOutcome(ctx, final, runErr)
	return final, runErr
}

// execute builds and runs the stage graph.
func (p *Pipeline) execute(ctx context.Context, st RunState) (RunState, error) {
	graph := flowgraph.NewGraph[RunState]().
		AddNode(StageInputValidation, p.validateInput).
		AddNode(StageDocumentTypeRouting, p.routeDocumentType).
		AddNode(StageProviderSelection, p.selectProvider).
		AddNode(StageFeatureDetection, p.detectFeatures).
		AddNode(StageError, p.rejectDocument).
		AddNode(StageDispatch, p.dispatchNodes).
		AddNode(StageResultsAggregation, p.aggregateResults).
		AddNode(StageCrossValidation, p.crossValidate).
		AddNode(StageMedicalTerms, p.generateTerms).
		AddNode(StageExternalValidation, p.externalValidation).
		AddNode(StageQualityGate, p.qualityGate).
		AddEdge(StageInputValidation, StageDocumentTypeRouting).
		AddEdge(StageDocumentTypeRouting, StageProviderSelection).
		AddEdge(StageProviderSelection, StageFeatureDetection).
		AddConditionalEdge(StageFeatureDetection, p.detectionRouter).
		AddEdge(StageError, flowgraph.END).
		AddEdge(StageDispatch, StageResultsAggregation).
		AddEdge(StageResultsAggregation, StageCrossValidation).
		AddEdge(StageCrossValidation, StageMedicalTerms).
		AddConditionalEdge(StageMedicalTerms, p.validationRouter).
		AddEdge(StageExternalValidation, StageQualityGate).
		AddEdge(StageQualityGate, flowgraph.END).
		SetEntry(StageInputValidation)

	compiled, err := graph.Compile()
	if err != nil {
		return st, fmt.Errorf("compile pipeline graph: %w", err)
	}

	fgCtx := flowgraph.NewContext(ctx)
	return compiled.Run(fgCtx, st)
}

// detectionRouter gates the fan-out on detection output. A document proceeds
// when detection tags it medical or clears the confidence threshold;
// otherwise the run terminates through the error stage with no processing
// steps executed.
func (p *Pipeline) detectionRouter(_ flowgraph.Context, st RunState) string {
	if st.Detection == nil {
		return StageError
	}
	if st.Detection.IsMedical() || st.Detection.Confidence > p.cfg.DetectionThreshold {
		return StageDispatch
	}
	return StageError
}

// validationRouter skips the external validation stage when configured off.
func (p *Pipeline) validationRouter(_ flowgraph.Context, st RunState) string {
	if p.cfg.SkipExternalValidation {
		return StageQualityGate
	}
	return StageExternalValidation
}

func (p *Pipeline) notify(ctx context.Context, event notify.Event) {
	notifier := p.notifier
	if n := medcontext.Notifier(ctx); n != nil {
		notifier = n
	}
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, event); err != nil {
		p.log.Warn("notification failed", "type", event.Type, "error", err)
	}
}

func (p *Pipeline) notifyOutcome(ctx context.Context, st RunState, runErr error) {
	event := notify.Event{
		RunID:      st.RunID,
		DocumentID: st.DocumentID,
		Timestamp:  time.Now(),
		Metadata: map[string]any{
			"stage":         st.Stage,
			"coverageScore": st.CoverageScore,
			"tokensIn":      st.TokensIn(),
			"tokensOut":     st.TokensOut(),
		},
	}

	switch {
	case medErrors.IsRoutingError(runErr):
		event.Type = notify.EventDocumentRejected
		event.Message = runErr.Error()
		event.Severity = notify.SeverityWarning
	case runErr != nil:
		event.Type = notify.EventRunFailed
		event.Message = runErr.Error()
		event.Severity = notify.SeverityError
	default:
		event.Type = notify.EventRunCompleted
		event.Message = fmt.Sprintf("analysis completed, accepted=%t", st.Accepted)
		event.Severity = notify.SeverityInfo
	}
	p.notify(ctx, event)
}
