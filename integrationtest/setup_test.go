package integrationtest

import (
	"context"
	"testing"

	llm "github.com/randalmurphal/llmkit/claude"

	"github.com/randalmurphal/medflow/config"
	medcontext "github.com/randalmurphal/medflow/context"
	"github.com/randalmurphal/medflow/progress"
	"github.com/randalmurphal/medflow/testutil"
)

// mockResponses creates a mock LLM client that returns responses in sequence.
// Use it when the call order is deterministic, i.e. at most one node per
// dispatch group.
func mockResponses(responses ...string) *llm.MockClient {
	return llm.NewMockClient("").WithResponses(responses...)
}

// setupContext builds a run context with the mock client and a progress
// collector injected, the way the CLI wires a real run.
func setupContext(t *testing.T, client llm.Client) (context.Context, *progress.Collector) {
	t.Helper()
	collector := &progress.Collector{}
	ctx := medcontext.WithLLM(context.Background(), client)
	ctx = medcontext.WithProgress(ctx, collector)
	return ctx, collector
}

// testConfig returns the default config. External validation stays enabled so
// runs exercise the full stage sequence.
func testConfig() config.Config {
	cfg := config.Default()
	cfg.SkipExternalValidation = false
	return cfg
}

// labDetection is the canonical detection reply for testutil.LabReport runs
// that should fan out to signal processing and report composition only. With
// one node per dispatch group the mock call order stays deterministic:
// detection, signals, report, terms.
func labDetection() string {
	return testutil.DetectionReply(map[string]bool{
		"isMedical":  true,
		"hasSignals": true,
	}, 0.95, "lab_report", "en")
}
