// Package medflow provides the orchestration engine for AI-assisted medical
// document analysis.
//
// The package is organized into subpackages by domain:
//
//   - document: document identity, validation and extracted fact types
//   - state: channel-based workflow state with declarative merge policies
//   - node: processing node registry and execution planning
//   - dispatch: concurrent fan-out over planned node groups
//   - crossval: confidence-weighted reconciliation of node outputs
//   - recording: run recording, replay and lifecycle management
//   - pipeline: the stage graph driving one document end to end
//   - task: task-based model selection
//   - progress: monotonic progress reporting
//   - notify: run-event notifications (webhook, log)
//   - config: hierarchical engine configuration
//   - context: service dependency injection
//   - errors: sentinel errors and failure classification
//   - testutil: test utilities and fixtures
//
// # Quick Start
//
//	import (
//	    "github.com/randalmurphal/medflow/config"
//	    medcontext "github.com/randalmurphal/medflow/context"
//	    "github.com/randalmurphal/medflow/document"
//	    "github.com/randalmurphal/medflow/pipeline"
//	)
//
//	cfg, _ := config.Load(".")
//	p, _ := pipeline.New(cfg)
//
//	ctx := medcontext.WithLLM(context.Background(), client)
//	result, err := p.Run(ctx, document.New("labs.pdf", content))
package medflow
