// Package pipeline drives one document through the full analysis graph.
//
// Stages run in a fixed order: input validation, document type routing,
// provider selection, feature detection, specialized fan-out (dispatch),
// results aggregation, cross-validation, medical term generation, optional
// external validation, and the quality gate. Feature detection gates the
// fan-out: documents that are neither tagged medical nor above the
// configured confidence threshold terminate through the error stage without
// any specialized processing.
//
// Example usage:
//
//	cfg := config.Default()
//	p, _ := pipeline.New(cfg)
//
//	ctx := medcontext.WithLLM(context.Background(), client)
//	result, err := p.Run(ctx, document.New("labs.pdf", content))
package pipeline
