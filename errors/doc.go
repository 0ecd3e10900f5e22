// Package errors defines sentinel errors for the analysis engine and
// predicates for classifying failures by how they propagate: node and
// provider errors are recovered locally with degraded coverage, while
// routing and replay-integrity errors are fatal to the run.
package errors
