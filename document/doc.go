// Package document holds the input document model and the vocabulary shared
// between feature detection and the processing nodes: feature flags,
// detection results, and the extracted medical fact types.
package document
