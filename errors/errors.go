package errors

import "errors"

// Common analysis errors with actionable guidance.
var (
	// ErrNotMedicalDocument indicates routing rejected the input: detection
	// confidence was below threshold and the is-medical flag was not set.
	ErrNotMedicalDocument = errors.New("not a medical document")

	// ErrProviderRateLimited indicates the AI provider throttled the call.
	ErrProviderRateLimited = errors.New("provider rate limited")

	// ErrMalformedOutput indicates the provider returned output that could
	// not be parsed into the expected structure.
	ErrMalformedOutput = errors.New("malformed provider output")

	// ErrRunCanceled indicates the run was canceled before completion.
	ErrRunCanceled = errors.New("run canceled")
)
