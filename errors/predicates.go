package errors

import (
	"errors"
	"strings"
)

// IsRoutingError checks if an error is a pipeline routing rejection. Routing
// errors are fatal: the whole run is marked failed and no partial
// processing is attempted.
func IsRoutingError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotMedicalDocument)
}

// IsProviderError checks if an error came from the AI provider. These are
// recovered per-node: the run continues with degraded section coverage.
func IsProviderError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrProviderRateLimited) || errors.Is(err, ErrMalformedOutput) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "quota")
}

// IsReplayIntegrityError checks if an error indicates recorded and live
// execution were mixed. These are programming errors and must surface
// loudly instead of being retried.
func IsReplayIntegrityError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "live session") ||
		strings.Contains(errStr, "not sealed")
}

// IsCanceled checks for run cancellation, either through the medflow
// sentinel or the context package.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRunCanceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "context canceled") ||
		strings.Contains(errStr, "deadline exceeded")
}
