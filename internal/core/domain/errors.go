package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates a concurrent write won the race
	ErrConflict = errors.New("conflicting update")

	// ErrValidation indicates the request failed validation before any provider call
	ErrValidation = errors.New("validation failed")

	// ErrNotConnected indicates the seller has no active integration for the provider
	ErrNotConnected = errors.New("integration not connected")

	// ErrCredentialsUnavailable indicates stored credentials could not be decrypted
	ErrCredentialsUnavailable = errors.New("credentials unavailable")

	// ErrReauthRequired indicates the OAuth refresh failed and the seller must reconnect
	ErrReauthRequired = errors.New("reauthorization required")

	// ErrAuthRejected indicates the provider rejected static credentials
	ErrAuthRejected = errors.New("provider rejected credentials")

	// ErrRateLimited indicates the provider or the internal limiter is exhausted
	ErrRateLimited = errors.New("rate limited")

	// ErrProviderError indicates the provider returned an error response
	ErrProviderError = errors.New("provider error")

	// ErrTimeout indicates an outbound call exceeded its deadline
	ErrTimeout = errors.New("provider timeout")

	// ErrPartialFailure indicates a batch finished with failed items
	ErrPartialFailure = errors.New("partial failure")

	// ErrUnsupportedProvider indicates no adapter is compiled in for the provider
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrCapabilityUnsupported indicates the provider does not offer the operation
	ErrCapabilityUnsupported = errors.New("capability not supported by provider")

	// ErrSyncFinished indicates the sync job already reached a terminal state
	ErrSyncFinished = errors.New("sync already finished")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError carries the provider's failure details.
// It matches ErrProviderError, plus ErrTimeout when Timeout is set,
// ErrRateLimited for HTTP 429 and ErrAuthRejected for 401/403.
type ProviderError struct {
	Provider   ProviderName
	StatusCode int
	Message    string
	Timeout    bool
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out", e.Provider)
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProviderError:
		return true
	case ErrTimeout:
		return e.Timeout
	case ErrRateLimited:
		return e.StatusCode == 429
	case ErrAuthRejected:
		return e.StatusCode == 401 || e.StatusCode == 403
	case ErrNotFound:
		return e.StatusCode == 404
	}
	return false
}

// PartialFailureError summarises a batch that completed with failed items.
type PartialFailureError struct {
	SyncID    string
	Succeeded int
	Failed    int
	Errors    []ItemError
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("sync %s: %d of %d items failed", e.SyncID, e.Failed, e.Succeeded+e.Failed)
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// IsSystemic reports whether err prevents any further call against the
// integration, as opposed to an error scoped to a single item.
func IsSystemic(err error) bool {
	return errors.Is(err, ErrReauthRequired) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrCredentialsUnavailable) ||
		errors.Is(err, ErrAuthRejected)
}
