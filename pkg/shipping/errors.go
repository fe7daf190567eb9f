package shipping

import (
	"errors"
	"fmt"
)

// Error kinds. Every provider-specific failure is translated to one of these,
// so callers never need provider-specific knowledge.
var (
	// ErrAuthentication indicates the provider rejected the credentials or token.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotServiceable indicates the provider does not serve the route.
	ErrNotServiceable = errors.New("route not serviceable")

	// ErrRateUnavailable indicates the provider could not quote the request.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrProviderUnavailable indicates a transient outage, timeout or open circuit.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedResponse indicates the provider returned an unreadable payload.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrConfiguration indicates a missing or invalid provider configuration.
	ErrConfiguration = errors.New("provider configuration error")

	// ErrSelectionEmpty indicates no candidate survived filtering.
	ErrSelectionEmpty = errors.New("no rate matches the selection criteria")

	// ErrNotInitialized indicates the orchestrator has not finished loading providers.
	ErrNotInitialized = errors.New("shipping orchestrator not initialized")

	// ErrProviderNotFound indicates the requested provider is not registered.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrInvalidRequest indicates the caller supplied an invalid request.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderError represents a failure reported by a provider adapter.
type ProviderError struct {
	Provider   string
	Kind       error
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error (%s): %s: %v", e.Provider, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is matches the error's kind sentinel, or another ProviderError with the same code.
func (e *ProviderError) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewProviderError creates a new ProviderError of the given kind.
func NewProviderError(provider string, kind error, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Code:      code,
		Message:   message,
		Retryable: kind == ErrProviderUnavailable,
	}
}

// WithCause adds a cause to the error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Cause = err
	return e
}

// WithStatusCode adds an HTTP status code to the error.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	return e
}

// WithRetryable marks the error as retryable.
func (e *ProviderError) WithRetryable(retryable bool) *ProviderError {
	e.Retryable = retryable
	return e
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}
	return errors.Is(err, ErrProviderUnavailable)
}

// KindOf returns the taxonomy sentinel an error belongs to, or nil if none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrAuthentication,
		ErrNotServiceable,
		ErrRateUnavailable,
		ErrProviderUnavailable,
		ErrMalformedResponse,
		ErrConfiguration,
		ErrSelectionEmpty,
		ErrNotInitialized,
		ErrProviderNotFound,
		ErrInvalidRequest,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
