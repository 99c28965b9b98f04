package providers

import (
	"context"
	"errors"
	"time"
)

// ModelClient is a black-box text-in, text-out model endpoint
type ModelClient interface {
	// Name returns the provider name (e.g., "openai")
	Name() string

	// Invoke sends one system prompt and one user message and returns the
	// raw completion text
	Invoke(ctx context.Context, req *InvokeRequest) (string, error)

	// ValidateModel checks if a model is served by this client
	ValidateModel(model string) error

	// ListModels returns the models this client serves
	ListModels() []string
}

// InvokeRequest is a single completion call
type InvokeRequest struct {
	// Prompt is the system instruction
	Prompt string

	// Content is the user message
	Content string

	// Model identifier (e.g., "gpt-4o-mini")
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64

	// Timeout bounds the whole call, including connection setup. Zero uses
	// the client default.
	Timeout time.Duration
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout is the default total timeout for a call
	Timeout time.Duration

	// ConnectTimeout bounds dialing and the TLS handshake
	ConnectTimeout time.Duration

	// Additional headers
	Headers map[string]string

	// OrgID for organization-specific endpoints
	OrgID string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:        30 * time.Second,
		ConnectTimeout: 5 * time.Second,
		Headers:        make(map[string]string),
	}
}

// ErrorKind classifies provider failures for fallback selection
type ErrorKind string

const (
	KindQuota          ErrorKind = "quota"
	KindTimeout        ErrorKind = "timeout"
	KindUnavailable    ErrorKind = "unavailable"
	KindBadResponse    ErrorKind = "bad_response"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Kind is the failure class
	Kind ErrorKind

	// Code is the provider's error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, kind ErrorKind, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  kind == KindQuota || kind == KindTimeout || kind == KindUnavailable,
		Cause:      cause,
	}
}

// KindOf returns the kind of a provider error anywhere in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind, true
	}
	return "", false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}
