package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeConfig                ErrorType = "config"
	ErrorTypeValidation            ErrorType = "validation"
	ErrorTypeRetrievalUnavailable  ErrorType = "retrieval_unavailable"
	ErrorTypeEmbeddingUnavailable  ErrorType = "embedding_unavailable"
	ErrorTypeGenerationUnavailable ErrorType = "generation_unavailable"
	ErrorTypeGenerationSchema      ErrorType = "generation_schema"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// ConfigError is fatal at startup: missing credentials, index names and the like.
func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

// RetrievalUnavailable reports an unreachable vector index after retries ran out.
func RetrievalUnavailable(message string, err error) *DomainError {
	return NewError(ErrorTypeRetrievalUnavailable, message, err)
}

// EmbeddingUnavailable is fatal for the query; there is no text-search fallback.
func EmbeddingUnavailable(message string, err error) *DomainError {
	return NewError(ErrorTypeEmbeddingUnavailable, message, err)
}

func GenerationUnavailable(message string, err error) *DomainError {
	return NewError(ErrorTypeGenerationUnavailable, message, err)
}

// GenerationSchemaError reports LLM output that failed schema validation.
func GenerationSchemaError(message string, err error) *DomainError {
	return NewError(ErrorTypeGenerationSchema, message, err)
}

// IsType reports whether any error in err's chain is a DomainError of type t.
func IsType(err error, t ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == t
	}
	return false
}

// retryableError marks a transient failure (network, rate limit, 5xx).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so IsRetryable reports true for it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable classifies err as transient. Unmarked errors are fatal,
// except timeouts and network-level failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// RetryableStatus determines if an HTTP status code is transient.
func RetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ClassifyStatus wraps err as retryable when statusCode is transient.
func ClassifyStatus(statusCode int, err error) error {
	if RetryableStatus(statusCode) {
		return Retryable(err)
	}
	return err
}
