package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeExternalService   = "EXTERNAL_SERVICE_ERROR"
	ErrCodeDimensionMismatch = "DIMENSION_MISMATCH"
	ErrCodeSearchUnavailable = "SEARCH_UNAVAILABLE"
	ErrCodeInvalidMode       = "INVALID_MODE"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// Configuration errors
var (
	ErrMissingOpenAIKey = NewDomainError(ErrCodeConfiguration, "OPENAI_API_KEY is not set")
	ErrMissingSerpKey   = NewDomainError(ErrCodeConfiguration, "SERP_API_KEY is not set")
)

// Request validation errors
var (
	ErrEmptyQuery  = NewDomainError(ErrCodeValidation, "query must not be empty")
	ErrInvalidMode = NewDomainError(ErrCodeInvalidMode, "mode must be one of doc, web, hybrid")
)

// Retrieval errors
var (
	ErrDimensionMismatch = NewDomainError(ErrCodeDimensionMismatch, "query vector dimension does not match the index")
	ErrIndexNotFound     = NewDomainError(ErrCodeNotFound, "vector index has not been built")
	ErrSearchUnavailable = NewDomainError(ErrCodeSearchUnavailable, "web search API unavailable after retries")
)
