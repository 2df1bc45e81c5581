package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeContract       = "CONTRACT_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeSessionTimeout = "SESSION_TIMEOUT"
	ErrCodeStepFailed     = "STEP_FAILED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable   = "NON_RETRYABLE"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeTracker        = "TRACKER_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnavailable    = "SERVICE_UNAVAILABLE"
	ErrCodePublish        = "PUBLISH_ERROR"
)

// retryableCodes are the error codes a retry can plausibly fix.
// Contract and validation failures are deliberately absent: retrying
// malformed input produces the same malformed input.
var retryableCodes = map[string]bool{
	ErrCodeTimeout:     true,
	ErrCodeTracker:     true,
	ErrCodeRateLimited: true,
	ErrCodeUnavailable: true,
}

// RemedyError is the structured error type for all remedy operations.
type RemedyError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Phase   Phase          `json:"phase,omitempty"`
	Cause   error          `json:"-"`
}

func (e *RemedyError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Phase, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RemedyError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error's code is in the retryable class.
func (e *RemedyError) IsRetryable() bool {
	return retryableCodes[e.Code]
}

// NewError creates a new RemedyError.
func NewError(code, message string) *RemedyError {
	return &RemedyError{Code: code, Message: message}
}

// NewErrorf creates a new RemedyError with a formatted message.
func NewErrorf(code, format string, args ...any) *RemedyError {
	return &RemedyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPhase attaches the pipeline phase the error occurred in.
func (e *RemedyError) WithPhase(phase Phase) *RemedyError {
	e.Phase = phase
	return e
}

// WithCause attaches an underlying cause.
func (e *RemedyError) WithCause(err error) *RemedyError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *RemedyError) WithDetails(details map[string]any) *RemedyError {
	e.Details = details
	return e
}
