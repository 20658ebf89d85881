package errors

import (
	stderrors "errors"
	"fmt"
)

// ViewError is the structured error type for attachview.
// It carries enough context for callers to decide whether a document
// should be skipped, retried, or the whole run aborted.
type ViewError struct {
	// Code is the unique error code (e.g., "ERR_402_INVALID_ATTACHMENT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *ViewError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ViewError.
func (e *ViewError) Is(target error) bool {
	if t, ok := target.(*ViewError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ViewError) WithDetail(key, value string) *ViewError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *ViewError) WithSuggestion(suggestion string) *ViewError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ViewError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ViewError {
	return &ViewError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ViewError from an existing error.
// The error's message becomes the ViewError message.
func Wrap(code string, err error) *ViewError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *ViewError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a state or view store error.
func StoreError(message string, cause error) *ViewError {
	return New(ErrCodeStoreFailed, message, cause)
}

// ValidationError creates a document validation error.
func ValidationError(message string, cause error) *ViewError {
	return New(ErrCodeInvalidDocument, message, cause)
}

// AttachmentError creates a validation error for a single malformed attachment entry.
func AttachmentError(documentID, name, message string) *ViewError {
	return New(ErrCodeInvalidAttachment, message, nil).
		WithDetail("document_id", documentID).
		WithDetail("attachment", name)
}

// StaleUpdateError reports an update older than the state already applied.
func StaleUpdateError(documentID string, seq, applied int64) *ViewError {
	return New(ErrCodeStaleUpdate,
		fmt.Sprintf("document %s: update seq %d is older than applied seq %d", documentID, seq, applied), nil).
		WithDetail("document_id", documentID).
		WithSuggestion("apply changes in feed order, or re-read the document from the store")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ViewError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first ViewError in err's chain.
func As(err error) (*ViewError, bool) {
	var ve *ViewError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsValidation reports whether err is a validation error (category VALIDATION).
func IsValidation(err error) bool {
	ve, ok := As(err)
	return ok && ve.Category == CategoryValidation
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain holds a ViewError with Retryable set.
func IsRetryable(err error) bool {
	ve, ok := As(err)
	return ok && ve.Retryable
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	ve, ok := As(err)
	return ok && ve.Severity == SeverityFatal
}

// GetCode extracts the error code from a ViewError.
// Returns empty string if err holds no ViewError.
func GetCode(err error) string {
	if ve, ok := As(err); ok {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from a ViewError.
// Returns empty string if err holds no ViewError.
func GetCategory(err error) Category {
	if ve, ok := As(err); ok {
		return ve.Category
	}
	return ""
}
