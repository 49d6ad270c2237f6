// Package errors defines the structured error taxonomy used across the
// reconciliation engine. Every error the core surfaces to a request
// handler carries a category and a code so the handler can translate it
// into a stable user-facing response without string matching.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	// CategoryNotFound covers ids that do not resolve, including ids
	// outside the requesting user's access scope. The two cases are
	// deliberately indistinguishable.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryInvalidState covers actions against a session in an
	// incompatible lifecycle state.
	CategoryInvalidState ErrorCategory = "invalid_state"

	// CategoryBusinessRule covers domain rules that block an otherwise
	// well-formed request, such as the finalize unmatched threshold.
	CategoryBusinessRule ErrorCategory = "business_rule"

	// CategoryValidation covers malformed input parameters.
	CategoryValidation ErrorCategory = "validation"

	// CategoryInternal covers unexpected infrastructure failures.
	CategoryInternal ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// NotFound codes
	CodeSessionNotFound     ErrorCode = "session_not_found"
	CodeAccountNotFound     ErrorCode = "account_not_found"
	CodeTransactionNotFound ErrorCode = "transaction_not_found"
	CodeItemNotFound        ErrorCode = "item_not_found"

	// InvalidState codes
	CodeSessionNotInProgress ErrorCode = "session_not_in_progress"
	CodeSessionCompleted     ErrorCode = "session_already_completed"
	CodeSessionCancelled     ErrorCode = "session_cancelled"
	CodeItemNotMatched       ErrorCode = "item_not_matched"

	// BusinessRule codes
	CodeTooManyUnmatched ErrorCode = "too_many_unmatched_items"

	// Validation codes
	CodeMissingField     ErrorCode = "missing_field"
	CodeInvalidTolerance ErrorCode = "invalid_tolerance"
	CodeInvalidValue     ErrorCode = "invalid_value"

	// Internal codes
	CodeStoreFailure    ErrorCode = "store_failure"
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// Error is the structured error type for all engine errors
type Error struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// stackTracer is the interface github.com/pkg/errors exposes for
// extracting stack traces.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new structured Error
func New(category ErrorCategory, code ErrorCode, message string) *Error {
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with structured context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// NotFound creates a not-found error for the named resource.
// The resource id is carried as context, never in the message, so the
// message is safe to surface to any caller.
func NotFound(code ErrorCode, resource, id string) *Error {
	return New(CategoryNotFound, code, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("id", id)
}

// InvalidState creates an invalid-state error for a session operation
func InvalidState(code ErrorCode, message string) *Error {
	return New(CategoryInvalidState, code, message)
}

// BusinessRule creates a business-rule violation error
func BusinessRule(code ErrorCode, message string) *Error {
	return New(CategoryBusinessRule, code, message)
}

// Validation creates a validation error for the named field
func Validation(code ErrorCode, field, message string) *Error {
	return New(CategoryValidation, code, message).
		WithContext("field", field)
}

// Internal wraps an unexpected infrastructure failure. These propagate
// to the handler boundary as 500s and are logged with full context.
func Internal(operation string, err error) *Error {
	return Wrap(err, CategoryInternal, CodeStoreFailure,
		fmt.Sprintf("unexpected failure during %s", operation)).
		WithContext("operation", operation)
}

// Is checks whether err is a structured Error of the given category
func Is(err error, category ErrorCategory) bool {
	e, ok := As(err)
	return ok && e.Category == category
}

// As extracts a structured Error from an error chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool {
	return Is(err, CategoryNotFound)
}

// IsInvalidState reports whether err is an InvalidState error
func IsInvalidState(err error) bool {
	return Is(err, CategoryInvalidState)
}

// IsBusinessRule reports whether err is a BusinessRuleViolation error
func IsBusinessRule(err error) bool {
	return Is(err, CategoryBusinessRule)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	return Is(err, CategoryValidation)
}
