package foundation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies an error for routing and degradation decisions.
type ErrorCategory string

const (
	// CategoryValidation marks payloads that failed a schema or shape check.
	// These always degrade to "treat as miss / discard", never to a crash.
	CategoryValidation ErrorCategory = "validation"
	// CategoryTransport marks network or server failures; retried only on the
	// next scheduled tick, never via immediate retry loops.
	CategoryTransport ErrorCategory = "transport"
	// CategoryAuth marks an invalid or expired session; forces session
	// teardown and a redirect to login.
	CategoryAuth          ErrorCategory = "auth"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// Severity indicates the importance/impact of an error.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Fields represents structured context data attached to an error.
type Fields map[string]any

// ClassifiedError provides structured error information with context.
type ClassifiedError struct {
	Category   ErrorCategory `json:"category"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	Context    Fields        `json:"context,omitempty"`
	Cause      error         `json:"-"`
	Operation  string        `json:"operation,omitempty"`
	Retryable  bool          `json:"retryable"`
	UserFacing bool          `json:"user_facing"`
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	parts = append(parts, fmt.Sprintf("category=%s", e.Category), e.Message)
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failed operation may be retried on a later tick.
func (e *ClassifiedError) IsRetryable() bool {
	return e.Retryable
}

// ErrorBuilder provides a fluent interface for creating classified errors.
type ErrorBuilder struct {
	err *ClassifiedError
}

// NewError creates a new error builder with the given category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &ClassifiedError{
			Category: category,
			Severity: SeverityError,
			Message:  message,
			Context:  make(Fields),
		},
	}
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity Severity) *ErrorBuilder {
	b.err.Severity = severity
	return b
}

// WithCause sets the underlying cause.
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// WithContext adds a context field.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.Context[key] = value
	return b
}

// WithOperation sets the operation context.
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// Retryable marks the error as retryable.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	b.err.Retryable = true
	return b
}

// UserFacing marks the error as user-facing.
func (b *ErrorBuilder) UserFacing() *ErrorBuilder {
	b.err.UserFacing = true
	return b
}

// Build returns the constructed error.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return b.err
}

// ValidationError builds an error for payloads failing a schema check.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).WithSeverity(SeverityWarning)
}

// TransportError builds a retryable error for network and server failures.
func TransportError(message string) *ErrorBuilder {
	return NewError(CategoryTransport, message).Retryable()
}

// AuthError builds a user-facing error for invalid or expired sessions.
func AuthError(message string) *ErrorBuilder {
	return NewError(CategoryAuth, message).UserFacing()
}

// NotFoundError builds an error for a missing resource.
func NotFoundError(resource string) *ErrorBuilder {
	return NewError(CategoryNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource)
}

// ConfigurationError builds a user-facing error for invalid configuration.
func ConfigurationError(message string) *ErrorBuilder {
	return NewError(CategoryConfiguration, message).UserFacing()
}

// InternalError builds an error for unexpected internal failures.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).WithSeverity(SeverityCritical)
}

// WrapError wraps an existing error with a category and message.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

// IsCategory checks whether an error chain contains a ClassifiedError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category == category
	}
	return false
}

// AsClassified extracts a ClassifiedError from an error chain.
func AsClassified(err error, target **ClassifiedError) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		*target = classified
		return true
	}
	return false
}
