package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the kinds of failure the engine distinguishes
type ErrorCategory string

const (
	// User-facing rejections that leave state untouched
	ErrorCategoryPrecondition ErrorCategory = "PRECONDITION"
	ErrorCategoryValidation   ErrorCategory = "VALIDATION"

	// Recoverable by design, logged to trading history
	ErrorCategoryAdmission ErrorCategory = "ADMISSION"

	// External collaborators
	ErrorCategoryFetch       ErrorCategory = "FETCH"
	ErrorCategoryPersistence ErrorCategory = "PERSISTENCE"
)

// Sentinel errors. Categorized errors wrap these so callers can use errors.Is.
var (
	ErrDetectorInactive    = stderrors.New("detector is not active")
	ErrDuplicatePosition   = stderrors.New("position already open for symbol")
	ErrInvalidEntry        = stderrors.New("invalid entry price or size")
	ErrPositionNotFound    = stderrors.New("position not found")
	ErrBelowMinimumBalance = stderrors.New("balance below minimum")
	ErrNoStagedStrategy    = stderrors.New("no strategy change staged")
	ErrUnknownStrategy     = stderrors.New("unknown strategy")
	ErrInvalidSignal       = stderrors.New("invalid signal")
)

// EngineError represents a categorized error with context
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable reports whether the failure should only skip the current cycle
func (e *EngineError) IsRecoverable() bool {
	switch e.Category {
	case ErrorCategoryAdmission, ErrorCategoryFetch:
		return true
	default:
		return false
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewEngineError creates a new categorized error
func NewEngineError(category ErrorCategory, component, operation, message string, underlying error) *EngineError {
	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with engine error context
func WrapError(err error, category ErrorCategory, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return NewEngineError(category, component, operation, "operation failed", err)
}

// CategoryOf returns the category of a categorized error, or "" for plain errors
func CategoryOf(err error) ErrorCategory {
	var engineErr *EngineError
	if stderrors.As(err, &engineErr) {
		return engineErr.Category
	}
	return ""
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Common error constructors
func NewPreconditionError(component, operation, message string, underlying error) *EngineError {
	return NewEngineError(ErrorCategoryPrecondition, component, operation, message, underlying)
}

func NewValidationError(component, operation, message string, underlying error) *EngineError {
	return NewEngineError(ErrorCategoryValidation, component, operation, message, underlying)
}

func NewAdmissionError(component, operation, message string, underlying error) *EngineError {
	return NewEngineError(ErrorCategoryAdmission, component, operation, message, underlying)
}

func NewFetchError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryFetch, component, operation)
}

func NewPersistenceError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryPersistence, component, operation)
}
