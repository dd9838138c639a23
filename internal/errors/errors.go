// Package errors provides a lightweight structured error type (DaemonError)
// for category-based classification and startup exit-code mapping.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a daemon error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// External system integration errors
	CategoryGit        ErrorCategory = "git"
	CategoryImage      ErrorCategory = "image"
	CategoryPermission ErrorCategory = "permission"
	CategoryNotify     ErrorCategory = "notify"

	// Build and processing errors
	CategoryBuild      ErrorCategory = "build"
	CategoryContainer  ErrorCategory = "container"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// DaemonError is a structured error with category, severity, and context
type DaemonError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for DaemonError
type ContextFields map[string]any

// Error implements the error interface
func (e *DaemonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *DaemonError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *DaemonError) WithContext(key string, value any) *DaemonError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new DaemonError
func New(category ErrorCategory, severity ErrorSeverity, message string) *DaemonError {
	return &DaemonError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new DaemonError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *DaemonError {
	return &DaemonError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if de, ok := err.(*DaemonError); ok {
		return de.Category == category
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal
// if not a DaemonError
func GetCategory(err error) ErrorCategory {
	if de, ok := err.(*DaemonError); ok {
		return de.Category
	}
	return CategoryInternal
}

// ConfigError creates a fatal configuration error
func ConfigError(message string) *DaemonError {
	return New(CategoryConfig, SeverityFatal, message)
}

// ImageError creates a fatal missing-image error
func ImageError(message string) *DaemonError {
	return New(CategoryImage, SeverityFatal, message)
}

// PermissionError creates a fatal runtime-permission error
func PermissionError(message string) *DaemonError {
	return New(CategoryPermission, SeverityFatal, message)
}
