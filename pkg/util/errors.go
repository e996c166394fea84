// Package util provides logging and the error types shared across cmltest.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// use errors.Is without caring about the details.
var (
	ErrConfiguration    = errors.New("invalid configuration")
	ErrLabUnavailable   = errors.New("lab unavailable")
	ErrNotFound         = errors.New("resource not found")
	ErrValidationFailed = errors.New("validation failed")
)

// ConfigurationError reports missing or invalid settings. It is returned
// before any network call is made.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "configuration error: " + e.Problems[0]
	}
	return fmt.Sprintf("configuration error:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigurationError creates a configuration error from messages
func NewConfigurationError(problems ...string) *ConfigurationError {
	return &ConfigurationError{Problems: problems}
}

// LabUnavailableError reports that a lab could not be provisioned or did
// not become reachable in time. Stage names the lifecycle step that gave up
// ("import", "start", "converge", "domain", "lease", "ssh").
type LabUnavailableError struct {
	Lab     string
	Stage   string
	Timeout time.Duration
	Err     error
}

func (e *LabUnavailableError) Error() string {
	var b strings.Builder
	b.WriteString("lab ")
	if e.Lab != "" {
		b.WriteString(e.Lab + " ")
	}
	b.WriteString("unavailable at " + e.Stage)
	if e.Timeout > 0 {
		fmt.Fprintf(&b, " after %s", e.Timeout)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *LabUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLabUnavailable}
	}
	return []error{ErrLabUnavailable, e.Err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ValidationBuilder accumulates problems and builds a single error.
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Messages returns the accumulated messages.
func (v *ValidationBuilder) Messages() []string {
	return v.errors
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
