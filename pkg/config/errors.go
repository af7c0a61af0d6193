package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates configuration file was not found
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrInvalidValue indicates a field has an invalid value
	ErrInvalidValue = errors.New("invalid field value")

	// ErrUnknownKey indicates a runtime-mutable key that is not whitelisted
	ErrUnknownKey = errors.New("unknown configuration key")

	// ErrValueOutOfBounds indicates a runtime value outside its allowed range
	ErrValueOutOfBounds = errors.New("value out of bounds")
)

// ValidationError wraps configuration validation errors with context
type ValidationError struct {
	Section string // Configuration section being validated (ticks, ollama, ...)
	Field   string // Field name (optional)
	Err     error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field '%s': %v", e.Section, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Section, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(section, field string, err error) *ValidationError {
	return &ValidationError{
		Section: section,
		Field:   field,
		Err:     err,
	}
}

// LoadError wraps configuration loading errors with file context
type LoadError struct {
	File string // Configuration file being loaded
	Err  error  // Underlying error
}

// Error returns formatted error message
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{
		File: file,
		Err:  err,
	}
}
