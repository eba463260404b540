package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Error types for the line database
type ErrorType string

const (
	// Storage errors
	ErrorTypeIO         ErrorType = "io"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeNotFound   ErrorType = "file_not_found"
	ErrorTypeDecode     ErrorType = "decode"

	// Protocol errors
	ErrorTypeParse        ErrorType = "parse"
	ErrorTypeChecksum     ErrorType = "checksum"
	ErrorTypeDisconnected ErrorType = "disconnected"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// FileError represents a failed file operation on the data file or the index cache
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	errorType := ErrorTypeIO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		errorType = ErrorTypeNotFound
	case errors.Is(err, fs.ErrPermission):
		errorType = ErrorTypePermission
	}

	return &FileError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// DecodeError represents a corrupt or unreadable index cache
type DecodeError struct {
	Type       ErrorType
	Path       string
	Underlying error
	Timestamp  time.Time
}

// NewDecodeError creates a new decode error
func NewDecodeError(path string, err error) *DecodeError {
	return &DecodeError{
		Type:       ErrorTypeDecode,
		Path:       path,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed for %s: %v", e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *DecodeError) Unwrap() error {
	return e.Underlying
}

// FrameError represents a client message that could not be turned into a command
type FrameError struct {
	Type       ErrorType
	Reason     string
	Underlying error
}

// NewFrameError creates a new frame error.
// The underlying error is usually one of the protocol sentinels.
func NewFrameError(errorType ErrorType, reason string, err error) *FrameError {
	return &FrameError{
		Type:       errorType,
		Reason:     reason,
		Underlying: err,
	}
}

// Error implements the error interface
func (e *FrameError) Error() string {
	if e.Reason == "" {
		return e.Underlying.Error()
	}
	return fmt.Sprintf("%v: %s", e.Underlying, e.Reason)
}

// Unwrap returns the underlying error
func (e *FrameError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrOrNil returns nil when no errors were collected
func (e *MultiError) ErrOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
