// Package errors provides structured error handling for FireFlow.
// Errors carry a code, a cause, and key/value context so pipeline
// failures surface with the identifiers (file path, invariant name,
// row counts) needed to diagnose them.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound      Code = "E101"
	CodeFingerprintFailed Code = "E102"
	CodeMissingColumn     Code = "E103"
	CodeUnknownDataset    Code = "E104"

	// Warehouse errors (2xx)
	CodeWarehouseOpen  Code = "E201"
	CodeWarehouseQuery Code = "E202"
	CodeWarehouseWrite Code = "E203"
	CodeLedger         Code = "E204"

	// Transformation errors (3xx)
	CodeLakeWrite     Code = "E301"
	CodeBronzeLoad    Code = "E302"
	CodeSilverRebuild Code = "E303"
	CodeGoldBuild     Code = "E304"

	// Quality and export errors (4xx)
	CodeQualityGate Code = "E401"
	CodeExport      Code = "E402"
	CodeArchive     Code = "E403"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all FireFlow errors.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code so callers can compare against sentinel errors.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *Error {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// MissingColumn reports that none of the candidate spellings for a
// required concept exist in the observed schema.
func MissingColumn(concept string, candidates []string) *Error {
	return New(CodeMissingColumn, "no candidate column found").
		WithContext("concept", concept).
		WithContext("candidates", candidates)
}

// QualityGate reports a violated data-quality invariant.
func QualityGate(invariant string, offending int64) *Error {
	return New(CodeQualityGate, "quality gate failed").
		WithContext("invariant", invariant).
		WithContext("count", offending)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}
