package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeWatchSetup   ErrorType = "watch_setup"
	ErrorTypeWatchRuntime ErrorType = "watch_runtime"
	ErrorTypeRender       ErrorType = "render"
	ErrorTypeTemplate     ErrorType = "template"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeResolver     ErrorType = "resolver"
	ErrorTypeSecurity     ErrorType = "security"
	ErrorTypeConfig       ErrorType = "config"
)

// Common error codes.
const (
	ErrCodeWatchRoot      = "ERR_WATCH_ROOT"
	ErrCodeWatchFailed    = "ERR_WATCH_FAILED"
	ErrCodeRenderFailed   = "ERR_RENDER_FAILED"
	ErrCodeTemplateLoad   = "ERR_TEMPLATE_LOAD"
	ErrCodeTemplateRender = "ERR_TEMPLATE_RENDER"
	ErrCodeReadFailed     = "ERR_READ_FAILED"
	ErrCodeWriteFailed    = "ERR_WRITE_FAILED"
	ErrCodeProbeFailed    = "ERR_PROBE_FAILED"
	ErrCodePathTraversal  = "ERR_PATH_TRAVERSAL"
	ErrCodeConfigInvalid  = "ERR_CONFIG_INVALID"
)

// DocsmithError is a structured error type with context.
type DocsmithError struct {
	Type        ErrorType
	Code        string
	Message     string
	Path        string
	Cause       error
	Recoverable bool
}

// Error implements the error interface.
func (e *DocsmithError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *DocsmithError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *DocsmithError) Is(target error) bool {
	var t *DocsmithError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithPath attaches the file or request path the error concerns.
func (e *DocsmithError) WithPath(path string) *DocsmithError {
	e.Path = path

	return e
}

// NewWatchSetupError reports a watch root that could not be registered.
func NewWatchSetupError(root string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:    ErrorTypeWatchSetup,
		Code:    ErrCodeWatchRoot,
		Message: "cannot watch directory",
		Path:    root,
		Cause:   cause,
	}
}

// NewWatchRuntimeError reports a failure of the watch mechanism after startup.
func NewWatchRuntimeError(root string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:    ErrorTypeWatchRuntime,
		Code:    ErrCodeWatchFailed,
		Message: "file watcher failed",
		Path:    root,
		Cause:   cause,
	}
}

// NewRenderError creates a per-document render error.
func NewRenderError(path string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:        ErrorTypeRender,
		Code:        ErrCodeRenderFailed,
		Message:     "cannot render document",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTemplateError creates a template load or execution error.
func NewTemplateError(code, message string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:        ErrorTypeTemplate,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an output write error.
func NewIOError(path string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:        ErrorTypeIO,
		Code:        ErrCodeWriteFailed,
		Message:     "cannot write output",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewReadError reports a source file or directory that could not be read.
func NewReadError(path string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:        ErrorTypeIO,
		Code:        ErrCodeReadFailed,
		Message:     "cannot read source",
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewResolverError wraps an I/O failure hit while probing a request path.
func NewResolverError(path string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:    ErrorTypeResolver,
		Code:    ErrCodeProbeFailed,
		Message: "cannot probe file",
		Path:    path,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *DocsmithError {
	return &DocsmithError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
		Cause:   cause,
	}
}

// ErrPathTraversal creates a path traversal security error.
func ErrPathTraversal(path string) *DocsmithError {
	return &DocsmithError{
		Type:    ErrorTypeSecurity,
		Code:    ErrCodePathTraversal,
		Message: "path traversal attempt",
		Path:    path,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var de *DocsmithError
	if errors.As(err, &de) {
		return de.Recoverable
	}

	return false
}

// IsFatal reports whether err must abort the process.
func IsFatal(err error) bool {
	var de *DocsmithError
	if errors.As(err, &de) {
		return de.Type == ErrorTypeWatchSetup || de.Type == ErrorTypeWatchRuntime
	}

	return false
}

// IsType reports whether err is a DocsmithError of the given type.
func IsType(err error, t ErrorType) bool {
	var de *DocsmithError
	if errors.As(err, &de) {
		return de.Type == t
	}

	return false
}

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool {
	return IsType(err, ErrorTypeSecurity)
}
