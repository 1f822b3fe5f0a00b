// Package errors defines the error taxonomy shared by the builder, the
// watcher and the HTTP layer, plus a collector for per-document failures.
package errors

import (
	"errors"
	"fmt"
	"sync"
)

// ErrorCollector collects per-document errors so one failing document
// does not hide the rest of a build.
type ErrorCollector struct {
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]error, 0),
	}
}

// AddError adds an error to the collector
func (ec *ErrorCollector) AddError(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// GetErrors returns a copy of the collected errors
func (ec *ErrorCollector) GetErrors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// Err joins the collected errors, or returns nil when there are none.
func (ec *ErrorCollector) Err() error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	switch len(ec.errors) {
	case 0:
		return nil
	case 1:
		return ec.errors[0]
	}
	return &MultiError{Errors: append([]error(nil), ec.errors...)}
}

// MultiError is the result of a build where several documents failed.
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	return fmt.Sprintf("%d documents failed: %v", len(m.Errors), errors.Join(m.Errors...))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}
