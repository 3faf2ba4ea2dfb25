package services

import (
	"errors"
	"fmt"

	"market-research/backend/internal/repository"
)

// ErrNotFound is returned when a workflow or job does not exist.
var ErrNotFound = repository.ErrNotFound

// ErrPhaseNotDefined is wrapped in a ConfigError when the phase catalog has
// no entry for a phase.
var ErrPhaseNotDefined = errors.New("phase not defined")

// ValidationError reports a request that breaks a product rule. Nothing is
// changed when one is returned.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConfigError reports a deployment misconfiguration. It is never retried.
type ConfigError struct {
	err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.err
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

// TransientError represents a gateway failure that may succeed when the phase
// is regenerated later (rate limits, timeouts, 5xx, network).
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a gateway failure that will not go away on its own
// (authentication, malformed request, empty response).
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

func errorClass(err error) string {
	switch {
	case IsFatal(err):
		return "fatal"
	case IsTransient(err):
		return "transient"
	default:
		return "unknown"
	}
}
