// Package errs defines the typed error kinds surfaced by the client
// session loop and the broker task store, so callers can classify
// failures with errors.As instead of switching on error strings.
package errs

import (
	"errors"
	"fmt"
	"reflect"
)

// ConfigError reports a problem with user-supplied configuration:
// a malformed address, conflicting TLS flags, or an unknown transport.
// It is never retried; the caller should exit immediately.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// NewConfigError builds a ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransportRecoverable reports a transport failure the retry invoker
// should back off and retry: connection refused, stream reset, an
// HTTP 5xx, or a timeout.
type TransportRecoverable struct {
	Op  string
	Err error
}

func (e *TransportRecoverable) Error() string {
	if e.Err == nil {
		return "transport: " + e.Op + ": recoverable"
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportRecoverable) Unwrap() error { return e.Err }

// NewTransportRecoverable wraps err as a recoverable transport failure.
func NewTransportRecoverable(op string, err error) *TransportRecoverable {
	return &TransportRecoverable{Op: op, Err: err}
}

// TransportFatal reports a transport failure that must not be retried
// by the outer loop: a TLS handshake failure with bad certificates, or
// a protocol violation.
type TransportFatal struct {
	Op  string
	Err error
}

func (e *TransportFatal) Error() string {
	if e.Err == nil {
		return "transport: " + e.Op + ": fatal"
	}
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportFatal) Unwrap() error { return e.Err }

// NewTransportFatal wraps err as a non-retryable transport failure.
func NewTransportFatal(op string, err error) *TransportFatal {
	return &TransportFatal{Op: op, Err: err}
}

// AppError reports a failure raised by the external ClientApp while
// handling a message. Kind is the application-level error kind name
// (e.g. the panic value's type, or an application-defined code),
// mirrored into the fabricated reply's reason field by rere/rest
// transports.
type AppError struct {
	Kind string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return "clientapp error: " + e.Kind
	}
	return "clientapp error: " + e.Kind + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// Reason renders the kind+message join used as the fabricated reply's
// Error.Reason, formatted as "<kind>:<message>".
func (e *AppError) Reason() string {
	if e.Err == nil {
		return e.Kind
	}
	return e.Kind + ":" + e.Err.Error()
}

// ValidationError reports that the task validator rejected a record
// prior to admission. Reasons holds the validator's non-empty error
// strings; the caller logs and drops the record, no partial insert.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return "validation error"
	}
	msg := "validation error:"
	for _, r := range e.Reasons {
		msg += " " + r
	}
	return msg
}

// LifecycleError reports an operation against a node or run that does
// not exist, e.g. deleting an unregistered node.
type LifecycleError struct {
	Msg string
}

func (e *LifecycleError) Error() string { return "lifecycle error: " + e.Msg }

// NewLifecycleError builds a LifecycleError.
func NewLifecycleError(format string, args ...any) *LifecycleError {
	return &LifecycleError{Msg: fmt.Sprintf(format, args...)}
}

// AppErrorParts returns the (kind, message) pair used to build a
// fabricated reply's reason field under the rere/rest ClientApp
// failure policy: the concatenation of the failure's kind name and
// its message. If err is an *AppError, its
// Kind is used directly; otherwise the kind falls back to err's
// dynamic Go type name.
func AppErrorParts(err error) (kind, msg string) {
	var ae *AppError
	if errors.As(err, &ae) {
		if ae.Err != nil {
			return ae.Kind, ae.Err.Error()
		}
		return ae.Kind, ""
	}
	return reflect.TypeOf(err).String(), err.Error()
}

// Recoverable reports whether err (or something it wraps) is a
// TransportRecoverable. It is the default predicate used by the retry
// invoker (client/retry/retry.go) to decide whether to back off and retry.
func Recoverable(err error) bool {
	var r *TransportRecoverable
	return errors.As(err, &r)
}
