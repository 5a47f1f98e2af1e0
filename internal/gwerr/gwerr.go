// Package gwerr defines the gateway's error taxonomy and propagation rules.
package gwerr

import "fmt"

// Code classifies a gateway error for transport mapping and client handling.
type Code string

const (
	InvalidArgument   Code = "InvalidArgument"
	InvalidSignature  Code = "InvalidSignature"
	PermissionDenied  Code = "PermissionDenied"
	PoolLocked        Code = "PoolLocked"
	NeedsReauth       Code = "NeedsReauth"
	InsufficientFunds Code = "InsufficientFunds"
	LightUnavailable  Code = "LightUnavailable"
	IndexerSlow       Code = "IndexerSlow"
	LockTimeout       Code = "LockTimeout"
	Busy              Code = "Busy"
	TxFailed          Code = "TxFailed"
	Unknown           Code = "Unknown"
	SecurityError     Code = "SecurityError"
	InvalidHandle     Code = "InvalidHandleFormat"
)

// Error is the structured error type returned by every gateway component.
// Details carries code-specific structured payloads (e.g. InsufficientFunds
// shortfall breakdowns, TxFailed on-chain error payloads).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to an Error without losing the original code intent.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails returns a copy of e with Details set. Used to attach structured
// shortfall/error payloads without mutating a shared instance.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// As reports whether err is a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	ge, ok := err.(*Error)
	return ge, ok
}

// CodeOf extracts the Code of err, defaulting to Unknown for foreign errors.
// Every code path that returns an opaque error to a caller MUST go through
// this so nothing is silently swallowed as a bare 500.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if ge, ok := As(err); ok {
		return ge.Code
	}
	return Unknown
}
