// Package errs defines the error taxonomy shared by every component: a
// small set of kinds (Transport, Protocol, Validation, NotFound, Conflict,
// Fatal) with a uniform wrapped representation, so callers can branch on
// kind with errors.As rather than string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy decisions.
type Kind int

const (
	// Unknown is the zero value; never constructed directly.
	Unknown Kind = iota
	// Transport covers connection reset, timeout, framing failure.
	Transport
	// Protocol covers malformed JSON, unknown session id, action id mismatch.
	Protocol
	// Validation covers enumerated user-visible input errors.
	Validation
	// NotFound covers a referenced filesystem/host/device absent.
	NotFound
	// Conflict covers uniqueness or referential-integrity violations.
	Conflict
	// Fatal covers startup failures: unreachable persistence, missing config.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the uniform error type produced across the module.
type Error struct {
	Kind Kind
	// Code is an enumerated validation code per §6 (DurationOrderError,
	// FilesystemRequired, ...); empty for non-validation kinds.
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Code, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind wrapping cause, which may be nil.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Validationf builds a Validation error carrying a structured code.
func Validationf(code, format string, args ...any) *Error {
	return &Error{Kind: Validation, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Validation error codes enumerated per spec §6.
const (
	CodeDurationOrderError      = "DurationOrderError"
	CodeFilesystemRequired      = "FilesystemRequired"
	CodeFilesystemDoesNotExist  = "FilesystemDoesNotExist"
	CodeMdt0NotFound            = "Mdt0NotFound"
	CodeOstPoolNameRequired     = "OstPoolNameRequired"
	CodeOstPoolDoesNotExist     = "OstPoolDoesNotExist"
	CodeSnapshotNameRequired    = "SnapshotNameRequired"
	CodeSnapshotDoesNotExist    = "SnapshotDoesNotExist"
	CodeHostUnknown             = "HostUnknown"
	CodeInvalidReserveUnit      = "InvalidReserveUnit"
)

// AwaitSessionError is returned by the dispatcher when no session exists
// for a host within the wait timeout.
type AwaitSessionError struct {
	Fqdn string
}

func (e *AwaitSessionError) Error() string {
	return fmt.Sprintf("timed out waiting for session: %s", e.Fqdn)
}
