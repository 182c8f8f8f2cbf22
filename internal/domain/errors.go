package domain

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Common domain errors
var (
	ErrNotTracked             = errors.New("file is not tracked by the session")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrSessionMismatch        = errors.New("session belongs to a different identifier")
	ErrEmptyManifest          = errors.New("manifest contains no files")
	ErrNilManifest            = errors.New("manifest cannot be nil")
	ErrCancelled              = errors.New("download cancelled")
)

// ErrorKind is the closed set of failure categories the engine distinguishes.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota + 1
	KindRateLimited
	KindFileSystem
	KindParse
	KindInvalidInput
	KindChecksumMismatch
)

// String returns the kind name used in logs and session files.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindFileSystem:
		return "filesystem"
	case KindParse:
		return "parse"
	case KindInvalidInput:
		return "invalid_input"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by the engine's adapters.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error

	// StatusCode is the HTTP status that produced the error, 0 if none.
	StatusCode int

	// RetryAfter is the server-supplied wait, valid only when HasRetryAfter is set.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

// Error returns the error message
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewNetworkError creates a network error, statusCode may be 0 for transport failures.
func NewNetworkError(op string, statusCode int, err error) *Error {
	e := newError(KindNetwork, op, err)
	e.StatusCode = statusCode
	return e
}

// NewRateLimitedError creates a rate-limit error carrying the server wait hint.
func NewRateLimitedError(op string, statusCode int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:          KindRateLimited,
		Op:            op,
		StatusCode:    statusCode,
		RetryAfter:    retryAfter,
		HasRetryAfter: true,
	}
}

func NewFileSystemError(op string, err error) *Error {
	return newError(KindFileSystem, op, err)
}

func NewParseError(op string, err error) *Error {
	return newError(KindParse, op, err)
}

func NewInvalidInputError(op string, err error) *Error {
	return newError(KindInvalidInput, op, err)
}

// NewChecksumMismatchError reports a verified file whose digest differs from the manifest.
func NewChecksumMismatchError(name, algorithm, expected, actual string) *Error {
	return newError(KindChecksumMismatch, "verify "+name,
		fmt.Errorf("%s expected %s, got %s", algorithm, expected, actual))
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// RetryAfterOf returns the server-supplied retry delay, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.HasRetryAfter {
		return e.RetryAfter, true
	}
	return 0, false
}

// ErrorClass is the retry classification of an error.
type ErrorClass int

const (
	ClassFatal ErrorClass = iota
	ClassTransient
)

func (c ErrorClass) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "fatal"
}

// Classify maps an error to transient or fatal.
// Cancellation is fatal: the caller stopped the run and nothing should retry it.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return ClassFatal
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindRateLimited:
			return ClassTransient
		case KindNetwork:
			if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429 {
				return ClassFatal
			}
			return ClassTransient
		case KindFileSystem:
			if errors.Is(e.Err, syscall.ENOSPC) {
				return ClassTransient
			}
			return ClassFatal
		default:
			return ClassFatal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassFatal
}

// IsTransient is shorthand for Classify(err) == ClassTransient.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}
