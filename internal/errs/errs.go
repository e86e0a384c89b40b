// Package errs defines the error taxonomy shared by the persistence layer.
//
// Every failure raised by lockfile, fsstore, resource, dependency and
// operations carries a Kind plus the offending path or id, so callers can
// decide whether to retry, surface the problem, or give up:
//
//	if errors.Is(err, errs.LockTimeout) { ... }
//	switch errs.KindOf(err) { ... }
package errs

import (
	"errors"
	"strings"
)

// Kind classifies a failure. A Kind is itself an error so it can be used
// as an errors.Is target.
type Kind string

const (
	LockTimeout        Kind = "lock_timeout"
	LockError          Kind = "lock_error"
	BackupError        Kind = "backup_error"
	RestoreError       Kind = "restore_error"
	NotFound           Kind = "not_found"
	CircularDependency Kind = "circular_dependency"
	InvalidArgument    Kind = "invalid_argument"
	FileWriteError     Kind = "file_write_error"
	FileReadError      Kind = "file_read_error"
	ValidationError    Kind = "validation_error"
	InvalidState       Kind = "invalid_state"
)

// Error implements the error interface.
func (k Kind) Error() string { return string(k) }

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "acquire" or "save".
	Op string
	// Path is the file involved, if any.
	Path string
	// ID is the task, resource or operation id involved, if any.
	ID  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.ID != "" {
		b.WriteString(" [id=")
		b.WriteString(e.ID)
		b.WriteString("]")
	}
	if e.Path != "" {
		b.WriteString(" [path=")
		b.WriteString(e.Path)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates a classified error with a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. Returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapPath classifies err and records the file involved.
func WrapPath(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// WithPath returns e with Path set.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithID returns e with ID set.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// KindOf returns the Kind of the first classified error in err's chain,
// or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// PathOf returns the Path of the first classified error in err's chain.
func PathOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Path
	}
	return ""
}

// IDOf returns the ID of the first classified error in err's chain.
func IDOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ID
	}
	return ""
}
