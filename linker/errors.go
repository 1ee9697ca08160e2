package linker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies linker failures.
type ErrorKind int

const (
	// KindClassNotFound is recoverable: the caller may try another context.
	KindClassNotFound ErrorKind = iota + 1
	KindMultipleImplementation
	KindMalformedMetadata
	KindIncompatibleClassChange
	KindClassCircularity
)

func (k ErrorKind) String() string {
	switch k {
	case KindClassNotFound:
		return "ClassNotFound"
	case KindMultipleImplementation:
		return "MultipleImplementation"
	case KindMalformedMetadata:
		return "MalformedMetadata"
	case KindIncompatibleClassChange:
		return "IncompatibleClassChange"
	case KindClassCircularity:
		return "ClassCircularity"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a classified linker failure. Descriptor names the class whose
// resolution or linking failed.
type Error struct {
	Kind       ErrorKind
	Descriptor string
	Msg        string
	Err        error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrClassNotFound           = &Error{Kind: KindClassNotFound}
	ErrMultipleImplementation  = &Error{Kind: KindMultipleImplementation}
	ErrMalformedMetadata       = &Error{Kind: KindMalformedMetadata}
	ErrIncompatibleClassChange = &Error{Kind: KindIncompatibleClassChange}
	ErrClassCircularity        = &Error{Kind: KindClassCircularity}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Descriptor != "" {
		msg += " " + e.Descriptor
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Descriptor == "" && t.Msg == "" && t.Err == nil
}

func newError(kind ErrorKind, d string, format string, args ...any) *Error {
	return &Error{Kind: kind, Descriptor: d, Msg: fmt.Sprintf(format, args...)}
}

func classNotFound(d string) *Error {
	return &Error{Kind: KindClassNotFound, Descriptor: d}
}

func malformed(d string, err error) *Error {
	return &Error{Kind: KindMalformedMetadata, Descriptor: d, Err: err}
}

// IsClassNotFound reports whether err is a recoverable lookup miss.
func IsClassNotFound(err error) bool {
	return errors.Is(err, ErrClassNotFound)
}

// IsLinkageError reports whether err belongs to the fatal linkage family.
// These are never cleared by the resolver.
func IsLinkageError(err error) bool {
	var le *Error
	if !errors.As(err, &le) {
		return false
	}
	return le.Kind != KindClassNotFound
}

// ErrorHandler receives every error a top-level resolution produces,
// after the resolution lock is released.
type ErrorHandler interface {
	OnError(err *Error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(err *Error)

func (f ErrorHandlerFunc) OnError(err *Error) {
	f(err)
}
