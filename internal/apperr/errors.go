package apperr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how callers are expected to react to them.
type Kind string

const (
	KindValidation    Kind = "validation"     // malformed question/answer structure or input
	KindAvailability  Kind = "availability"   // timing or state forbids the action
	KindConcurrency   Kind = "concurrency"    // lost a race to start/submit
	KindDataIntegrity Kind = "data_integrity" // weights/points do not add up
	KindNotFound      Kind = "not_found"
)

// Codes for the conditions callers branch on.
const (
	CodeExamNotAvailable    = "ExamNotAvailable"
	CodeAttemptLimitReached = "AttemptLimitReached"
	CodeAttemptNotWritable  = "AttemptNotWritable"
	CodeAttemptInProgress   = "AttemptInProgress"
	CodeInsufficientPool    = "InsufficientPool"
	CodeWeightsInvalid      = "WeightsInvalid"
	CodeNotReady            = "NotReady"
	CodeInvalid             = "Invalid"
	CodeNotFound            = "NotFound"
)

// Error is the error type returned by the engine packages.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	if e.Msg == "" {
		return e.Code
	}
	return e.Code + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so that errors.Is(err, ErrAttemptLimitReached) holds for
// any *Error carrying that code, whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Kind == "" || t.Kind == e.Kind)
}

var (
	ErrExamNotAvailable    = &Error{Kind: KindAvailability, Code: CodeExamNotAvailable}
	ErrAttemptLimitReached = &Error{Kind: KindAvailability, Code: CodeAttemptLimitReached}
	ErrAttemptNotWritable  = &Error{Kind: KindAvailability, Code: CodeAttemptNotWritable}
	ErrAttemptInProgress   = &Error{Kind: KindConcurrency, Code: CodeAttemptInProgress}
	ErrInsufficientPool    = &Error{Kind: KindValidation, Code: CodeInsufficientPool}
	ErrWeightsInvalid      = &Error{Kind: KindDataIntegrity, Code: CodeWeightsInvalid}
	ErrNotReady            = &Error{Kind: KindDataIntegrity, Code: CodeNotReady}
	ErrNotFound            = &Error{Kind: KindNotFound, Code: CodeNotFound}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalid, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Msg: fmt.Sprintf("%s %q not found", what, id)}
}

// New builds an error that matches the given sentinel under errors.Is.
func New(sentinel *Error, format string, args ...any) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap is New with an underlying cause.
func Wrap(sentinel *Error, err error, format string, args ...any) *Error {
	e := New(sentinel, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
