package models

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrExternalService        = errors.New("external service error")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrUnauthenticated        = errors.New("unauthenticated")
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func InvalidTransition(op string, from, to any) error {
	return &Error{Kind: ErrInvalidStateTransition, Op: op, Msg: fmt.Sprintf("cannot move from %v to %v", from, to)}
}

func External(op string, err error) error {
	return &Error{Kind: ErrExternalService, Op: op, Err: err}
}

func NotFound(op, what string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: what + " not found"}
}

func Forbidden(op, format string, args ...any) error {
	return &Error{Kind: ErrForbidden, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Unauthenticated(op, msg string) error {
	return &Error{Kind: ErrUnauthenticated, Op: op, Msg: msg}
}

// KindOf returns the error kind of err, or nil when it carries none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrInvalidStateTransition,
		ErrExternalService,
		ErrNotFound,
		ErrForbidden,
		ErrUnauthenticated,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
