// Package apperr classifies failures into the kinds the bot reacts to:
// transient errors are retried, rejections are abandoned, invariant
// violations are refused and logged loudly, unrecoverable ones escalate.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindTransient     Kind = "transient"
	KindRejected      Kind = "rejected"
	KindInvariant     Kind = "invariant"
	KindUnrecoverable Kind = "unrecoverable"
)

// Codes shared by every network boundary.
const (
	CodeTimeout     = "timeout"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
)

type Error struct {
	kind Kind
	Code string
	Op   string
	Msg  string
	Err  error
}

func New(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, Code: code, Msg: msg}
}

// Wrap annotates a sentinel with the failing operation and its cause.
func Wrap(sentinel *Error, op string, cause error) *Error {
	return &Error{
		kind: sentinel.kind,
		Code: sentinel.Code,
		Op:   op,
		Msg:  sentinel.Msg,
		Err:  cause,
	}
}

func (e *Error) Kind() Kind {
	return e.kind
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

type kinded interface {
	Kind() Kind
}

func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func IsRejected(err error) bool {
	return KindOf(err) == KindRejected
}

func IsInvariant(err error) bool {
	return KindOf(err) == KindInvariant
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
