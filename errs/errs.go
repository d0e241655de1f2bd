// Package errs implements the closed error-kind vocabulary from spec.md §7.
// Every error the object layer raises is one of these kinds, wrapped with
// github.com/cockroachdb/errors so callers keep a stack trace and can still
// errors.Is/errors.As through to the kind.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
)

// Kind is the closed set of error kinds from spec.md §7.
type Kind string

const (
	KindAttrNameUnknown Kind = "attr-name-unknown"
	KindAttrPermission  Kind = "attr-permission"
	KindAttrValue       Kind = "attr-value"
	KindAttrErrorList   Kind = "attr-error-list"
	KindToiNonexistent  Kind = "toi-nonexistent"
	KindToiDeleted      Kind = "toi-deleted"
	KindCommitConflict  Kind = "commit-conflict"
	KindToisLocked      Kind = "tois-locked"
	KindTimeout         Kind = "timeout"
	KindClientError     Kind = "client-error"
	KindInternal        Kind = "internal"
)

// Reason is the per-element coercion/restriction failure reason that an
// attr-value error wraps (spec.md §7 parenthetical).
type Reason string

const (
	ReasonBool          Reason = "bool"
	ReasonInt           Reason = "int"
	ReasonFloat         Reason = "float"
	ReasonDecimal       Reason = "decimal"
	ReasonString        Reason = "string"
	ReasonRegexp        Reason = "regexp"
	ReasonRange         Reason = "range"
	ReasonResolution    Reason = "resolution"
	ReasonSize          Reason = "size"
	ReasonQuantityMin   Reason = "quantity-min"
	ReasonQuantityMax   Reason = "quantity-max"
	ReasonSelection     Reason = "selection"
	ReasonToiType       Reason = "toi-type"
	ReasonQualification Reason = "qualification"
	ReasonUnique        Reason = "unique"
	ReasonRelation      Reason = "relation"
)

// Error is the base error type: a kind plus an underlying cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause.Error())
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps msg as an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap wraps an existing error as the given kind, preserving its stack/cause.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AttrValueError is an attr-value error for a single attribute element.
type AttrValueError struct {
	Attr   string
	Index  int
	Reason Reason
	cause  error
}

func (e *AttrValueError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("attribute %q[%d]: %s", e.Attr, e.Index, e.Reason)
	}
	return fmt.Sprintf("attribute %q[%d]: %s: %s", e.Attr, e.Index, e.Reason, e.cause.Error())
}

func (e *AttrValueError) Unwrap() error { return e.cause }

func (e *AttrValueError) Kind() Kind { return KindAttrValue }

// NewAttrValueError builds an attr-value error.
func NewAttrValueError(attr string, index int, reason Reason, cause error) *AttrValueError {
	return &AttrValueError{Attr: attr, Index: index, Reason: reason, cause: cause}
}

// AttrErrorList accumulates per-attribute value errors over the course of
// one operation's pre-validation pass, per spec.md §7's propagation policy:
// "Pre-validation accumulates errors per operation before raising, so the
// caller sees all bad attributes at once."
type AttrErrorList struct {
	Errors []*AttrValueError
}

func (l *AttrErrorList) Add(err *AttrValueError) {
	if err != nil {
		l.Errors = append(l.Errors, err)
	}
}

func (l *AttrErrorList) Empty() bool { return len(l.Errors) == 0 }

func (l *AttrErrorList) Kind() Kind { return KindAttrErrorList }

func (l *AttrErrorList) Error() string {
	var merged error
	for _, e := range l.Errors {
		merged = multierr.Append(merged, e)
	}
	if merged == nil {
		return string(KindAttrErrorList)
	}
	return merged.Error()
}

// AsErr returns l as an error, or nil if l has accumulated nothing.
func (l *AttrErrorList) AsErr() error {
	if l.Empty() {
		return nil
	}
	return l
}

// ClientError marks err as safe to propagate verbatim to the requester
// instead of being replaced with a generic internal error (spec.md §7).
func ClientError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindClientError, cause: err}
}

// Internal wraps err as an internal error — logged, commit marked failed,
// generic message surfaced to the caller.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, cause: errors.WithStack(err)}
}
