package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures for boundary handling.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindUpstream     ErrorKind = "upstream_failure"
	KindPartialWrite ErrorKind = "partial_write_failure"
)

// Error is the uniform error shape passed from operations to boundaries.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	// Completed lists the steps that succeeded before a partial write failed.
	Completed []string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if len(e.Completed) > 0 {
		fmt.Fprintf(&b, " (completed: %s)", strings.Join(e.Completed, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Unauthorized() error {
	return &Error{Kind: KindUnauthorized, Message: "Unauthorized"}
}

func Forbidden(msg string) error {
	if msg == "" {
		msg = "Forbidden"
	}
	return &Error{Kind: KindForbidden, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Upstream wraps a hosted-backend failure. Already classified errors pass
// through unchanged.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindUpstream, Op: op, Message: "Server error, please try again", Err: err}
}

// PartialWrite reports a multi-write operation that failed after the listed
// steps had already been persisted.
func PartialWrite(op string, completed []string, err error) error {
	return &Error{
		Kind:      KindPartialWrite,
		Op:        op,
		Message:   "Saved partially, please try again",
		Completed: append([]string(nil), completed...),
		Err:       err,
	}
}

// KindOf returns the kind of err, or KindUpstream for unclassified errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUpstream
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage is the text safe to show to a user for err.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return "Server error, please try again"
}
