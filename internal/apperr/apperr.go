// Package apperr carries failures from the coordinators to the view as a
// kind plus a display message, so rendering can branch on the kind.
package apperr

import (
	"context"
	"errors"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown  Kind = iota
	KindRequest       // backend answered with a non-success status
	KindNetwork       // transport failure, no response
	KindDecode        // response body did not parse
	KindCanceled      // request was superseded or aborted
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Kinded is implemented by errors that know their own kind.
type Kinded interface {
	error
	ErrorKind() Kind
}

// Classify turns any error into an *Error. The message is taken from the
// error itself, or fallback when the error has no text. Classify(nil) is nil.
func Classify(err error, fallback string) *Error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	e := &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
	var k Kinded
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindCanceled
	case errors.As(err, &k):
		e.Kind = k.ErrorKind()
	}
	if e.Message == "" {
		e.Message = fallback
	}
	return e
}

// Visible reports whether the error should be shown to the user.
// Cancellations are an internal detail of superseded requests.
func Visible(e *Error) bool {
	return e != nil && e.Kind != KindCanceled
}
