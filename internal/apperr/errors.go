// Package apperr classifies failures into caller-visible kinds
package apperr

import (
	"errors"
	"net/http"
)

// Kind identifies how an error is reported to the caller
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindRateLimit
	KindStorage
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindStorage:
		return "storage"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Messages shown to callers for kinds that must not carry detail
const (
	MsgInternal    = "An unexpected error occurred. Please try again later."
	MsgRateLimited = "Too many requests. Please try again later."
	MsgAuth        = "Invalid or expired credentials."
)

// Error is a classified failure. Message is safe to show to the caller,
// Err holds the internal cause and is only ever logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
		}
		return e.Kind.String() + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Kind.String() + ": " + e.Message
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrRateLimited = &Error{Kind: KindRateLimit}
	ErrStorage     = &Error{Kind: KindStorage}
	ErrDelivery    = &Error{Kind: KindDelivery}
)

// Validation reports malformed input with a specific caller-visible message
func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// Auth reports an authentication failure. The message must be generic.
func Auth(message string) error {
	if message == "" {
		message = MsgAuth
	}
	return &Error{Kind: KindAuth, Message: message}
}

// RateLimited reports that the client exhausted its request window
func RateLimited() error {
	return &Error{Kind: KindRateLimit, Message: MsgRateLimited}
}

// Storage wraps a datastore failure
func Storage(err error) error {
	return &Error{Kind: KindStorage, Err: err}
}

// Delivery wraps a notifier failure
func Delivery(err error) error {
	return &Error{Kind: KindDelivery, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Public maps err to an HTTP status and a message that is safe to return to the caller.
func Public(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, MsgInternal
	}

	switch e.Kind {
	case KindValidation:
		if e.Message == "" {
			return http.StatusBadRequest, "Invalid request."
		}
		return http.StatusBadRequest, e.Message
	case KindAuth:
		if e.Message == "" {
			return http.StatusUnauthorized, MsgAuth
		}
		return http.StatusUnauthorized, e.Message
	case KindRateLimit:
		return http.StatusTooManyRequests, MsgRateLimited
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}
