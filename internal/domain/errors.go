package domain

import "fmt"

// Kind classifies a core error so callers can map it to transport-level
// responses without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindConflict
	KindInsufficientFunds
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return "internal"
	}
}

// Error is the typed error returned by every core operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a typed error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain; unrecognized errors are
// internal.
func KindOf(err error) Kind {
	var de *Error
	for err != nil {
		var ok bool
		if de, ok = err.(*Error); ok {
			return de.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return KindInternal
}

func IsValidation(err error) bool        { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool          { return KindOf(err) == KindNotFound }
func IsAuthorization(err error) bool     { return KindOf(err) == KindAuthorization }
func IsConflict(err error) bool          { return KindOf(err) == KindConflict }
func IsInsufficientFunds(err error) bool { return KindOf(err) == KindInsufficientFunds }
