package booking

import (
	"errors"
	"fmt"
)

// Kind classifies every error the engine returns to its callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInvalidTransition
	KindConfiguration
	KindPaymentProvider
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidTransition:
		return "invalid_state_transition"
	case KindConfiguration:
		return "configuration_error"
	case KindPaymentProvider:
		return "payment_provider_error"
	default:
		return "internal_error"
	}
}

// Error is the structured error returned by Engine operations. Message is
// safe to show to a caller; Err carries the underlying cause for logging.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that did not originate in the
// engine are reported as KindInternal.
func KindOf(err error) Kind {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransitionError(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func ConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// PaymentProviderError wraps a gateway failure. The cause is kept for logs
// and never rendered to callers.
func PaymentProviderError(provider string, err error) *Error {
	return &Error{Kind: KindPaymentProvider, Message: fmt.Sprintf("payment provider %s failed", provider), Err: err}
}

func InternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// Sentinel errors returned by BookingStore implementations.
var (
	ErrNoRecord     = errors.New("record not found")
	ErrOverlap      = errors.New("booking overlaps an existing booking")
	ErrStaleState   = errors.New("booking state changed concurrently")
	ErrStoreTimeout = errors.New("store timed out")
)
