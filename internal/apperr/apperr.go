// Package apperr defines the error kinds the ledger exposes to callers.
// Kinds pass through every layer unchanged; anything else is wrapped as StorageFailure
// with the original cause kept for diagnostics.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindUnknown                 Kind = ""
	KindNotFound                Kind = "not_found"
	KindUniqueness              Kind = "uniqueness"
	KindProviderFailure         Kind = "provider_failure"
	KindDecodeFailure           Kind = "decode_failure"
	KindTransactionNotRequested Kind = "transaction_not_requested"
	KindStorageFailure          Kind = "storage_failure"
	KindInvalidArgument         Kind = "invalid_argument"
	KindUnauthenticated         Kind = "unauthenticated"
)

var defaultMessages = map[Kind]string{
	KindNotFound:                "resource not found",
	KindUniqueness:              "resource already exists",
	KindProviderFailure:         "payment provider request failed",
	KindDecodeFailure:           "invalid provider payload",
	KindTransactionNotRequested: "transaction was not requested by this application",
	KindStorageFailure:          "database operation failed",
	KindInvalidArgument:         "invalid argument",
	KindUnauthenticated:         "authentication required",
}

// Error is a classified error. Err holds the cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works
// however deeply the error was wrapped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrUniqueness              = &Error{Kind: KindUniqueness}
	ErrProviderFailure         = &Error{Kind: KindProviderFailure}
	ErrDecodeFailure           = &Error{Kind: KindDecodeFailure}
	ErrTransactionNotRequested = &Error{Kind: KindTransactionNotRequested}
	ErrStorageFailure          = &Error{Kind: KindStorageFailure}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated}
)

// Option customizes an Error at construction.
type Option func(*Error)

// WithMessage overrides the default message of the kind.
func WithMessage(msg string) Option {
	return func(e *Error) {
		e.Message = msg
	}
}

// WithMessagef is WithMessage with formatting.
func WithMessagef(format string, args ...interface{}) Option {
	return WithMessage(fmt.Sprintf(format, args...))
}

// WithError attaches the underlying cause.
func WithError(err error) Option {
	return func(e *Error) {
		e.Err = err
	}
}

// New builds an Error of kind k.
func New(k Kind, opts ...Option) *Error {
	e := &Error{Kind: k, Message: defaultMessages[k]}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func NotFound(opts ...Option) *Error        { return New(KindNotFound, opts...) }
func Uniqueness(opts ...Option) *Error      { return New(KindUniqueness, opts...) }
func ProviderFailure(opts ...Option) *Error { return New(KindProviderFailure, opts...) }
func DecodeFailure(opts ...Option) *Error   { return New(KindDecodeFailure, opts...) }
func StorageFailure(opts ...Option) *Error  { return New(KindStorageFailure, opts...) }
func InvalidArgument(opts ...Option) *Error { return New(KindInvalidArgument, opts...) }
func Unauthenticated(opts ...Option) *Error { return New(KindUnauthenticated, opts...) }

func TransactionNotRequested(opts ...Option) *Error {
	return New(KindTransactionNotRequested, opts...)
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k anywhere in its chain.
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

// Classified reports whether err already carries a kind.
func Classified(err error) bool {
	return KindOf(err) != KindUnknown
}

// AsStorage passes classified errors through and wraps everything else as StorageFailure.
func AsStorage(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return StorageFailure(WithError(err))
}

// AsProvider passes classified errors through and wraps everything else as ProviderFailure.
func AsProvider(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return ProviderFailure(WithError(err))
}
