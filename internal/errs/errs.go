// Package errs defines the engine's structural error kinds and maps them to
// stable codes at the HTTP boundary. Internal components wrap plain errors
// with fmt.Errorf("...: %w", err); this package only adds the taxonomy the
// boundary needs.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a structural error category, independent of transport.
type Kind string

const (
	ConnectionError       Kind = "connection_error"
	AuthError             Kind = "auth_error"
	ProtocolError         Kind = "protocol_error"
	MatchingError         Kind = "matching_error"
	DataStoreError        Kind = "data_store_error"
	TradingError          Kind = "trading_error"
	SizeLimitExceeded     Kind = "size_limit_exceeded"
	InsufficientLiquidity Kind = "insufficient_liquidity"
	DuplicateExecution    Kind = "duplicate_execution"
)

// httpStatus maps each Kind to the stable HTTP code for the boundary.
var httpStatus = map[Kind]int{
	ConnectionError:       502,
	AuthError:             401,
	ProtocolError:         400,
	MatchingError:         502,
	DataStoreError:        500,
	TradingError:          502,
	SizeLimitExceeded:     422,
	InsufficientLiquidity: 422,
	DuplicateExecution:    409,
}

// Error is a Kind-tagged error carrying a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// HTTPStatus returns the stable HTTP status code for err's Kind, or 500 if
// err is not a *Error.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if code, ok := httpStatus[e.Kind]; ok {
			return code
		}
	}
	return 500
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
