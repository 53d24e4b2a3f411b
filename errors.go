package blade

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure. It is distinct from the JSON-RPC wire error
// code: several Codes never
// reach the wire (Disconnected, Timeout, SessionTornDown are reported to a
// generator's callback, not framed as a response).
type Code int

const (
	// CodeArgumentInvalid is a missing or malformed request parameter.
	CodeArgumentInvalid Code = iota
	// CodeMethodUnknown is dispatch of an unregistered method.
	CodeMethodUnknown
	// CodeDisconnected means no usable session exists for a destination:
	// upstream is down and no downstream route is known.
	CodeDisconnected
	// CodeDuplicateOperation is a second concurrent attempt at a
	// singleton operation, e.g. connecting upstream while already UP.
	CodeDuplicateOperation
	// CodeInternal is an assertion violation or unexpected state.
	CodeInternal
	// CodeTimeout is a generator callback invoked after its deadline.
	CodeTimeout
	// CodeSessionTornDown is a generator callback invoked because the
	// session it was waiting on closed before a response arrived.
	CodeSessionTornDown
)

func (c Code) String() string {
	switch c {
	case CodeArgumentInvalid:
		return "argument_invalid"
	case CodeMethodUnknown:
		return "method_unknown"
	case CodeDisconnected:
		return "disconnected"
	case CodeDuplicateOperation:
		return "duplicate_operation"
	case CodeInternal:
		return "internal"
	case CodeTimeout:
		return "timeout"
	case CodeSessionTornDown:
		return "session_torn_down"
	default:
		return "unknown"
	}
}

// JSONRPCCode returns the wire error code a dispatcher should frame for
// this Code, or 0 if this Code never reaches the wire (the caller should
// not be building a response frame in that case).
func (c Code) JSONRPCCode() int {
	switch c {
	case CodeArgumentInvalid:
		return jsonrpcInvalidParams
	case CodeMethodUnknown:
		return jsonrpcMethodNotFound
	case CodeInternal:
		return jsonrpcInternalError
	default:
		return 0
	}
}

// Error wraps a Code with a human-readable message and, where available,
// an underlying cause captured with a stack trace.
type Error struct {
	Code    Code
	Message string

	wireCode int
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// JSONRPCCode reports the wire error code for this error's Code. An
// error relayed from a remote hop keeps the exact code the remote framed.
func (e *Error) JSONRPCCode() int {
	if e.wireCode != 0 {
		return e.wireCode
	}
	return e.Code.JSONRPCCode()
}

// NewError builds an Error with no wrapped cause.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// newWireError builds an Error from a JSON-RPC error object received
// from a remote hop, preserving the exact wire code so forwarding nodes
// relay errors verbatim instead of degrading everything to -32603.
func newWireError(code int, message string) *Error {
	c := CodeInternal
	switch code {
	case jsonrpcMethodNotFound:
		c = CodeMethodUnknown
	case jsonrpcInvalidParams:
		c = CodeArgumentInvalid
	}
	return &Error{Code: c, Message: message, wireCode: code}
}

// WrapError builds an Error wrapping cause with a stack trace via
// github.com/pkg/errors, preserving context for Internal errors that are
// logged before any fatal abort path.
func WrapError(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// AsError reports whether err is (or wraps) a *Error and returns it.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
