// Package herrors defines the host's typed error taxonomy. Each kind maps to
// both an HTTP status and a JSON-RPC error code, so the same error value can
// be surfaced on the HTTP surface or folded into a JSON-RPC response.
package herrors

import "fmt"

// Kind classifies an error for status-code and JSON-RPC-code mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindPolicy     Kind = "policy"
	KindTransport  Kind = "transport"
	KindTimeout    Kind = "timeout"
	KindUpstream   Kind = "upstream"
)

// Error is the common shape for all host errors: a kind, a message, and an
// optional wrapped cause.
type Error struct {
	kind    Kind
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.err }

// Kind reports the error's classification.
func (e *Error) Kind() Kind { return e.kind }

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, err: cause}
}

func Validation(message string, cause error) *Error { return newErr(KindValidation, message, cause) }
func NotFound(message string, cause error) *Error   { return newErr(KindNotFound, message, cause) }
func Conflict(message string, cause error) *Error   { return newErr(KindConflict, message, cause) }
func Policy(message string, cause error) *Error     { return newErr(KindPolicy, message, cause) }
func Transport(message string, cause error) *Error  { return newErr(KindTransport, message, cause) }
func Timeout(message string, cause error) *Error    { return newErr(KindTimeout, message, cause) }
func Upstream(message string, cause error) *Error   { return newErr(KindUpstream, message, cause) }

// HTTPStatus maps a Kind to the HTTP status the surface should return.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindPolicy:
		return 403
	case KindTimeout:
		return 504
	case KindUpstream, KindTransport:
		return 502
	default:
		return 500
	}
}

// JSONRPCCode maps a Kind to a JSON-RPC 2.0 error code. Negative codes below
// -32000 are the "server error" reserved range; -32001 is carved out by the
// sampling service for "needs human review" (see pkg/mcpwire).
func JSONRPCCode(k Kind) int {
	switch k {
	case KindValidation:
		return -32602 // invalid params
	case KindNotFound:
		return -32601 // method/resource not found
	case KindTimeout:
		return -32002
	case KindPolicy:
		return -32003
	case KindUpstream, KindTransport:
		return -32004
	default:
		return -32000
	}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, otherwise
// reports KindUpstream as a conservative default.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		unwrap, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrap.Unwrap()
	}
	if e == nil {
		return KindUpstream
	}
	return e.kind
}
