// Package onviferr defines the error taxonomy shared by every layer of the
// request pipeline and the SOAP 1.2 fault representation it is surfaced
// through.
package onviferr

import "fmt"

// Kind is one row of the error taxonomy. Each Kind has a fixed SOAP fault
// code and HTTP status it maps to at the layer boundary that surfaces it.
type Kind int

// Error kinds, one per taxonomy row.
const (
	// KindInvalid covers missing or malformed parameters.
	KindInvalid Kind = iota
	// KindNotFound covers an unknown service, operation, or token.
	KindNotFound
	// KindMemory covers allocation exhaustion (buffer pool, arenas).
	KindMemory
	// KindIO covers socket/syscall failures.
	KindIO
	// KindParse covers malformed XML or HTTP.
	KindParse
	// KindUnsupported covers operations that are recognized but not
	// implemented.
	KindUnsupported
	// KindTimeout covers a facade call that exceeded its budget.
	KindTimeout
	// KindInternal covers a recovered panic or other dispatcher-internal
	// failure; never produced by a handler directly.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "Invalid"
	case KindNotFound:
		return "NotFound"
	case KindMemory:
		return "Memory"
	case KindIO:
		return "IO"
	case KindParse:
		return "Parse"
	case KindUnsupported:
		return "Unsupported"
	case KindTimeout:
		return "Timeout"
	default:
		return "Internal"
	}
}

// FaultCode is the SOAP 1.2 fault code, soap:Sender or soap:Receiver.
type FaultCode string

// Fault codes.
const (
	FaultSender   FaultCode = "soap:Sender"
	FaultReceiver FaultCode = "soap:Receiver"
)

// faultCode maps a Kind to the SOAP fault code the spec's error-handling
// table prescribes for it.
func (k Kind) faultCode() FaultCode {
	switch k {
	case KindInvalid, KindNotFound, KindUnsupported, KindParse:
		return FaultSender
	default:
		return FaultReceiver
	}
}

// HTTPStatus returns the status code a bare (non-SOAP) error of this kind
// should be surfaced as, for layers below the SOAP context (HTTP parser).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid, KindParse:
		return 400
	case KindNotFound:
		return 404
	default:
		return 500
	}
}

// Error is an error carrying a taxonomy Kind, a SOAP-ready reason string,
// and an optional detail element. It is the only error type that crosses a
// handler boundary into the dispatcher.
type Error struct {
	Kind    Kind
	Reason  string
	Detail  string
	Wrapped error
}

// New builds an Error of the given kind with a formatted reason.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying error,
// using the wrapped error's message as the SOAP reason.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Reason: err.Error(), Wrapped: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Reason)
}

// Unwrap allows errors.Is/errors.As to see through Error.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// FaultCode returns the SOAP fault code this error should be reported as.
func (e *Error) FaultCode() FaultCode {
	return e.Kind.faultCode()
}

// Invalid is a convenience constructor for the most common handler-side
// validation failure.
func Invalid(format string, args ...interface{}) *Error {
	return New(KindInvalid, format, args...)
}

// NotFound is a convenience constructor for unknown service/operation/token
// lookups.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// Unsupported is a convenience constructor for recognized-but-unimplemented
// operations; ONVIF clients expect the "ter:ActionNotSupported" reason
// fragment for these.
func Unsupported(operation string) *Error {
	return &Error{
		Kind:   KindUnsupported,
		Reason: fmt.Sprintf("ter:ActionNotSupported: %s is not supported", operation),
	}
}
