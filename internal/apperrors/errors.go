// Package apperrors defines the typed errors bunquery surfaces to
// clients over the wire, mirroring the discriminant-based error kinds
// bunbase's HTTP services use (pkg/errors.AppError) but keyed by
// protocol error kind rather than HTTP status.
package apperrors

import "fmt"

// Kind is one of the error-kind discriminants from the gateway's error
// handling design: Protocol, Admission, Resolution, Driver,
// Cancellation, Transport.
type Kind string

const (
	KindProtocol     Kind = "protocol"
	KindAdmission    Kind = "admission"
	KindResolution   Kind = "resolution"
	KindDriver       Kind = "driver"
	KindCancellation Kind = "cancellation"
	KindTransport    Kind = "transport"
)

// Code is the short wire-visible code sent in an error frame's
// payload.code field.
type Code string

const (
	CodeDuplicateStream    Code = "DuplicateStream"
	CodeQueueFull          Code = "QueueFull"
	CodeInvalidRequest     Code = "InvalidRequest"
	CodeQueryNotFound      Code = "QueryNotFound"
	CodeConnectorNotFound  Code = "ConnectorNotFound"
	CodeUnsupportedBackend Code = "UnsupportedBackend"
	CodeTemplateParseError Code = "TemplateParseError"
	CodeTemplateRender     Code = "TemplateRenderError"
	CodeConnectError       Code = "ConnectError"
	CodeQueryError         Code = "QueryError"
	CodeStreamError        Code = "StreamError"
	CodeStreamNotFound     Code = "StreamNotFound"
)

// Error is the application error type carried through resolver, driver
// and gateway code. It always knows which Kind of failure it is so the
// gateway can decide whether the transport stays open (Admission,
// Resolution, Driver, Cancellation) or must close (unrecoverable
// Protocol/Transport failures).
type Error struct {
	Kind      Kind
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind/code, wrapping cause if given.
func New(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Retryable marks a driver error as retryable per the backend's own
// classification; retry policy itself is not implemented here (see
// DESIGN.md's Open Question decision on retries).
func Retryable(code Code, message string, cause error) *Error {
	return &Error{Kind: KindDriver, Code: code, Message: message, Err: cause, Retryable: true}
}

func QueryNotFound(id string) *Error {
	return New(KindResolution, CodeQueryNotFound, fmt.Sprintf("query %q not found", id), nil)
}

func ConnectorNotFound(id string) *Error {
	return New(KindResolution, CodeConnectorNotFound, fmt.Sprintf("connector %q not found", id), nil)
}

func UnsupportedBackend(backendType string) *Error {
	return New(KindResolution, CodeUnsupportedBackend, fmt.Sprintf("unsupported backend type %q", backendType), nil)
}

func TemplateParseError(err error) *Error {
	return New(KindResolution, CodeTemplateParseError, "failed to parse query template", err)
}

func TemplateRenderError(err error) *Error {
	return New(KindResolution, CodeTemplateRender, "failed to render query template", err)
}

func DuplicateStream(streamID string) *Error {
	return New(KindAdmission, CodeDuplicateStream, fmt.Sprintf("stream %q already active", streamID), nil)
}

func QueueFull() *Error {
	return New(KindAdmission, CodeQueueFull, "query queue is full", nil)
}

func InvalidRequest(message string) *Error {
	return New(KindAdmission, CodeInvalidRequest, message, nil)
}

func StreamNotFound(streamID string) *Error {
	return New(KindCancellation, CodeStreamNotFound, fmt.Sprintf("stream %q not found", streamID), nil)
}

func ConnectError(err error) *Error {
	return New(KindDriver, CodeConnectError, "failed to connect to backend", err)
}

func QueryError(err error) *Error {
	return New(KindDriver, CodeQueryError, "failed to execute query", err)
}

func StreamError(err error) *Error {
	return New(KindDriver, CodeStreamError, "row stream failed", err)
}

// AsError extracts an *Error from err, wrapping it as an unclassified
// Driver error if it is not already one of ours.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return New(KindDriver, CodeQueryError, err.Error(), err)
}
