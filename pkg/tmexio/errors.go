package tmexio

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for router building and compilation.
var (
	// ErrNoHandlers indicates Compile() was called on an empty router.
	ErrNoHandlers = errors.New("no handlers registered")

	// ErrUnknownEvent indicates Dispatch() received an event with no handler.
	// The transport sees it packaged as EventUnknown.
	ErrUnknownEvent = errors.New("unknown event")
)

// EventException is a recoverable, coded error raised by handlers or by the
// dispatch pipeline itself. It is always packaged into an error Ack and never
// surfaces to the transport as a failure.
//
// Two exceptions are equal when their code and message are equal.
type EventException struct {
	Code    int
	Message string
}

// NewEventException creates an EventException.
func NewEventException(code int, message string) *EventException {
	return &EventException{Code: code, Message: message}
}

// Error implements the error interface.
func (e *EventException) Error() string {
	return fmt.Sprintf("event exception %d: %s", e.Code, e.Message)
}

// Is reports equality by code and message for errors.Is support.
func (e *EventException) Is(target error) bool {
	var other *EventException
	switch t := target.(type) {
	case *EventException:
		other = t
	case *EventBodyException:
		other = &t.EventException
	default:
		return false
	}
	return e.Code == other.Code && e.Message == other.Message
}

func (e *EventException) key() exceptionKey {
	return exceptionKey{code: e.Code, message: e.Message}
}

// Exceptions raised by the pipeline before any handler code runs.
var (
	ErrExpectsOneArgument   = NewEventException(422, "Event expects one argument")
	ErrExpectsZeroArguments = NewEventException(422, "Event expects zero arguments")

	// EventUnknown is packaged when a CompiledRouter has no handler for an event.
	EventUnknown = NewEventException(404, "Unknown event")
)

// BodyError describes one validation failure in an event body.
type BodyError struct {
	// Location is a JSON pointer into the body ("" for the body itself).
	Location string `json:"location" yaml:"location"`
	Message  string `json:"message" yaml:"message"`
}

// EventBodyException indicates the event body failed validation against the
// handler's body model.
type EventBodyException struct {
	EventException
	Errors []BodyError
}

// BodyExceptionCode and BodyExceptionMessage identify every EventBodyException.
const (
	BodyExceptionCode    = 422
	BodyExceptionMessage = "Invalid event body"
)

// NewEventBodyException creates a body exception carrying validator errors.
func NewEventBodyException(errs ...BodyError) *EventBodyException {
	return &EventBodyException{
		EventException: EventException{Code: BodyExceptionCode, Message: BodyExceptionMessage},
		Errors:         errs,
	}
}

// Error implements the error interface.
func (e *EventBodyException) Error() string {
	if len(e.Errors) == 0 {
		return e.EventException.Error()
	}
	parts := make([]string, 0, len(e.Errors))
	for _, be := range e.Errors {
		if be.Location == "" {
			parts = append(parts, be.Message)
			continue
		}
		parts = append(parts, be.Location+": "+be.Message)
	}
	return fmt.Sprintf("%s (%s)", e.EventException.Error(), strings.Join(parts, "; "))
}

// Unwrap exposes the embedded EventException so errors.As finds it.
func (e *EventBodyException) Unwrap() error {
	return &e.EventException
}

// ConnectionRefusedError is returned by ConnectHandler when admission fails.
// Transports must reject the peer and deliver Payload to it.
type ConnectionRefusedError struct {
	Payload Ack
	Err     *EventException
}

// Error implements the error interface.
func (e *ConnectionRefusedError) Error() string {
	return fmt.Sprintf("connection refused: %d %s", e.Payload.Code, e.Payload.Message)
}

// Unwrap returns the exception that caused the refusal.
func (e *ConnectionRefusedError) Unwrap() error {
	return e.Err
}

// DependencyError wraps a non-exception failure from a dependency function.
type DependencyError struct {
	// Dependency is the name of the dependency that failed.
	Dependency string
	Err        error
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DependencyError) Unwrap() error {
	return e.Err
}

// CancellationError records where a dispatch observed cancellation.
type CancellationError struct {
	// Event is the event being dispatched.
	Event string
	// Stage is "dependency:<name>" or "invoke".
	Stage string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("event %s cancelled before %s: %v", e.Event, e.Stage, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// PanicError captures a panic raised during dispatch.
type PanicError struct {
	Event string
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("event %s panicked: %v", e.Event, e.Value)
}

// AsEventException returns the first EventException in err's chain.
func AsEventException(err error) (*EventException, bool) {
	var body *EventBodyException
	if errors.As(err, &body) {
		return &body.EventException, true
	}
	var exc *EventException
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}

type exceptionKey struct {
	code    int
	message string
}
