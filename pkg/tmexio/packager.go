package tmexio

import "errors"

// DefaultSuccessCode is the code of success acknowledgements unless a handler
// or its Result overrides it.
const DefaultSuccessCode = 200

// Result is what an event handler returns: either plain data (Reply) or data
// with an explicit acknowledgement code (ReplyWithCode).
type Result struct {
	Data any
	// Code overrides the handler's success code when non-zero.
	Code int
}

// Reply returns data with the handler's success code.
func Reply(data any) Result {
	return Result{Data: data}
}

// ReplyWithCode returns data with an explicit success code.
func ReplyWithCode(code int, data any) Result {
	return Result{Data: data, Code: code}
}

// NoContent is an empty successful result.
var NoContent = Result{}

// Ack is the acknowledgement payload returned to the transport.
// Success acks carry Code and Data; error acks carry Code and Message, and
// Errors for body validation failures.
type Ack struct {
	Code    int         `json:"code"`
	Data    any         `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Errors  []BodyError `json:"errors,omitempty"`
}

// OK reports whether the ack is a success ack.
func (a Ack) OK() bool {
	return a.Code >= 200 && a.Code < 300
}

// MarshalJSON encodes the ack with the package codec.
func (a Ack) MarshalJSON() ([]byte, error) {
	type alias Ack
	return json.Marshal(alias(a))
}

// CodedPackager packages successful results.
type CodedPackager struct {
	Code int
}

// Pack converts a Result into a success Ack.
func (p CodedPackager) Pack(r Result) Ack {
	code := r.Code
	if code == 0 {
		code = p.Code
	}
	if code == 0 {
		code = DefaultSuccessCode
	}
	return Ack{Code: code, Data: r.Data}
}

// Unpack is the inverse of Pack.
func (p CodedPackager) Unpack(a Ack) Result {
	if a.Code == p.Code || (p.Code == 0 && a.Code == DefaultSuccessCode) {
		return Result{Data: a.Data}
	}
	return Result{Data: a.Data, Code: a.Code}
}

// ErrorPackager packages EventExceptions.
type ErrorPackager struct{}

// DefaultErrorPackager is shared by every handler.
var DefaultErrorPackager ErrorPackager

// Pack converts an exception into an error Ack.
func (ErrorPackager) Pack(exc *EventException) Ack {
	return Ack{Code: exc.Code, Message: exc.Message}
}

// PackError packages the first EventException in err's chain, including body
// errors. The boolean is false when err holds no EventException.
func (p ErrorPackager) PackError(err error) (Ack, bool) {
	var body *EventBodyException
	if errors.As(err, &body) {
		ack := p.Pack(&body.EventException)
		ack.Errors = body.Errors
		return ack, true
	}
	var exc *EventException
	if errors.As(err, &exc) {
		return p.Pack(exc), true
	}
	return Ack{}, false
}

// Exception converts an error Ack back into an EventException.
func (ErrorPackager) Exception(a Ack) *EventException {
	return NewEventException(a.Code, a.Message)
}
