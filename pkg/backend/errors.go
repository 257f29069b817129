package backend

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when a call needs a credential and none is
// held. No request is made.
var ErrUnauthenticated = errors.New("unauthenticated: connect a wallet first")

// ErrNoResponse means the backend answered successfully but with nothing to say.
var ErrNoResponse = errors.New("no response received")

// TransportError covers unreachable backends and non-2xx statuses.
type TransportError struct {
	Op         string
	StatusCode int // 0 when the request never got a response
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: API error (status %d): %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a 2xx response whose body does not have the expected shape.
type ProtocolError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrorKind groups errors for logging and display.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindTransport  ErrorKind = "transport"
	KindProtocol   ErrorKind = "protocol"
	KindNoResponse ErrorKind = "no_response"
	KindOther      ErrorKind = "other"
)

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *TransportError
	var pe *ProtocolError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return KindAuth
	case errors.Is(err, ErrNoResponse):
		return KindNoResponse
	case errors.As(err, &pe):
		return KindProtocol
	case errors.As(err, &te):
		return KindTransport
	default:
		return KindOther
	}
}
