package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network failures and timeouts.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse marks bodies that are not the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRemote marks errors reported by the registry itself.
	ErrRemote = errors.New("remote error")
	// ErrNotAvailable is returned by fetches when the registry has no data yet.
	ErrNotAvailable = errors.New("artifact not available")
)

// Error carries the operation and key of a failed call.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error: http %d", e.Code)
	}
	return fmt.Sprintf("remote error: http %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }
