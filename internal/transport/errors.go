package transport

import "errors"

var (
	// ErrBind is returned by Start when the endpoint cannot be bound.
	ErrBind = errors.New("bind error")

	// ErrInvalidState is returned when an operation is not allowed in the
	// server's current state, such as changing the endpoint while running.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimeout is returned by Client.Send when no reply arrives in time.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed is returned by a Client after Close or after a timeout
	// left its socket unusable.
	ErrClosed = errors.New("client closed")

	// ErrEchoMismatch is returned by Client.SendRecord when the reply is not
	// the payload that was sent.
	ErrEchoMismatch = errors.New("reply does not match request")
)
