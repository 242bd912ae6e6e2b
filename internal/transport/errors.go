package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrReceiveConsumed is yielded by a second iteration of a Transport's
	// receive sequence.
	ErrReceiveConsumed = errors.New("receive sequence already consumed")

	// ErrStalled is reported when a send makes no progress across the
	// configured number of would-block retries.
	ErrStalled = errors.New("send stalled")

	// ErrDeadline is reported when the per-connection deadline passes at a
	// suspension point.
	ErrDeadline = errors.New("connection deadline exceeded")
)

// ConnectError reports that no candidate address could be connected.
type ConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s port %d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError reports a non-transient write failure.
type SendError struct {
	Sent int
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed after %d bytes: %v", e.Sent, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports a read failure other than an orderly close.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive failed: %v", e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }
