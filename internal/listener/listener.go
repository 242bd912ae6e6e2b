// Package listener provides a TCP listening socket whose accept never
// blocks.
package listener

import (
	"errors"
	"net"
)

// ErrWouldBlock is returned by TryAccept when no connection is pending.
var ErrWouldBlock = errors.New("accept would block")

// Listener is a non-blocking TCP listener.
type Listener interface {
	// TryAccept returns a pending connection, ErrWouldBlock if there is
	// none, or net.ErrClosed after Close.
	TryAccept() (net.Conn, error)
	Addr() net.Addr
	Close() error
}

// applyKeepAlive sets keepAliveConfig on accepted TCP connections.
func applyKeepAlive(c net.Conn, keepAliveConfig net.KeepAliveConfig) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(keepAliveConfig)
	}
}
