//go:build !linux

package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// acceptWait is how long TryAccept lets the runtime poller look for a
// pending connection.
const acceptWait = time.Millisecond

type tcpListener struct {
	*net.TCPListener
	keepAlive net.KeepAliveConfig
}

// Listen opens a TCP listener on addr, an IP:port pair. Port 0 picks a free
// port; Addr reports the one chosen.
func Listen(addr string, keepAlive net.KeepAliveConfig) (Listener, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &tcpListener{TCPListener: ln.(*net.TCPListener), keepAlive: keepAlive}, nil
}

func (l *tcpListener) TryAccept() (net.Conn, error) {
	_ = l.SetDeadline(time.Now().Add(acceptWait))
	c, err := l.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	applyKeepAlive(c, l.keepAlive)
	return c, nil
}
