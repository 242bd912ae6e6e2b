package listener

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type socketListener struct {
	keepAlive net.KeepAliveConfig
	addr      *net.TCPAddr

	// mu keeps Close from releasing fd while an accept is using it.
	mu     sync.RWMutex
	fd     int
	closed bool
}

// Listen opens a non-blocking listening socket on addr, an IP:port pair.
// Port 0 picks a free port; Addr reports the one chosen.
func Listen(addr string, keepAlive net.KeepAliveConfig) (Listener, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}

	l, err := listenSocket(ap)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	l.keepAlive = keepAlive
	return l, nil
}

func listenSocket(ap netip.AddrPort) (*socketListener, error) {
	var (
		family int
		sa     unix.Sockaddr
	)
	if a := ap.Addr().Unmap(); a.Is4() {
		family = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: int(ap.Port()), Addr: a.As4()}
	} else {
		family = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: int(ap.Port()), Addr: a.As16()}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}

	return &socketListener{fd: fd, addr: tcpAddr(bound)}, nil
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}

func (l *socketListener) TryAccept() (net.Conn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, net.ErrClosed
	}

	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			return nil, ErrWouldBlock
		default:
			return nil, os.NewSyscallError("accept4", err)
		}
	}

	// FileConn dups the descriptor; ours is closed either way.
	f := os.NewFile(uintptr(nfd), "tcp-accept")
	c, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}

	applyKeepAlive(c, l.keepAlive)
	return c, nil
}

func (l *socketListener) Addr() net.Addr {
	return l.addr
}

func (l *socketListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return os.NewSyscallError("close", unix.Close(l.fd))
}
