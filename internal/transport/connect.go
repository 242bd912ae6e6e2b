package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/die-net/fwdproxy/internal/dialer"
	"github.com/die-net/fwdproxy/internal/resolver"
)

// Connector opens upstream Transports.
type Connector struct {
	Resolver resolver.Resolver
	Dialer   dialer.Dialer
	Config   Config
}

// Connect resolves host and connects to the first candidate that accepts.
// Zero resolved records or exhausting every candidate yields a
// *ConnectError.
func (c *Connector) Connect(ctx context.Context, host string, port int) (*Transport, error) {
	addrs, err := c.Resolver.LookupHost(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = resolver.ErrNoAddresses
	}
	if err != nil {
		return nil, &ConnectError{Host: host, Port: port, Err: err}
	}
	return c.ConnectAddrs(ctx, host, addrs, port)
}

// ConnectAddrs tries addrs in order on port and wraps the first connection
// that succeeds. host is only used for error reporting.
func (c *Connector) ConnectAddrs(ctx context.Context, host string, addrs []netip.Addr, port int) (*Transport, error) {
	if len(addrs) == 0 {
		return nil, &ConnectError{Host: host, Port: port, Err: resolver.ErrNoAddresses}
	}

	var errs []error
	for _, a := range addrs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		address := net.JoinHostPort(a.String(), strconv.Itoa(port))
		conn, err := c.Dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return Wrap(conn, c.Config), nil
	}

	return nil, &ConnectError{
		Host: host,
		Port: port,
		Err:  fmt.Errorf("%d candidate(s) failed: %w", len(addrs), errors.Join(errs...)),
	}
}
