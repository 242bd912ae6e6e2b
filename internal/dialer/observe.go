package dialer

import (
	"context"
	"net"
	"sync"
)

// Observer receives dial lifecycle events. Addresses are the host:port that
// was dialed.
type Observer interface {
	Dialed(address string)
	DialFailed(address string)
	Closed(address string)
}

type observedDialer struct {
	next Dialer
	obs  Observer
}

// Observe wraps d so that obs sees every dial, dial failure and close.
func Observe(d Dialer, obs Observer) Dialer {
	return &observedDialer{next: d, obs: obs}
}

func (d *observedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := d.next.DialContext(ctx, network, address)
	if err != nil {
		d.obs.DialFailed(address)
		return nil, err
	}
	d.obs.Dialed(address)
	return &observedConn{Conn: c, onClose: func() { d.obs.Closed(address) }}, nil
}

// observedConn reports the first Close only.
type observedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *observedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.onClose)
	return err
}

// CloseWrite keeps half-close available through the wrapper.
func (c *observedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
