package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/fwdproxy/internal/socks5"
)

// SOCKS5ProxyDialer reaches destinations through an upstream SOCKS5 proxy
// using the CONNECT command.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	auth      socks5.Auth
	direct    Dialer
}

func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		auth:      socks5.Auth{Username: username, Password: password},
		direct:    NewDirectDialer(Config{DialTimeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}),
	}
}

// ProxyAddr returns the proxy host:port.
func (d *SOCKS5ProxyDialer) ProxyAddr() string {
	return d.proxyAddr
}

// DialContext connects to the proxy and asks it to CONNECT to address. The
// handshake is bounded by DialTimeout and by ctx.
func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if d.cfg.DialTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.DialTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Now())
	})

	err = socks5.ClientDial(c, d.auth, address)
	if !stop() || err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}

	_ = c.SetDeadline(time.Time{})
	return c, nil
}
