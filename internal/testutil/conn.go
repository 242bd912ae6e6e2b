package testutil

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
)

// CloseCounter wraps a net.Conn and counts calls to Close that reach the
// underlying connection.
type CloseCounter struct {
	net.Conn
	closes atomic.Int32
}

func NewCloseCounter(c net.Conn) *CloseCounter {
	return &CloseCounter{Conn: c}
}

func (c *CloseCounter) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// Closes reports how many times Close was called.
func (c *CloseCounter) Closes() int {
	return int(c.closes.Load())
}

// CloseWrite forwards half-close when the wrapped conn supports it.
func (c *CloseCounter) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// TCPPair returns both ends of a loopback TCP connection. Both are closed
// when the test ends.
func TCPPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// RedirectDialer dials Target whatever address it is asked for, recording
// the requested addresses. Connections it returns are CloseCounters.
type RedirectDialer struct {
	Target string

	mu        sync.Mutex
	requested []string
	conns     []*CloseCounter
}

func (d *RedirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.requested = append(d.requested, address)
	d.mu.Unlock()

	var nd net.Dialer
	c, err := nd.DialContext(ctx, network, d.Target)
	if err != nil {
		return nil, err
	}
	cc := NewCloseCounter(c)

	d.mu.Lock()
	d.conns = append(d.conns, cc)
	d.mu.Unlock()
	return cc, nil
}

// Requested returns the addresses passed to DialContext so far.
func (d *RedirectDialer) Requested() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requested...)
}

// Conns returns the connections dialed so far.
func (d *RedirectDialer) Conns() []*CloseCounter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*CloseCounter(nil), d.conns...)
}
