// Package ratelimit throttles the bandwidth of individual connections.
package ratelimit

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minBurstSize is the smallest piece a throttled read or write is cut into.
const minBurstSize = 512

func newRateLimiter(bandwidth int64) *rate.Limiter {
	// One limiter per connection, so the burst follows the rate: a fresh
	// connection may only get ahead by about 1/64th of a second.
	burst := int(max(bandwidth/64, minBurstSize))
	l := rate.NewLimiter(rate.Limit(bandwidth), burst)
	l.ReserveN(time.Now(), burst) // Start with an empty bucket.
	return l
}

// Conn limits reads to rx and writes to tx bytes per second.
//
// Reads and writes are cut into pieces of at most the limiter's burst. Each
// piece first waits until earlier pieces have been paid for; the wait ends
// early with os.ErrDeadlineExceeded at the connection's read or write
// deadline, and with net.ErrClosed once Close is called.
type Conn struct {
	net.Conn
	rxLimiter *rate.Limiter
	txLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

// Wrap returns c limited to rxBandwidth and txBandwidth bytes per second.
// A bandwidth of zero or less is unlimited; if both are, c is returned as is.
func Wrap(c net.Conn, rxBandwidth, txBandwidth int64) net.Conn {
	if rxBandwidth <= 0 && txBandwidth <= 0 {
		return c
	}

	rc := &Conn{Conn: c}
	rc.ctx, rc.cancel = context.WithCancel(context.Background())
	if rxBandwidth > 0 {
		rc.rxLimiter = newRateLimiter(rxBandwidth)
	}
	if txBandwidth > 0 {
		rc.txLimiter = newRateLimiter(txBandwidth)
	}
	return rc
}

func (c *Conn) Read(b []byte) (int, error) {
	l := c.rxLimiter
	if l == nil {
		return c.Conn.Read(b)
	}

	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()
	if err := c.settle(l, deadline); err != nil {
		return 0, err
	}

	if len(b) > l.Burst() {
		b = b[:l.Burst()]
	}
	n, err := c.Conn.Read(b)
	if n > 0 {
		l.ReserveN(time.Now(), n)
	}
	return n, err
}

func (c *Conn) Write(b []byte) (n int, err error) {
	l := c.txLimiter
	if l == nil {
		return c.Conn.Write(b)
	}

	c.mu.Lock()
	deadline := c.writeDeadline
	c.mu.Unlock()
	for len(b) > 0 {
		if err := c.settle(l, deadline); err != nil {
			return n, err
		}

		m, err := c.Conn.Write(b[:min(len(b), l.Burst())])
		if m > 0 {
			l.ReserveN(time.Now(), m)
		}
		n += m
		b = b[m:]
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close aborts throttled reads and writes and closes the wrapped connection.
func (c *Conn) Close() error {
	c.cancel()
	return c.Conn.Close()
}

// CloseWrite forwards half-close to the wrapped connection.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.mu.Unlock()
	return c.Conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return c.Conn.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return c.Conn.SetWriteDeadline(t)
}

// settle waits until l has no outstanding debt.
func (c *Conn) settle(l *rate.Limiter, deadline time.Time) error {
	for {
		if c.ctx.Err() != nil {
			return net.ErrClosed
		}

		now := time.Now()
		tokens := l.TokensAt(now)
		if tokens >= 0 {
			return nil
		}

		d := time.Duration(-tokens / float64(l.Limit()) * float64(time.Second))
		expired := false
		if !deadline.IsZero() {
			if left := deadline.Sub(now); left <= d {
				d, expired = max(left, 0), true
			}
		}

		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			return net.ErrClosed
		}
		if expired {
			return os.ErrDeadlineExceeded
		}
	}
}
