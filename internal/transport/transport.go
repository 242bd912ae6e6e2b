package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultBufferSize   = 32 * 1024
	DefaultMaxStalls    = 100
)

type Config struct {
	// IOTimeout is the total lifetime allowed for the connection, measured
	// from Wrap. Zero means no deadline.
	IOTimeout time.Duration

	// PollInterval is the longest a single read or write blocks before the
	// Transport re-checks its context and deadline.
	PollInterval time.Duration

	// MaxStalls bounds consecutive would-block retries of Send that make no
	// progress. Zero means DefaultMaxStalls; negative means unbounded.
	MaxStalls int

	// BufferSize is the size of chunks yielded by Receive.
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxStalls == 0 {
		c.MaxStalls = DefaultMaxStalls
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Transport owns one TCP connection.
//
// Reads and writes block the calling goroutine for at most PollInterval at a
// time; an expired step is treated as would-block and retried after checking
// the context and the connection deadline. A Transport is not safe for
// concurrent Send calls or concurrent Receive iteration, but Close may be
// called from any goroutine.
type Transport struct {
	conn     net.Conn
	cfg      Config
	deadline time.Time
	bufs     *bufferPool

	received  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Wrap takes ownership of an already connected conn.
func Wrap(conn net.Conn, cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		conn: conn,
		cfg:  cfg,
		bufs: poolFor(cfg.BufferSize),
	}
	if cfg.IOTimeout > 0 {
		t.deadline = time.Now().Add(cfg.IOTimeout)
	}
	return t
}

func (t *Transport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Send writes all of b, retrying the unsent suffix on would-block. It returns
// nil only once every byte has been accepted by the connection.
func (t *Transport) Send(ctx context.Context, b []byte) error {
	sent, stalls := 0, 0
	for len(b) > 0 {
		if err := t.checkpoint(ctx); err != nil {
			return &SendError{Sent: sent, Err: err}
		}

		_ = t.conn.SetWriteDeadline(t.stepDeadline())
		n, err := t.conn.Write(b)
		b = b[n:]
		sent += n
		if err == nil {
			continue
		}
		if !isWouldBlock(err) {
			return &SendError{Sent: sent, Err: err}
		}

		if n > 0 {
			stalls = 0
			continue
		}
		stalls++
		if t.cfg.MaxStalls > 0 && stalls > t.cfg.MaxStalls {
			return &SendError{Sent: sent, Err: fmt.Errorf("%w: no progress after %d retries", ErrStalled, t.cfg.MaxStalls)}
		}
	}
	return nil
}

// Receive returns the sequence of chunks read from the connection until the
// peer closes it. A read failure is yielded once as a *ReceiveError and ends
// the sequence. Each chunk is only valid until the next iteration step.
//
// The sequence can be consumed once; later iterations yield
// ErrReceiveConsumed.
func (t *Transport) Receive(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !t.received.CompareAndSwap(false, true) {
			yield(nil, ErrReceiveConsumed)
			return
		}

		bp := t.bufs.Get()
		defer t.bufs.Put(bp)
		buf := *bp

		for {
			if err := t.checkpoint(ctx); err != nil {
				yield(nil, &ReceiveError{Err: err})
				return
			}

			_ = t.conn.SetReadDeadline(t.stepDeadline())
			n, err := t.conn.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}

			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				return
			case isWouldBlock(err):
			default:
				yield(nil, &ReceiveError{Err: err})
				return
			}
		}
	}
}

// CloseWrite shuts down the sending side, signalling end of request to
// peers that wait for it. Connections without half-close support are left
// untouched.
func (t *Transport) CloseWrite() error {
	cw, ok := t.conn.(interface{ CloseWrite() error })
	if !ok {
		return nil
	}
	return cw.CloseWrite()
}

// Close releases the connection. Only the first call closes the socket;
// later calls return the first result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func (t *Transport) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.deadline.IsZero() && !time.Now().Before(t.deadline) {
		return ErrDeadline
	}
	return nil
}

func (t *Transport) stepDeadline() time.Time {
	step := time.Now().Add(t.cfg.PollInterval)
	if !t.deadline.IsZero() && t.deadline.Before(step) {
		return t.deadline
	}
	return step
}

func isWouldBlock(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
