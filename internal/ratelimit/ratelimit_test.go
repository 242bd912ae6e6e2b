package ratelimit

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/fwdproxy/internal/testutil"
	"github.com/die-net/fwdproxy/internal/transport"
)

func TestWrapUnlimited(t *testing.T) {
	c, _ := testutil.TCPPair(t)
	assert.Same(t, c, Wrap(c, 0, 0))
}

func TestBurstFollowsBandwidth(t *testing.T) {
	assert.Equal(t, minBurstSize, newRateLimiter(1024).Burst())
	assert.Equal(t, (1<<30)/64, newRateLimiter(1<<30).Burst())

	l := newRateLimiter(64 * 1024)
	assert.Less(t, l.Tokens(), float64(l.Burst())/2)
}

func readAllAsync(r io.Reader) <-chan []byte {
	done := make(chan []byte, 1)
	go func() {
		got, _ := io.ReadAll(r)
		done <- got
	}()
	return done
}

func TestFreshConnWriteIsThrottled(t *testing.T) {
	a, b := testutil.TCPPair(t)

	const bandwidth = 64 * 1024
	rc := Wrap(a, 0, bandwidth).(*Conn)
	assert.Nil(t, rc.rxLimiter)

	done := readAllAsync(b)

	payload := make([]byte, bandwidth)
	start := time.Now()
	n, err := rc.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)

	require.NoError(t, rc.CloseWrite())
	assert.Len(t, <-done, len(payload))
}

func TestFreshConnReadIsThrottled(t *testing.T) {
	a, b := testutil.TCPPair(t)

	const bandwidth = 64 * 1024
	rc := Wrap(a, bandwidth, 0)

	go func() {
		_, _ = b.Write(make([]byte, bandwidth))
		_ = b.Close()
	}()

	start := time.Now()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, got, bandwidth)
	assert.GreaterOrEqual(t, time.Since(start), 800*time.Millisecond)
}

func TestCloseAbortsThrottledWrite(t *testing.T) {
	a, b := testutil.TCPPair(t)
	rc := Wrap(a, 0, 8*1024)
	_ = readAllAsync(b)

	type result struct {
		n   int
		err error
	}
	res := make(chan result, 1)
	go func() {
		n, err := rc.Write(make([]byte, 32*1024))
		res <- result{n, err}
	}()

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	require.NoError(t, rc.Close())

	select {
	case r := <-res:
		assert.ErrorIs(t, r.err, net.ErrClosed)
		assert.Less(t, r.n, 32*1024)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("Write still blocked after Close")
	}

	// Later calls fail straight away.
	_, err := rc.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestWriteDeadlineEndsThrottledWait(t *testing.T) {
	a, b := testutil.TCPPair(t)
	rc := Wrap(a, 0, 8*1024)
	done := readAllAsync(b)

	require.NoError(t, rc.SetWriteDeadline(time.Now().Add(100*time.Millisecond)))
	start := time.Now()
	n, err := rc.Write(make([]byte, 32*1024))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Positive(t, n)
	assert.Less(t, n, 32*1024)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, rc.Close())
	assert.Len(t, <-done, n)
}

func TestTransportSendsThroughLimit(t *testing.T) {
	a, b := testutil.TCPPair(t)
	tr := transport.Wrap(Wrap(a, 0, 32*1024), transport.Config{PollInterval: 20 * time.Millisecond})
	done := readAllAsync(b)

	payload := make([]byte, 16*1024)
	start := time.Now()
	require.NoError(t, tr.Send(context.Background(), payload))
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)

	require.NoError(t, tr.CloseWrite())
	assert.Len(t, <-done, len(payload))
	require.NoError(t, tr.Close())
}

func TestTransportSendHonorsCancel(t *testing.T) {
	a, b := testutil.TCPPair(t)
	tr := transport.Wrap(Wrap(a, 0, 1024), transport.Config{PollInterval: 20 * time.Millisecond})
	_ = readAllAsync(b)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tr.Send(ctx, make([]byte, 64*1024))
	var se *transport.SendError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, se.Sent, 64*1024)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NoError(t, tr.Close())
}
