package transport

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/die-net/fwdproxy/internal/resolver"
	"github.com/die-net/fwdproxy/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, tr *Transport, ctx context.Context) ([]byte, error) {
	t.Helper()

	var got []byte
	for chunk, err := range tr.Receive(ctx) {
		if err != nil {
			return got, err
		}
		got = append(got, chunk...)
	}
	return got, nil
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := testutil.TCPPair(t)

	payload := make([]byte, 4<<20+17)
	_, _ = rand.Read(payload)

	cfg := Config{PollInterval: 20 * time.Millisecond, IOTimeout: 10 * time.Second}
	sender := Wrap(a, cfg)
	receiver := Wrap(b, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	var sendErr error
	wg.Go(func() {
		sendErr = sender.Send(ctx, payload)
		_ = sender.Close()
	})

	got, err := collect(t, receiver, ctx)
	wg.Wait()

	require.NoError(t, sendErr)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got), "payload mismatch: sent %d bytes got %d", len(payload), len(got))
	require.NoError(t, receiver.Close())
}

func TestReceiveWaitsAcrossPollSteps(t *testing.T) {
	a, b := testutil.TCPPair(t)

	receiver := Wrap(b, Config{PollInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = a.Write([]byte("late"))
		_ = a.Close()
	}()

	got, err := collect(t, receiver, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
}

func TestReceiveConsumedOnce(t *testing.T) {
	a, b := testutil.TCPPair(t)
	_ = a.Close()

	tr := Wrap(b, Config{})
	_, err := collect(t, tr, context.Background())
	require.NoError(t, err)

	_, err = collect(t, tr, context.Background())
	assert.ErrorIs(t, err, ErrReceiveConsumed)
}

func TestReceiveDeadline(t *testing.T) {
	a, _ := net.Pipe()
	tr := Wrap(a, Config{PollInterval: 10 * time.Millisecond, IOTimeout: 50 * time.Millisecond})
	defer tr.Close()

	_, err := collect(t, tr, context.Background())
	var re *ReceiveError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, ErrDeadline)
}

func TestReceiveHardError(t *testing.T) {
	_, b := testutil.TCPPair(t)
	tr := Wrap(b, Config{PollInterval: 10 * time.Millisecond})

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = b.Close()
	}()

	_, err := collect(t, tr, context.Background())
	var re *ReceiveError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestSendStalls(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	tr := Wrap(a, Config{PollInterval: 5 * time.Millisecond, MaxStalls: 3})
	defer tr.Close()

	err := tr.Send(context.Background(), []byte("nobody reads this"))
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, 0, se.Sent)
}

func TestSendCanceled(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	tr := Wrap(a, Config{})
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Send(ctx, []byte("x"))
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendToClosedPeer(t *testing.T) {
	a, b := net.Pipe()
	_ = b.Close()

	tr := Wrap(a, Config{PollInterval: 5 * time.Millisecond})
	defer tr.Close()

	err := tr.Send(context.Background(), []byte("x"))
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.NotErrorIs(t, err, ErrStalled)
}

func TestCloseIdempotent(t *testing.T) {
	a, _ := testutil.TCPPair(t)
	cc := testutil.NewCloseCounter(a)

	tr := Wrap(cc, Config{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, cc.Closes())
}

// scriptedDialer fails for addresses in fail and hands out one end of a
// net.Pipe otherwise.
type scriptedDialer struct {
	mu     sync.Mutex
	fail   map[string]bool
	dialed []string
	peers  []net.Conn
}

func (d *scriptedDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialed = append(d.dialed, address)
	if d.fail[address] {
		return nil, errors.New("refused: " + address)
	}
	c, s := net.Pipe()
	d.peers = append(d.peers, s)
	return c, nil
}

func (d *scriptedDialer) closePeers() {
	for _, p := range d.peers {
		_ = p.Close()
	}
}

func TestConnectTriesCandidatesInOrder(t *testing.T) {
	d := &scriptedDialer{fail: map[string]bool{"192.0.2.1:8080": true}}
	defer d.closePeers()

	c := &Connector{
		Resolver: resolver.Static{"multi.example": {
			netip.MustParseAddr("192.0.2.1"),
			netip.MustParseAddr("192.0.2.2"),
			netip.MustParseAddr("192.0.2.3"),
		}},
		Dialer: d,
	}

	tr, err := c.Connect(context.Background(), "multi.example", 8080)
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, []string{"192.0.2.1:8080", "192.0.2.2:8080"}, d.dialed)
}

func TestConnectFailures(t *testing.T) {
	d := &scriptedDialer{fail: map[string]bool{
		"192.0.2.1:80":     true,
		"[2001:db8::1]:80": true,
	}}
	c := &Connector{
		Resolver: resolver.Static{
			"down.example":  {netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("2001:db8::1")},
			"empty.example": {},
		},
		Dialer: d,
	}

	_, err := c.Connect(context.Background(), "down.example", 80)
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "down.example", ce.Host)
	assert.Contains(t, err.Error(), "refused: 192.0.2.1:80")
	assert.Contains(t, err.Error(), "refused: [2001:db8::1]:80")

	_, err = c.Connect(context.Background(), "empty.example", 80)
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, resolver.ErrNoAddresses)

	_, err = c.Connect(context.Background(), "unknown.example", 80)
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, resolver.ErrNotMapped)
}
