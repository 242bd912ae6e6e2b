package dialer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/fwdproxy/internal/socks5"
	"github.com/die-net/fwdproxy/internal/testutil"
)

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = serveSOCKS5Connect(ctx, c, socks5.Auth{Username: tt.user, Password: tt.pass})
			})

			f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), tt.user, tt.pass)

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			waitUp()
		})
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	lc := net.ListenConfig{}
	upLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upLn.Close()

	release := make(chan struct{})
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		c, err := upLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		<-release
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 5 * time.Second}, upLn.Addr().String(), "", "")

	start := time.Now()
	if _, err := f.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("dial ignored context cancellation, took %s", elapsed)
	}

	close(release)
	_ = upLn.Close()
	<-acceptDone
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		req, err := testutil.SOCKS5Handshake(c, socks5.Auth{})
		if err != nil || req.Cmd != txsocks5.CmdConnect {
			return
		}
		_ = testutil.SOCKS5Reply(c, txsocks5.RepConnectionRefused, nil)
	})

	f := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")

	if _, err := f.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}

	waitUp()
}

// serveSOCKS5Connect is a one-shot SOCKS5 server: it dials the requested
// destination directly and splices the two connections.
func serveSOCKS5Connect(ctx context.Context, c net.Conn, auth socks5.Auth) error {
	req, err := testutil.SOCKS5Handshake(c, auth)
	if err != nil {
		return err
	}
	if req.Cmd != txsocks5.CmdConnect {
		return testutil.SOCKS5Reply(c, txsocks5.RepCommandNotSupported, nil)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return testutil.SOCKS5Reply(c, txsocks5.RepHostUnreachable, nil)
	}
	defer dst.Close()

	if err := testutil.SOCKS5Reply(c, txsocks5.RepSuccess, dst.LocalAddr()); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)

	return nil
}
