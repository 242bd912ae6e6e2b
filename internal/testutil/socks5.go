package testutil

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/fwdproxy/internal/socks5"
)

// SOCKS5Handshake plays the server side of a SOCKS5 handshake on conn: method
// negotiation (and username/password authentication when auth.Username is
// set), then reading the client's request.
func SOCKS5Handshake(conn net.Conn, auth socks5.Auth) (*txsocks5.Request, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("socks5: negotiation request: %w", err)
	}

	want := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		// RFC 1928: 0xFF indicates no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
		return nil, errors.New("socks5: no acceptable method")
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("socks5: negotiation reply: %w", err)
	}

	if auth.Username != "" {
		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return nil, fmt.Errorf("socks5: read userpass: %w", err)
		}
		if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return nil, socks5.ErrAuthFailed
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("socks5: write userpass: %w", err)
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("socks5: request: %w", err)
	}
	return req, nil
}

// SOCKS5Reply writes a SOCKS5 reply with code rep. bound may be nil for
// failures.
func SOCKS5Reply(conn net.Conn, rep byte, bound net.Addr) error {
	r := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0})
	if bound != nil {
		a, addr, port, err := txsocks5.ParseAddress(bound.String())
		if err != nil {
			return fmt.Errorf("socks5: parse bound address %q: %w", bound, err)
		}
		if a == txsocks5.ATYPDomain {
			addr = addr[1:]
		}
		r = txsocks5.NewReply(rep, a, addr, port)
	}
	if _, err := r.WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: write reply: %w", err)
	}
	return nil
}
