// Package socks5 holds the client side of the SOCKS5 handshake used when
// upstream connections are routed through a SOCKS5 proxy.
//
// It wraps the wire types in github.com/txthinking/socks5. Only CONNECT is
// supported, with optional username/password authentication.
package socks5
