// Package dialer provides outbound dialing used by the proxy pipeline.
//
// Dialers implement a small interface (DialContext). The pipeline dials each
// resolved upstream address through one, either directly or through an
// upstream SOCKS5 proxy.
package dialer
