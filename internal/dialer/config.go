package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds each TCP connect, including the upstream proxy
	// handshake when one is configured.
	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Observer, if set, is told about every dial and every close of a
	// dialed connection.
	Observer Observer
}
