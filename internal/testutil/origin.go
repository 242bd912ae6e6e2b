package testutil

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// Origin is a one-request HTTP origin server: it reads until the end of the
// request header block, writes Response and closes.
type Origin struct {
	net.Listener

	Response []byte

	mu       sync.Mutex
	requests [][]byte
	wait     func()
}

// StartOrigin serves up to n connections with response.
func StartOrigin(t *testing.T, ctx context.Context, n int, response []byte) *Origin {
	t.Helper()

	o := &Origin{Response: response}
	o.Listener, o.wait = StartAcceptServer(t, ctx, n, o.serve)
	t.Cleanup(o.wait)
	return o
}

// Requests returns the raw request bytes received so far.
func (o *Origin) Requests() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.requests...)
}

// Wait closes the listener and waits for in-flight connections.
func (o *Origin) Wait() {
	o.wait()
}

func (o *Origin) serve(c net.Conn) {
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))

	var req []byte
	buf := make([]byte, 4096)
	for !bytes.Contains(req, []byte("\r\n\r\n")) {
		n, err := c.Read(buf)
		req = append(req, buf[:n]...)
		if err != nil {
			break
		}
	}

	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()

	_, _ = c.Write(o.Response)
}
