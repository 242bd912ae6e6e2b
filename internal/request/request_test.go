package request

import (
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunked yields s split into pieces of size n, then err if non-nil.
func chunked(s string, n int, err error) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for len(s) > 0 {
			k := min(n, len(s))
			if !yield([]byte(s[:k]), nil) {
				return
			}
			s = s[k:]
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func TestRead(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		req      string
		wantHost string
		wantPort int
		wantErr  error
	}{
		{
			name:     "simple",
			req:      "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n",
			wantHost: "example.com",
			wantPort: 80,
		},
		{
			name:     "whitespace trimmed case preserved",
			req:      "GET / HTTP/1.1\r\nhost: \t Example.COM  \r\nAccept: */*\r\n\r\n",
			wantHost: "Example.COM",
			wantPort: 80,
		},
		{
			name:     "port in host header",
			req:      "GET / HTTP/1.0\r\nHost: example.com:8080\r\n\r\n",
			wantHost: "example.com",
			wantPort: 8080,
		},
		{
			name:     "port in absolute target",
			req:      "GET http://example.com:8081/x HTTP/1.1\r\nHost: example.com\r\n\r\n",
			wantHost: "example.com",
			wantPort: 8081,
		},
		{
			name:     "host header port wins over target",
			req:      "GET http://example.com:8081/x HTTP/1.1\r\nHost: example.com:9090\r\n\r\n",
			wantHost: "example.com",
			wantPort: 9090,
		},
		{
			name:     "ipv4 literal",
			req:      "GET / HTTP/1.1\r\nHost: 192.0.2.10:81\r\n\r\n",
			wantHost: "192.0.2.10",
			wantPort: 81,
		},
		{
			name:     "ipv6 literal",
			req:      "GET / HTTP/1.1\r\nHost: [2001:db8::1]:8443\r\n\r\n",
			wantHost: "[2001:db8::1]",
			wantPort: 8443,
		},
		{
			name:    "missing host",
			req:     "GET / HTTP/1.1\r\nAccept: */*\r\n\r\n",
			wantErr: ErrMissingHost,
		},
		{
			name:    "empty host",
			req:     "GET / HTTP/1.1\r\nHost:   \r\n\r\n",
			wantErr: ErrInvalidHost,
		},
		{
			name:    "duplicate host",
			req:     "GET / HTTP/1.1\r\nHost: a.example\r\nHost: b.example\r\n\r\n",
			wantErr: ErrDuplicateHost,
		},
		{
			name:    "bad port",
			req:     "GET / HTTP/1.1\r\nHost: example.com:99999\r\n\r\n",
			wantErr: ErrInvalidHost,
		},
		{
			name:    "unbracketed ipv6",
			req:     "GET / HTTP/1.1\r\nHost: 2001:db8::1\r\n\r\n",
			wantErr: ErrInvalidHost,
		},
		{
			name:    "bad hostname characters",
			req:     "GET / HTTP/1.1\r\nHost: exa mple.com\r\n\r\n",
			wantErr: ErrInvalidHost,
		},
		{
			name:    "bad request line",
			req:     "HELLO\r\nHost: example.com\r\n\r\n",
			wantErr: ErrMalformed,
		},
		{
			name:    "not http/1",
			req:     "GET / SPDY/3\r\nHost: example.com\r\n\r\n",
			wantErr: ErrMalformed,
		},
		{
			name:    "premature close",
			req:     "GET / HTTP/1.1\r\nHost: example.com\r\n",
			wantErr: ErrIncomplete,
		},
	}

	for _, tt := range tests {
		for _, size := range []int{1, 3, 7, 4096} {
			t.Run(tt.name, func(t *testing.T) {
				got, err := Read(chunked(tt.req, size, nil), 0)
				if tt.wantErr != nil {
					require.ErrorIs(t, err, tt.wantErr, "chunk size %d", size)
					return
				}
				require.NoError(t, err, "chunk size %d", size)
				assert.Equal(t, tt.wantHost, got.Host)
				assert.Equal(t, tt.wantPort, got.Port)
				assert.Equal(t, tt.req, string(got.Raw))
				assert.Equal(t, len(tt.req), got.HeaderLen)
			})
		}
	}
}

func TestReadKeepsBodyPrefix(t *testing.T) {
	t.Parallel()

	req := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 11\r\n\r\nhello world"
	got, err := Read(chunked(req, len(req), nil), 0)
	require.NoError(t, err)

	assert.Equal(t, req, string(got.Raw))
	assert.Equal(t, "hello world", string(got.Raw[got.HeaderLen:]))
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/submit", got.Target)
	assert.Equal(t, "HTTP/1.1", got.Proto)
	assert.Equal(t, "example.com:80", got.Addr())
}

func TestReadHeaderTooLarge(t *testing.T) {
	t.Parallel()

	req := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Pad: " + strings.Repeat("a", 200) + "\r\n\r\n"
	_, err := Read(chunked(req, 16, nil), 128)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)

	_, err = Read(chunked(req, len(req), nil), 128)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestReadPropagatesReceiveError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	_, err := Read(chunked("GET / HTTP/1.1\r\n", 4, boom), 0)
	assert.ErrorIs(t, err, boom)
}
