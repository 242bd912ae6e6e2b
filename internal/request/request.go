// Package request reads the header block of a proxied HTTP/1.x request and
// extracts the destination from its Host header.
package request

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPort           = 80
	DefaultMaxHeaderBytes = 64 << 10
)

var (
	ErrMissingHost    = errors.New("missing Host header")
	ErrDuplicateHost  = errors.New("multiple Host headers")
	ErrInvalidHost    = errors.New("invalid Host header")
	ErrMalformed      = errors.New("malformed request")
	ErrHeaderTooLarge = errors.New("request header too large")
	ErrIncomplete     = errors.New("connection closed before end of request header")
)

var terminator = []byte("\r\n\r\n")

// ParsedRequest is the destination and raw bytes of one client request.
type ParsedRequest struct {
	Method string
	Target string
	Proto  string

	// Host is the Host header value without its port, surrounding
	// whitespace removed and case preserved. IPv6 literals keep their
	// brackets.
	Host string
	Port int

	// Raw holds every byte read from the client: the header block followed
	// by whatever part of the body arrived with it.
	Raw []byte

	// HeaderLen is the length of the header block within Raw, terminator
	// included.
	HeaderLen int
}

// Addr returns host:port for logging.
func (r *ParsedRequest) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// Read consumes chunks until the end of the request header block and parses
// it. Bytes after the terminator that arrived in the same chunk are kept in
// Raw. A header block longer than maxHeaderBytes is rejected.
func Read(chunks iter.Seq2[[]byte, error], maxHeaderBytes int) (*ParsedRequest, error) {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}

	var buf []byte
	for chunk, err := range chunks {
		if err != nil {
			return nil, err
		}

		// The terminator may straddle two chunks.
		start := max(0, len(buf)-len(terminator)+1)
		buf = append(buf, chunk...)

		if i := bytes.Index(buf[start:], terminator); i >= 0 {
			end := start + i + len(terminator)
			if end > maxHeaderBytes {
				return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, end)
			}
			return Parse(buf, end)
		}
		if len(buf) >= maxHeaderBytes {
			return nil, fmt.Errorf("%w: over %d bytes", ErrHeaderTooLarge, maxHeaderBytes)
		}
	}
	return nil, fmt.Errorf("%w (%d bytes read)", ErrIncomplete, len(buf))
}

// Parse parses the header block raw[:headerLen]. raw is retained, not
// copied.
func Parse(raw []byte, headerLen int) (*ParsedRequest, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw[:headerLen])))

	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%w: request line: %v", ErrMalformed, err)
	}
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" || !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	hosts := hdr.Values("Host")
	switch len(hosts) {
	case 0:
		return nil, ErrMissingHost
	case 1:
	default:
		return nil, ErrDuplicateHost
	}

	host, port, err := SplitHost(hosts[0], targetPort(target))
	if err != nil {
		return nil, err
	}

	return &ParsedRequest{
		Method:    method,
		Target:    target,
		Proto:     proto,
		Host:      host,
		Port:      port,
		Raw:       raw,
		HeaderLen: headerLen,
	}, nil
}

// SplitHost splits a Host header value into host and port, using
// defaultPort when the value carries none. The host must be a DNS name or
// an IP literal.
func SplitHost(value string, defaultPort int) (string, int, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", 0, fmt.Errorf("%w: empty", ErrInvalidHost)
	}

	host, portStr := v, ""
	if strings.HasPrefix(v, "[") {
		i := strings.IndexByte(v, ']')
		if i < 0 {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidHost, v)
		}
		host, portStr = v[:i+1], v[i+1:]
		if portStr != "" {
			p, ok := strings.CutPrefix(portStr, ":")
			if !ok {
				return "", 0, fmt.Errorf("%w: %q", ErrInvalidHost, v)
			}
			portStr = p
		}
		if a, err := netip.ParseAddr(host[1 : len(host)-1]); err != nil || !a.Is6() {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidHost, v)
		}
	} else {
		switch strings.Count(v, ":") {
		case 0:
		case 1:
			host, portStr, _ = strings.Cut(v, ":")
		default:
			return "", 0, fmt.Errorf("%w: unbracketed IPv6 %q", ErrInvalidHost, v)
		}
		if !validHostname(host) {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidHost, v)
		}
	}

	port := defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return "", 0, fmt.Errorf("%w: bad port %q", ErrInvalidHost, portStr)
		}
		port = p
	}
	return host, port, nil
}

// targetPort returns the port of an absolute-form request target, or
// DefaultPort.
func targetPort(target string) int {
	if !strings.Contains(target, "://") {
		return DefaultPort
	}
	u, err := url.Parse(target)
	if err != nil {
		return DefaultPort
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil || p < 1 || p > 65535 {
		return DefaultPort
	}
	return p
}

// validHostname accepts dotted IPv4 literals and DNS names made of
// letters, digits, hyphens and underscores.
func validHostname(h string) bool {
	if a, err := netip.ParseAddr(h); err == nil {
		return a.Is4()
	}

	h = strings.TrimSuffix(h, ".")
	if h == "" || len(h) > 253 {
		return false
	}
	for label := range strings.SplitSeq(h, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_':
			default:
				return false
			}
		}
	}
	return true
}
