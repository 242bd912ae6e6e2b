package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies why a pipeline failed.
type Kind int

const (
	KindNone Kind = iota
	KindMalformedRequest
	KindResolution
	KindUpstreamConnect
	KindForward
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformedRequest:
		return "malformed_request"
	case KindResolution:
		return "resolution"
	case KindUpstreamConnect:
		return "upstream_connect"
	case KindForward:
		return "forward"
	default:
		return "unknown"
	}
}

// KindOf returns the Kind of the first pipeline error in err's chain.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindNone
}

// MalformedRequestError is returned when no usable request header block
// could be read from the client.
type MalformedRequestError struct {
	Err error
}

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed request: %v", e.Err)
}

func (e *MalformedRequestError) Unwrap() error { return e.Err }
func (e *MalformedRequestError) Kind() Kind    { return KindMalformedRequest }

// ResolutionError is returned when the destination host resolved to nothing.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
func (e *ResolutionError) Kind() Kind    { return KindResolution }

// UpstreamConnectError is returned when no resolved address accepted a
// connection.
type UpstreamConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("connect upstream %s port %d: %v", e.Host, e.Port, e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }
func (e *UpstreamConnectError) Kind() Kind    { return KindUpstreamConnect }

// ForwardError is returned when the request could not be sent upstream.
type ForwardError struct {
	Err error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward request: %v", e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }
func (e *ForwardError) Kind() Kind    { return KindForward }
