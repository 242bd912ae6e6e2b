package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrNoAddresses is returned when a lookup succeeds but yields no usable
// records.
var ErrNoAddresses = errors.New("no addresses")

// Resolver turns a host name into an ordered list of addresses.
//
// Implementations must be deterministic for a given answer: the order of
// the returned slice is the order in which callers attempt to connect.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// ParseLiteral returns the address for an IP literal host, including the
// bracketed IPv6 form used in Host headers.
func ParseLiteral(host string) (netip.Addr, bool) {
	h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	addr, err := netip.ParseAddr(h)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// System resolves through a net.Resolver.
type System struct {
	Resolver *net.Resolver
}

// NewSystem returns a resolver backed by the pure Go resolver.
func NewSystem() *System {
	return &System{Resolver: &net.Resolver{PreferGo: true}}
}

func (s *System) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := ParseLiteral(host); ok {
		return []netip.Addr{addr}, nil
	}

	r := s.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddresses)
	}

	out := make([]netip.Addr, len(addrs))
	for i, a := range addrs {
		out[i] = a.Unmap()
	}
	return out, nil
}

// Chain consults each resolver in order, returning the first answer.
// A resolver reporting ErrNotMapped is skipped; any other error ends the
// lookup.
type Chain []Resolver

func (c Chain) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	for _, r := range c {
		addrs, err := r.LookupHost(ctx, host)
		if errors.Is(err, ErrNotMapped) {
			continue
		}
		return addrs, err
	}
	return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddresses)
}
