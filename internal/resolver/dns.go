package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNS resolves by querying a single recursive DNS server directly, A records
// first and then AAAA, each in answer order.
type DNS struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
}

// NewDNS returns a resolver that queries server (host:port).
func NewDNS(server string, timeout time.Duration) *DNS {
	return &DNS{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

func (d *DNS) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := ParseLiteral(host); ok {
		return []netip.Addr{addr}, nil
	}

	var (
		out     []netip.Addr
		lastErr error
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := d.query(ctx, host, qtype)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lookup %s: %w", host, ctx.Err())
			}
			lastErr = err
			continue
		}
		out = append(out, addrs...)
	}

	if len(out) == 0 {
		if lastErr == nil {
			lastErr = ErrNoAddresses
		}
		return nil, fmt.Errorf("lookup %s: %w", host, lastErr)
	}
	return out, nil
}

var errNXDomain = errors.New("no such host")

func (d *DNS) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	in, _, err := d.udp.ExchangeContext(ctx, m, d.server)
	if err == nil && in.Truncated {
		in, _, err = d.tcp.ExchangeContext(ctx, m, d.server)
	}
	if err != nil {
		return nil, fmt.Errorf("dns %s %s: %w", dns.TypeToString[qtype], d.server, err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, errNXDomain
	default:
		return nil, fmt.Errorf("dns %s %s: %s", dns.TypeToString[qtype], d.server, dns.RcodeToString[in.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if a, ok := netip.AddrFromSlice(v.A.To4()); ok {
				addrs = append(addrs, a)
			}
		case *dns.AAAA:
			if a, ok := netip.AddrFromSlice(v.AAAA.To16()); ok {
				addrs = append(addrs, a.Unmap())
			}
		}
	}
	return addrs, nil
}
