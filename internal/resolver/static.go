package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// ErrNotMapped is returned by Static for hosts it has no entry for.
var ErrNotMapped = errors.New("host not mapped")

// Static answers from a fixed host table, like an /etc/hosts override.
// Host names match case-insensitively.
type Static map[string][]netip.Addr

// ParseMapping parses "host=addr[,addr...]" into the table.
func (s Static) ParseMapping(m string) error {
	host, list, ok := strings.Cut(m, "=")
	host = strings.TrimSpace(host)
	if !ok || host == "" || list == "" {
		return fmt.Errorf("invalid mapping %q: expected host=addr[,addr]", m)
	}

	var addrs []netip.Addr
	for _, a := range strings.Split(list, ",") {
		addr, ok := ParseLiteral(strings.TrimSpace(a))
		if !ok {
			return fmt.Errorf("invalid mapping %q: bad address %q", m, a)
		}
		addrs = append(addrs, addr)
	}

	key := strings.ToLower(host)
	s[key] = append(s[key], addrs...)
	return nil
}

func (s Static) LookupHost(_ context.Context, host string) ([]netip.Addr, error) {
	addrs, ok := s[strings.ToLower(host)]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNotMapped)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", host, ErrNoAddresses)
	}
	return append([]netip.Addr(nil), addrs...), nil
}
