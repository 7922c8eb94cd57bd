// Package ssrfguard rejects outbound HTTP targets that resolve to
// private, loopback, or link-local addresses, per spec §4.B.
package ssrfguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrPrivateHost is returned when a hostname or resolved address falls
// inside a disallowed range.
var ErrPrivateHost = errors.New("ssrfguard: host resolves to a private or internal address")

var literalRejectSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

var literalRejectNames = map[string]bool{
	"localhost":                  true,
	"metadata.google.internal":   true,
}

// Resolver is the subset of net.Resolver used by AssertPublicHostname,
// so tests can substitute a fake without touching real DNS.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// DefaultResolver wraps net.DefaultResolver.
var DefaultResolver Resolver = net.DefaultResolver

// AssertPublicHostname implements spec §4.B: normalize, reject known
// internal literal names, reject IP-literal hosts in private ranges, and
// otherwise resolve via DNS and reject if any resolved address is
// private.
func AssertPublicHostname(ctx context.Context, host string, resolver Resolver) error {
	normalized := normalizeHost(host)

	if literalRejectNames[normalized] {
		return fmt.Errorf("%w: %s", ErrPrivateHost, host)
	}
	for _, suffix := range literalRejectSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return fmt.Errorf("%w: %s", ErrPrivateHost, host)
		}
	}

	if addr, err := netip.ParseAddr(normalized); err == nil {
		if isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s", ErrPrivateHost, host)
		}
		return nil
	}

	if resolver == nil {
		resolver = DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, normalized)
	if err != nil {
		return fmt.Errorf("ssrfguard: resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("ssrfguard: no addresses for %s", host)
	}
	for _, a := range addrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if isPrivateAddr(addr) {
			return fmt.Errorf("%w: %s resolved to %s", ErrPrivateHost, host, addr)
		}
	}
	return nil
}

// normalizeHost lowercases, strips a trailing dot, and strips [ ] brackets
// around an IPv6 literal.
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

var privatePrefixes = mustParsePrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"fec0::/10",
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

// isPrivateAddr checks an address (already IPv4-mapped-unwrapped) against
// the disallowed ranges from spec §4.B, plus the IPv6 unspecified address.
func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Addr().Is4() != addr.Is4() {
			continue
		}
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
